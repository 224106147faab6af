// Package dictpress compresses source trees by replacing frequent substrings
// with short reserved tokens and running a general-purpose codec over the
// result.
//
// Compress walks a directory and returns an Archive; Archive.Restore and
// Verify turn it back into the original files and check them against the
// embedded manifest.
package dictpress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/seiflotfy/dictpress/codec"
	"github.com/seiflotfy/dictpress/config"
	"github.com/seiflotfy/dictpress/dictionary"
	"github.com/seiflotfy/dictpress/discovery"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/integrity"
	"github.com/seiflotfy/dictpress/pipeline"
	"github.com/seiflotfy/dictpress/replacer"
)

// Option configures Compress.
type Option = config.Option

// Compress runs the whole pipeline over the directory tree at root.
func Compress(ctx context.Context, root string, opts ...Option) (*Archive, *pipeline.Stats, error) {
	cfg := config.New(opts...)
	src := discovery.NewDir(root, int(cfg.BufferSize.Bytes()), int64(cfg.MmapThreshold.Bytes()))
	return CompressSource(ctx, src, opts...)
}

// CompressSource runs the whole pipeline over src.
func CompressSource(ctx context.Context, src discovery.Source, opts ...Option) (*Archive, *pipeline.Stats, error) {
	res, err := pipeline.Run(ctx, src, config.New(opts...))
	if err != nil {
		return nil, nil, err
	}
	return NewArchive(res), &res.Stats, nil
}

// Dict rebuilds the archive's dictionary.
func (a *Archive) Dict() (*dictionary.Dictionary, error) {
	return dictionary.FromEntries(a.Dictionary)
}

// Restore decodes every file in the archive.
func (a *Archive) Restore() ([]integrity.File, error) {
	return a.RestoreContext(context.Background(), 0)
}

// RestoreContext decodes every file using up to threads workers, 0 meaning
// GOMAXPROCS.
func (a *Archive) RestoreContext(ctx context.Context, threads int) ([]integrity.File, error) {
	dict, err := a.Dict()
	if err != nil {
		return nil, err
	}
	r := replacer.New(dict)

	var c codec.Codec
	if a.Codec != "" {
		if c, err = codec.Lookup(a.Codec); err != nil {
			return nil, err
		}
	}

	out := make([]integrity.File, len(a.Files))
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i, f := range a.Files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := f.Restore(r, c)
			if err != nil {
				return err
			}
			if len(b) != f.OriginalSize {
				return &errs.Error{Kind: errs.KindIntegrityCheck, Op: "restore", Path: f.Path, Err: fmt.Errorf("restored %d bytes, want %d", len(b), f.OriginalSize)}
			}
			out[i] = integrity.File{Path: f.Path, Content: b}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify restores the archive and reconciles the result against its
// manifest. The returned mismatches are empty when everything matches.
func (a *Archive) Verify() ([]integrity.Mismatch, error) {
	const op = "verify"
	if a.Manifest == "" {
		return nil, errs.Newf(errs.KindIntegrityCheck, op, "archive has no manifest")
	}
	v := integrity.New(false)
	if err := v.ParseManifest(a.Manifest); err != nil {
		return nil, err
	}
	dict, err := a.Dict()
	if err != nil {
		return nil, err
	}
	if ok, err := v.VerifyDictionary(dict); err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Newf(errs.KindIntegrityCheck, op, "dictionary hash %s does not match manifest %s", dict.Hash(), v.DictionaryHash())
	}
	files, err := a.Restore()
	if err != nil {
		return nil, err
	}
	return v.Reconcile(files), nil
}

// WriteFiles writes restored files below dir, creating directories as
// needed. Paths escaping dir are rejected.
func WriteFiles(dir string, files []integrity.File) error {
	for _, f := range files {
		rel := filepath.FromSlash(f.Path)
		if !filepath.IsLocal(rel) {
			return errs.File("write", f.Path, errors.New("path escapes output directory"))
		}
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return errs.File("write", f.Path, err)
		}
		if err := os.WriteFile(full, f.Content, 0o644); err != nil {
			return errs.File("write", f.Path, err)
		}
	}
	return nil
}
