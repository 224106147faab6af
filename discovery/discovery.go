// Package discovery enumerates the files a compression run works on.
package discovery

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/edsrzf/mmap-go"

	"github.com/seiflotfy/dictpress/errs"
)

// sniffLen is how much of a file is inspected for NUL bytes.
const sniffLen = 8 * 1024

// File is one discovered file. Err is set when the file could not be read, in
// which case Content is nil and IsText false.
type File struct {
	Path    string // slash-separated, relative to the source root
	Content []byte
	IsText  bool
	Err     error
}

// Source enumerates files. Walk calls fn for every file in path order and
// stops at the first error fn returns.
type Source interface {
	Walk(ctx context.Context, fn func(File) error) error
}

// IsText reports whether b looks like text: valid UTF-8 with no NUL byte in
// the first 8KB.
func IsText(b []byte) bool {
	if bytes.IndexByte(b[:min(len(b), sniffLen)], 0) >= 0 {
		return false
	}
	return utf8.Valid(b)
}

// SkipDirs are directory names never descended into.
var SkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// Dir walks a directory tree.
type Dir struct {
	Root          string
	BufferSize    int   // read buffer for regular reads
	MmapThreshold int64 // files at least this large are memory-mapped, 0 disables
}

// NewDir creates a directory source.
func NewDir(root string, bufferSize int, mmapThreshold int64) *Dir {
	return &Dir{Root: root, BufferSize: bufferSize, MmapThreshold: mmapThreshold}
}

// Walk calls fn for every regular file below Root, skipping SkipDirs.
func (d *Dir) Walk(ctx context.Context, fn func(File) error) error {
	info, err := os.Stat(d.Root)
	if err != nil {
		return errs.File("walk", d.Root, err)
	}
	if !info.IsDir() {
		return errs.File("walk", d.Root, fs.ErrInvalid)
	}

	return filepath.WalkDir(d.Root, func(path string, de fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel := d.rel(path)
		if err != nil {
			if de != nil && de.IsDir() && path == d.Root {
				return errs.File("walk", d.Root, err)
			}
			return fn(File{Path: rel, Err: errs.File("walk", rel, err)})
		}
		if de.IsDir() {
			if path != d.Root && SkipDirs[de.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}

		content, err := d.read(path)
		if err != nil {
			return fn(File{Path: rel, Err: errs.File("read", rel, err)})
		}
		return fn(File{Path: rel, Content: content, IsText: IsText(content)})
	})
}

func (d *Dir) rel(path string) string {
	rel, err := filepath.Rel(d.Root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func (d *Dir) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return []byte{}, nil
	}
	if d.MmapThreshold > 0 && st.Size() >= d.MmapThreshold {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			return nil, err
		}
		out := bytes.Clone(m)
		if err := m.Unmap(); err != nil {
			return nil, err
		}
		return out, nil
	}

	r := bufio.NewReaderSize(f, max(d.BufferSize, 4096))
	buf := bytes.NewBuffer(make([]byte, 0, st.Size()))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Memory is an in-memory source keyed by path.
type Memory map[string][]byte

// Walk calls fn for every entry in path order.
func (m Memory) Walk(ctx context.Context, fn func(File) error) error {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := m[p]
		if err := fn(File{Path: p, Content: b, IsText: IsText(b)}); err != nil {
			return err
		}
	}
	return nil
}
