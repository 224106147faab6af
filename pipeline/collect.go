package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/c2h5oh/datasize"

	"github.com/seiflotfy/dictpress/config"
	"github.com/seiflotfy/dictpress/discovery"
	"github.com/seiflotfy/dictpress/errs"
)

// SkippedFile is a file left out of a run because it could not be read or
// its path cannot be recorded in the manifest.
type SkippedFile struct {
	Path string
	Err  error
}

type corpus struct {
	files     []discovery.File
	skipped   []SkippedFile
	truncated bool
	size      datasize.ByteSize
}

func (c *corpus) textFiles() int {
	n := 0
	for _, f := range c.files {
		if f.IsText {
			n++
		}
	}
	return n
}

var (
	errLimitReached  = errors.New("collection limit reached")
	errPathLineBreak = errors.New("path contains a line break")
)

// collect reads files from src until MaxFiles or MaxTotalSize is reached.
// Unreadable files and paths with line breaks are recorded as skipped.
func collect(ctx context.Context, src discovery.Source, cfg config.Config, phase string) (*corpus, error) {
	logger := cfg.Log()
	c := &corpus{}
	err := src.Walk(ctx, func(f discovery.File) error {
		if f.Err != nil {
			logger.Warn("["+phase+"] skipping unreadable file", "path", f.Path, "err", f.Err)
			c.skipped = append(c.skipped, SkippedFile{Path: f.Path, Err: f.Err})
			return nil
		}
		if strings.ContainsAny(f.Path, "\r\n") {
			err := errs.File(phase, f.Path, errPathLineBreak)
			logger.Warn("["+phase+"] skipping file, path not representable in manifest", "path", f.Path)
			c.skipped = append(c.skipped, SkippedFile{Path: f.Path, Err: err})
			return nil
		}
		if len(c.files) >= cfg.MaxFiles {
			logger.Warn("["+phase+"] file limit reached, collection truncated", "limit", cfg.MaxFiles, "next", f.Path)
			c.truncated = true
			return errLimitReached
		}
		size := datasize.ByteSize(len(f.Content))
		if c.size+size > cfg.MaxTotalSize {
			logger.Warn("["+phase+"] size limit reached, collection truncated", "limit", cfg.MaxTotalSize.HR(), "next", f.Path)
			c.truncated = true
			return errLimitReached
		}
		c.size += size
		c.files = append(c.files, f)
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return nil, err
	}
	logger.Info("["+phase+"] collected", "files", len(c.files), "text", c.textFiles(), "skipped", len(c.skipped), "size", c.size.HR())
	return c, nil
}
