package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sync/errgroup"

	"github.com/seiflotfy/dictpress/codec"
	"github.com/seiflotfy/dictpress/dictionary"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/integrity"
	"github.com/seiflotfy/dictpress/replacer"
	"github.com/seiflotfy/dictpress/token"
)

// FileEntry is one compressed file.
type FileEntry struct {
	Path         string
	OriginalSize int
	ReplacedSize int    // size after substitution, before the final codec
	Payload      []byte // stored bytes
	Raw          bool   // no substitution was applied
	Encoded      bool   // Payload went through the final codec
}

// Restore turns the entry back into the original content. c may be nil when
// the entry is not encoded.
func (e *FileEntry) Restore(r *replacer.Replacer, c codec.Codec) ([]byte, error) {
	payload := e.Payload
	if e.Encoded {
		if c == nil {
			return nil, &errs.Error{Kind: errs.KindFinalCodec, Op: "restore", Path: e.Path, Err: errs.ErrFinalCodec}
		}
		out, err := c.Decompress(payload, e.ReplacedSize)
		if err != nil {
			return nil, &errs.Error{Kind: errs.KindFinalCodec, Op: "restore", Path: e.Path, Err: err}
		}
		payload = out
	}
	if e.Raw {
		return payload, nil
	}
	return []byte(r.Expand(string(payload))), nil
}

// Stats aggregates a compression run.
type Stats struct {
	Files       int
	TextFiles   int
	BinaryFiles int
	RawFiles    int // text files stored without substitution
	Unverified  int // text files whose round trip failed
	Skipped     int

	OriginalSize datasize.ByteSize
	ReplacedSize datasize.ByteSize
	FinalSize    datasize.ByteSize

	Patterns       int // frequent patterns found by analysis
	DictionarySize int
	Duration       time.Duration
}

// Ratio is FinalSize / OriginalSize, 0 for an empty corpus.
func (s Stats) Ratio() float64 {
	if s.OriginalSize == 0 {
		return 0
	}
	return float64(s.FinalSize) / float64(s.OriginalSize)
}

// ReplacementRatio is ReplacedSize / OriginalSize, 0 for an empty corpus.
func (s Stats) ReplacementRatio() float64 {
	if s.OriginalSize == 0 {
		return 0
	}
	return float64(s.ReplacedSize) / float64(s.OriginalSize)
}

// Result is the output of Ready.Compress.
type Result struct {
	Entries    []*FileEntry
	Dictionary *dictionary.Dictionary
	Codec      string // empty when final compression is off
	Level      int
	Manifest   string
	Stats      Stats
	Skipped    []SkippedFile
	Truncated  bool
}

// Compress re-collects the corpus and compresses every file. Files are
// processed concurrently; the entry order follows collection order.
func (s *Ready) Compress(ctx context.Context) (*Result, error) {
	const op = "compress"
	if s == nil {
		return nil, outOfOrder(op)
	}
	logger := s.cfg.Log()
	start := time.Now()

	c, err := collect(ctx, s.src, s.cfg, op)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Entries:    make([]*FileEntry, len(c.files)),
		Dictionary: s.dict,
		Skipped:    c.skipped,
		Truncated:  c.truncated,
	}
	if s.codec != nil {
		res.Codec = s.codec.Name()
		res.Level = s.cfg.CompressionLevel
	}

	var (
		mu    sync.Mutex
		stats = Stats{
			Files:          len(c.files),
			Skipped:        len(c.skipped),
			Patterns:       s.patterns,
			DictionarySize: s.dict.Len(),
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads(s.cfg))
	for i, f := range c.files {
		i, f := i, f
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, outcome, err := s.compressFile(f.Path, f.Content, f.IsText)
			if err != nil {
				return err
			}
			res.Entries[i] = e

			mu.Lock()
			defer mu.Unlock()
			stats.OriginalSize += datasize.ByteSize(e.OriginalSize)
			stats.ReplacedSize += datasize.ByteSize(e.ReplacedSize)
			stats.FinalSize += datasize.ByteSize(len(e.Payload))
			switch outcome {
			case outcomeBinary:
				stats.BinaryFiles++
			case outcomeReplaced:
				stats.TextFiles++
			case outcomeCollision:
				stats.TextFiles++
				stats.RawFiles++
			case outcomeUnverified:
				stats.TextFiles++
				stats.RawFiles++
				stats.Unverified++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.New(errs.KindPatternReplacement, op, err)
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.KindPatternReplacement, op, err)
	}

	files := make([]integrity.File, len(c.files))
	for i, f := range c.files {
		files[i] = integrity.File{Path: f.Path, Content: f.Content}
	}
	manifest, err := integrity.New(s.cfg.FastChecksum).GenerateManifest(files, s.dict)
	if err != nil {
		return nil, err
	}
	res.Manifest = manifest

	stats.Duration = time.Since(start)
	res.Stats = stats
	logger.Info("[compress] done",
		"files", stats.Files, "raw", stats.RawFiles, "binary", stats.BinaryFiles, "skipped", stats.Skipped,
		"original", stats.OriginalSize.HR(), "replaced", stats.ReplacedSize.HR(), "final", stats.FinalSize.HR(),
		"ratio", stats.Ratio(), "took", stats.Duration)
	return res, nil
}

type outcome uint8

const (
	outcomeBinary outcome = iota
	outcomeReplaced
	outcomeCollision
	outcomeUnverified
)

func (s *Ready) compressFile(path string, content []byte, isText bool) (*FileEntry, outcome, error) {
	e := &FileEntry{Path: path, OriginalSize: len(content), Raw: true}
	payload := content
	result := outcomeBinary

	if isText {
		text := string(content)
		switch {
		case s.collides(text):
			result = outcomeCollision
			s.cfg.Log().Debug("[compress] stored raw, token literal in content", "path", path)
		default:
			out := s.replacer.Replace(text)
			if s.cfg.VerifyRoundTrip && s.replacer.Expand(out) != text {
				result = outcomeUnverified
				s.cfg.Log().Warn("[compress] round trip mismatch, stored raw", "path", path)
				break
			}
			result = outcomeReplaced
			payload = []byte(out)
			e.Raw = false
		}
	}
	e.ReplacedSize = len(payload)

	if s.codec == nil {
		e.Payload = payload
		return e, result, nil
	}
	enc, err := s.codec.Compress(payload, s.cfg.CompressionLevel)
	if err != nil {
		return nil, result, &errs.Error{Kind: errs.KindFinalCodec, Op: "compress", Path: path, Err: err}
	}
	e.Payload = enc
	e.Encoded = true
	return e, result, nil
}

// collides reports whether text holds a literal token of the dictionary.
func (s *Ready) collides(text string) bool {
	if !strings.ContainsRune(text, token.Prefix) {
		return false
	}
	for _, t := range token.FindAll(text) {
		if _, ok := s.dict.Pattern(t); ok {
			return true
		}
	}
	return false
}
