package pipeline

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seiflotfy/dictpress/analyzer"
	"github.com/seiflotfy/dictpress/config"
	"github.com/seiflotfy/dictpress/discovery"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/token"
)

// Analyzed holds the frequent patterns of the collected corpus.
type Analyzed struct {
	guard
	src discovery.Source
	cfg config.Config

	patterns  []analyzer.PatternFrequency
	distinct  int
	files     int
	textFiles int
	skipped   []SkippedFile
	truncated bool
	literals  map[string][]string // token-shaped literals found in the corpus -> paths
}

// Analyze collects the corpus and counts patterns across all text files.
// It fails when no collected file is text.
func (s *Configured) Analyze(ctx context.Context) (*Analyzed, error) {
	const op = "analyze"
	if s == nil {
		return nil, outOfOrder(op)
	}
	var next *Analyzed
	err := s.once(op, func() error {
		a, err := analyze(ctx, s.src, s.cfg)
		if err != nil {
			return err
		}
		next = a
		return nil
	})
	return next, err
}

func analyze(ctx context.Context, src discovery.Source, cfg config.Config) (*Analyzed, error) {
	const op = "analyze"
	logger := cfg.Log()
	start := time.Now()

	c, err := collect(ctx, src, cfg, op)
	if err != nil {
		return nil, errs.New(errs.KindPatternAnalysis, op, err)
	}
	text := c.textFiles()
	if text == 0 {
		return nil, errs.Newf(errs.KindPatternAnalysis, op, "no text-readable files among %d collected", len(c.files))
	}

	freq := analyzer.NewConcurrent(cfg.MinPatternLength, cfg.MinFrequency)
	literals := make([][]string, len(c.files))
	chunkSize := int(cfg.ChunkSize.Bytes())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads(cfg))
	for i, f := range c.files {
		if !f.IsText {
			continue
		}
		content := string(f.Content)
		if strings.ContainsRune(content, token.Prefix) {
			literals[i] = token.FindAll(content)
		}
		for _, r := range analyzer.Chunks(content, chunkSize) {
			r := r
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				local := make(analyzer.Local)
				local.Scan(content, r[0], r[1], cfg.MinPatternLength)
				freq.Merge(local)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, errs.New(errs.KindPatternAnalysis, op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.KindPatternAnalysis, op, err)
	}

	a := &Analyzed{
		src:       src,
		cfg:       cfg,
		patterns:  freq.FrequentPatterns(),
		distinct:  freq.Len(),
		files:     len(c.files),
		textFiles: text,
		skipped:   c.skipped,
		truncated: c.truncated,
		literals:  make(map[string][]string),
	}
	for i, lits := range literals {
		for _, t := range lits {
			paths := a.literals[t]
			if n := len(paths); n == 0 || paths[n-1] != c.files[i].Path {
				a.literals[t] = append(paths, c.files[i].Path)
			}
		}
	}
	logger.Info("[analyze] done", "files", a.files, "text", text, "distinct", a.distinct, "frequent", len(a.patterns), "took", time.Since(start))
	return a, nil
}

// Patterns returns the frequent patterns, most frequent first.
func (s *Analyzed) Patterns() []analyzer.PatternFrequency {
	return slices.Clone(s.patterns)
}

// Files returns the number of collected files and how many of them are text.
func (s *Analyzed) Files() (total, text int) {
	return s.files, s.textFiles
}

// Skipped returns the files that could not be read.
func (s *Analyzed) Skipped() []SkippedFile {
	return slices.Clone(s.skipped)
}

// Truncated reports whether collection stopped at a limit.
func (s *Analyzed) Truncated() bool { return s.truncated }

// Literals returns the token-shaped strings that occur verbatim in the corpus,
// sorted.
func (s *Analyzed) Literals() []string {
	out := make([]string, 0, len(s.literals))
	for t := range s.literals {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
