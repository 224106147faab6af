package analyzer

import (
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Concurrent is a frequency analyzer safe for use by many goroutines.
//
// Counters live in a concurrent map of atomically incremented values: lookups
// of existing patterns take no lock and increments never lose updates, so the
// final counts are the exact sum of all observations in any interleaving.
type Concurrent struct {
	minLen  int
	minFreq uint64
	counts  *xsync.MapOf[string, *atomic.Uint64]
}

// NewConcurrent creates a concurrent analyzer with the same thresholds as New.
func NewConcurrent(minLen, minFreq int) *Concurrent {
	return &Concurrent{
		minLen:  minLen,
		minFreq: uint64(max(minFreq, 0)),
		counts:  xsync.NewMapOf[string, *atomic.Uint64](),
	}
}

// Increment adds delta to the count of p.
func (c *Concurrent) Increment(p string, delta uint64) {
	if ctr, ok := c.counts.Load(p); ok {
		ctr.Add(delta)
		return
	}
	ctr, _ := c.counts.LoadOrStore(strings.Clone(p), new(atomic.Uint64))
	ctr.Add(delta)
}

// Analyze accumulates the windows of content directly into the shared table.
func (c *Concurrent) Analyze(content string) {
	c.AnalyzeRange(content, 0, len(content))
}

// AnalyzeRange accumulates the windows starting in content[start:end).
func (c *Concurrent) AnalyzeRange(content string, start, end int) {
	ForEachWindow(content, start, end, c.minLen, func(p string) {
		c.Increment(p, 1)
	})
}

// Merge folds a pre-aggregated local table into the shared one.
func (c *Concurrent) Merge(local Local) {
	for p, n := range local {
		if n == 0 {
			continue
		}
		if ctr, ok := c.counts.Load(p); ok {
			ctr.Add(n)
			continue
		}
		ctr, _ := c.counts.LoadOrStore(p, new(atomic.Uint64))
		ctr.Add(n)
	}
}

// Frequency returns the current count of p.
func (c *Concurrent) Frequency(p string) uint64 {
	if ctr, ok := c.counts.Load(p); ok {
		return ctr.Load()
	}
	return 0
}

// Len returns the number of distinct patterns seen.
func (c *Concurrent) Len() int {
	return c.counts.Size()
}

// ShouldCompress reports whether p is long and frequent enough to be given a token.
func (c *Concurrent) ShouldCompress(p string) bool {
	return shouldCompress(p, c.Frequency(p), c.minLen, c.minFreq)
}

// FrequentPatterns snapshots the table. It must not race with writers if an
// exact result is needed.
func (c *Concurrent) FrequentPatterns() []PatternFrequency {
	var out []PatternFrequency
	c.counts.Range(func(p string, ctr *atomic.Uint64) bool {
		if n := ctr.Load(); shouldCompress(p, n, c.minLen, c.minFreq) {
			out = append(out, PatternFrequency{Pattern: p, Frequency: n})
		}
		return true
	})
	SortPatterns(out)
	return out
}
