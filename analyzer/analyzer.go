// Package analyzer counts repeated substrings ("patterns") in text.
//
// Every window of MinLength..50 runes is visited, one rune at a time, and
// counted under its exact content when it passes the window filter. The scan
// is a deliberate superset: overlapping windows of every length are counted,
// so both short and long repeated idioms surface. Analyzer is the sequential
// variant; Concurrent accepts updates from many goroutines.
package analyzer

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"
)

// PatternFrequency is a pattern together with its occurrence count.
type PatternFrequency struct {
	Pattern   string
	Frequency uint64
}

// Local is a per-worker frequency table, folded into a Concurrent analyzer
// with Merge.
type Local map[string]uint64

// Add counts one occurrence of p. Keys are cloned on first insertion so the
// table does not pin the scanned content.
func (l Local) Add(p string) {
	if n, ok := l[p]; ok {
		l[p] = n + 1
		return
	}
	l[strings.Clone(p)] = 1
}

// Scan counts the eligible windows starting in content[start:end).
func (l Local) Scan(content string, start, end, minLen int) {
	ForEachWindow(content, start, end, minLen, l.Add)
}

// Analyzer is the single-goroutine frequency analyzer.
type Analyzer struct {
	minLen  int
	minFreq uint64
	counts  Local
}

// New creates an analyzer. minLen is the minimum pattern length in runes and
// minFreq the minimum frequency for a pattern to be reported.
func New(minLen, minFreq int) *Analyzer {
	return &Analyzer{
		minLen:  minLen,
		minFreq: uint64(max(minFreq, 0)),
		counts:  make(Local),
	}
}

// Analyze accumulates the windows of content into the table.
func (a *Analyzer) Analyze(content string) {
	a.counts.Scan(content, 0, len(content), a.minLen)
}

// AnalyzeChunked is Analyze done in ranges of about chunkSize bytes.
func (a *Analyzer) AnalyzeChunked(content string, chunkSize int) {
	for _, r := range Chunks(content, chunkSize) {
		a.counts.Scan(content, r[0], r[1], a.minLen)
	}
}

// Frequency returns the count recorded for p.
func (a *Analyzer) Frequency(p string) uint64 {
	return a.counts[p]
}

// Len returns the number of distinct patterns seen, frequent or not.
func (a *Analyzer) Len() int {
	return len(a.counts)
}

// Reset drops all counts.
func (a *Analyzer) Reset() {
	clear(a.counts)
}

// ShouldCompress reports whether p is long and frequent enough to be given a token.
func (a *Analyzer) ShouldCompress(p string) bool {
	return shouldCompress(p, a.counts[p], a.minLen, a.minFreq)
}

// FrequentPatterns returns every pattern at or above the frequency threshold,
// ordered by frequency (desc), length (desc) then content (asc).
func (a *Analyzer) FrequentPatterns() []PatternFrequency {
	out := make([]PatternFrequency, 0, len(a.counts)/4)
	for p, n := range a.counts {
		if shouldCompress(p, n, a.minLen, a.minFreq) {
			out = append(out, PatternFrequency{Pattern: p, Frequency: n})
		}
	}
	SortPatterns(out)
	return out
}

func shouldCompress(p string, n uint64, minLen int, minFreq uint64) bool {
	return n >= minFreq && n > 0 && utf8.RuneCountInString(p) >= minLen
}

// SortPatterns orders ps by frequency (desc), rune length (desc) then
// lexicographically (asc). The order is total, so results are deterministic.
func SortPatterns(ps []PatternFrequency) {
	slices.SortFunc(ps, func(x, y PatternFrequency) int {
		if c := cmp.Compare(y.Frequency, x.Frequency); c != 0 {
			return c
		}
		if c := cmp.Compare(utf8.RuneCountInString(y.Pattern), utf8.RuneCountInString(x.Pattern)); c != 0 {
			return c
		}
		return strings.Compare(x.Pattern, y.Pattern)
	})
}
