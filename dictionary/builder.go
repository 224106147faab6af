// Package dictionary builds the bijective pattern↔token mapping.
//
// Patterns are assigned tokens in order of decreasing frequency so the most
// frequent patterns get the earliest tokens. A Builder is filled once; Freeze
// turns it into an immutable Dictionary that replacement and integrity
// checking read from concurrently.
package dictionary

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/seiflotfy/dictpress/analyzer"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/token"
)

// Entry is one pattern and the token that replaces it.
type Entry struct {
	Pattern string
	Token   string
}

// ErrBuilderFailed is returned by Build after a previous build failed
// part-way. The builder keeps what it inserted before the failure; call
// Reset before building again.
var ErrBuilderFailed = errors.New("builder is unusable after a failed build")

// Builder assigns tokens to patterns and maintains the forward and reverse maps.
type Builder struct {
	gen     *token.Generator
	forward map[string]string // pattern -> token
	reverse map[string]string // token -> pattern
	failed  error
}

// NewBuilder creates a builder drawing tokens from gen. A nil gen gets a
// generator with the full token capacity.
func NewBuilder(gen *token.Generator) *Builder {
	if gen == nil {
		gen = token.NewGenerator(token.MaxCapacity)
	}
	return &Builder{
		gen:     gen,
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Build assigns a token to every pattern, most frequent first. Ties keep the
// input order. Empty patterns are skipped; a repeated pattern rejects the
// whole list before anything is inserted.
//
// When the token space runs out the build stops with a KindTokenOverflow
// error. Entries inserted up to that point are kept (not rolled back) and
// the builder refuses further builds until Reset.
func (b *Builder) Build(patterns []analyzer.PatternFrequency) error {
	if b.failed != nil {
		return errs.New(errs.KindDictionaryBuild, "build dictionary", fmt.Errorf("%w: %v", ErrBuilderFailed, b.failed))
	}
	if len(b.forward) > 0 {
		return errs.Newf(errs.KindDictionaryBuild, "build dictionary", "dictionary already holds %d entries", len(b.forward))
	}
	if b.forward == nil {
		b.forward = make(map[string]string, len(patterns))
		b.reverse = make(map[string]string, len(patterns))
	}
	if b.gen == nil {
		b.gen = token.NewGenerator(token.MaxCapacity)
	}

	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if p.Pattern == "" {
			continue
		}
		if _, ok := seen[p.Pattern]; ok {
			return &errs.Error{Kind: errs.KindDictionaryBuild, Op: "build dictionary", Pattern: p.Pattern, Err: errs.ErrDuplicatePattern}
		}
		seen[p.Pattern] = struct{}{}
	}

	ordered := slices.Clone(patterns)
	slices.SortStableFunc(ordered, func(x, y analyzer.PatternFrequency) int {
		return cmp.Compare(y.Frequency, x.Frequency)
	})

	for _, p := range ordered {
		if p.Pattern == "" {
			continue
		}
		tok, err := b.gen.Next()
		if err != nil {
			b.failed = err
			return &errs.Error{
				Kind:    errs.KindTokenOverflow,
				Op:      "build dictionary",
				Pattern: p.Pattern,
				Err:     fmt.Errorf("%d of %d patterns assigned: %w", len(b.forward), len(seen), err),
			}
		}
		if prev, ok := b.reverse[tok]; ok {
			b.failed = errs.ErrTokenCollision
			return &errs.Error{
				Kind:    errs.KindDictionaryBuild,
				Op:      "build dictionary",
				Pattern: p.Pattern,
				Token:   tok,
				Err:     fmt.Errorf("%w: already assigned to %q", errs.ErrTokenCollision, prev),
			}
		}
		b.forward[p.Pattern] = tok
		b.reverse[tok] = p.Pattern
	}
	return nil
}

// Reset empties the builder and rewinds its token generator.
func (b *Builder) Reset() {
	clear(b.forward)
	clear(b.reverse)
	if b.gen != nil {
		b.gen.Reset()
	}
	b.failed = nil
}

// Failed reports whether the last Build stopped part-way.
func (b *Builder) Failed() bool {
	return b.failed != nil
}

// ReplacementFor returns the token assigned to pattern.
func (b *Builder) ReplacementFor(pattern string) (string, bool) {
	t, ok := b.forward[pattern]
	return t, ok
}

// PatternFor returns the pattern a token stands for.
func (b *Builder) PatternFor(tok string) (string, bool) {
	p, ok := b.reverse[tok]
	return p, ok
}

// Len returns the number of entries.
func (b *Builder) Len() int {
	return len(b.forward)
}

// Entries returns all entries ordered by token.
func (b *Builder) Entries() []Entry {
	return entries(b.forward)
}

// Forward returns a copy of the pattern -> token map.
func (b *Builder) Forward() map[string]string {
	return cloneMap(b.forward)
}

// Reverse returns a copy of the token -> pattern map.
func (b *Builder) Reverse() map[string]string {
	return cloneMap(b.reverse)
}

// Validate checks that the maps form a bijection of non-empty patterns and
// well-formed tokens. It needs no prior Build.
func (b *Builder) Validate() error {
	return validate(b.forward, b.reverse)
}

// Freeze returns an immutable copy of the current entries. It fails if the
// builder does not validate or a build failed.
func (b *Builder) Freeze() (*Dictionary, error) {
	if b.failed != nil {
		return nil, errs.New(errs.KindDictionaryBuild, "freeze dictionary", fmt.Errorf("%w: %v", ErrBuilderFailed, b.failed))
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &Dictionary{forward: cloneMap(b.forward), reverse: cloneMap(b.reverse)}, nil
}

func validate(forward, reverse map[string]string) error {
	const op = "validate dictionary"
	if len(forward) != len(reverse) {
		return errs.Newf(errs.KindDictionaryBuild, op, "forward map has %d entries, reverse map has %d", len(forward), len(reverse))
	}
	for p, t := range forward {
		if p == "" {
			return &errs.Error{Kind: errs.KindDictionaryBuild, Op: op, Token: t, Err: errors.New("empty pattern")}
		}
		if t == "" {
			return &errs.Error{Kind: errs.KindDictionaryBuild, Op: op, Pattern: p, Err: errors.New("empty token")}
		}
		if !token.Valid(t) {
			return &errs.Error{Kind: errs.KindDictionaryBuild, Op: op, Pattern: p, Token: t, Err: errors.New("malformed token")}
		}
		if back, ok := reverse[t]; !ok || back != p {
			return &errs.Error{Kind: errs.KindDictionaryBuild, Op: op, Pattern: p, Token: t, Err: fmt.Errorf("reverse map has %q", back)}
		}
	}
	for t, p := range reverse {
		if fwd, ok := forward[p]; !ok || fwd != t {
			return &errs.Error{Kind: errs.KindDictionaryBuild, Op: op, Pattern: p, Token: t, Err: fmt.Errorf("forward map has %q", fwd)}
		}
	}
	return nil
}

func entries(forward map[string]string) []Entry {
	out := make([]Entry, 0, len(forward))
	for p, t := range forward {
		out = append(out, Entry{Pattern: p, Token: t})
	}
	slices.SortFunc(out, func(x, y Entry) int {
		return cmp.Compare(x.Token, y.Token)
	})
	return out
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
