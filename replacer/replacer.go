// Package replacer rewrites text with a finished dictionary.
//
// Patterns are applied longest first (ties broken lexicographically), each as
// a global left-to-right substitution over the partially rewritten text. The
// longer, more specific pattern therefore always wins over any shorter
// pattern it contains or overlaps.
package replacer

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/seiflotfy/dictpress/dictionary"
)

// Replacer applies a dictionary to text. It is safe for concurrent use.
type Replacer struct {
	patterns []string
	tokens   []string
	cache    *lru.Cache[uint64, cached]
}

type cached struct {
	src string
	out string
}

// Option configures a Replacer.
type Option func(*Replacer)

// WithCache memoises up to n replacement results keyed by content hash, so
// identical inputs are rewritten once. n <= 0 disables the cache.
func WithCache(n int) Option {
	return func(r *Replacer) {
		if n <= 0 {
			r.cache = nil
			return
		}
		c, err := lru.New[uint64, cached](n)
		if err != nil {
			return
		}
		r.cache = c
	}
}

// New builds a replacer for dict. The pattern order is fixed here, once.
func New(dict *dictionary.Dictionary, opts ...Option) *Replacer {
	list := dict.Entries()
	slices.SortFunc(list, func(x, y dictionary.Entry) int {
		if c := cmp.Compare(utf8.RuneCountInString(y.Pattern), utf8.RuneCountInString(x.Pattern)); c != 0 {
			return c
		}
		return strings.Compare(x.Pattern, y.Pattern)
	})

	r := &Replacer{
		patterns: make([]string, len(list)),
		tokens:   make([]string, len(list)),
	}
	for i, e := range list {
		r.patterns[i] = e.Pattern
		r.tokens[i] = e.Token
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the number of patterns.
func (r *Replacer) Len() int {
	return len(r.patterns)
}

// Patterns returns the patterns in application order.
func (r *Replacer) Patterns() []string {
	return slices.Clone(r.patterns)
}

// Replace substitutes every dictionary pattern in content with its token.
func (r *Replacer) Replace(content string) string {
	if content == "" || len(r.patterns) == 0 {
		return content
	}

	var key uint64
	if r.cache != nil {
		key = xxhash.Sum64String(content)
		if c, ok := r.cache.Get(key); ok && c.src == content {
			return c.out
		}
	}

	out := content
	for i, p := range r.patterns {
		out = replaceAll(out, p, r.tokens[i])
	}

	if r.cache != nil {
		r.cache.Add(key, cached{src: content, out: out})
	}
	return out
}

// Expand undoes Replace by substituting tokens back in reverse application
// order. Expand(Replace(s)) == s whenever s contains no literal token of the
// dictionary.
func (r *Replacer) Expand(content string) string {
	if content == "" || len(r.tokens) == 0 {
		return content
	}
	out := content
	for i := len(r.tokens) - 1; i >= 0; i-- {
		out = replaceAll(out, r.tokens[i], r.patterns[i])
	}
	return out
}

// replaceAll is strings.ReplaceAll that only allocates once old is found.
func replaceAll(s, old, repl string) string {
	i := strings.Index(s, old)
	if i < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i >= 0 {
		b.WriteString(s[:i])
		b.WriteString(repl)
		s = s[i+len(old):]
		i = strings.Index(s, old)
	}
	b.WriteString(s)
	return b.String()
}

// CompressionRatio is len(compressed)/len(original) in bytes. An empty
// original gives 0 when compressed is empty too, +Inf otherwise.
func CompressionRatio(original, compressed string) float64 {
	if len(original) == 0 {
		if len(compressed) == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(len(compressed)) / float64(len(original))
}
