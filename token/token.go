// Package token allocates the substitute tokens that replace patterns.
//
// A token is the reserved prefix rune followed by four uppercase hex digits,
// e.g. "§0000", "§0001", ... "§FFFF". Tokens are handed out in strictly
// increasing numeric order and never reused within one Generator run.
package token

import (
	"regexp"
	"strings"

	"github.com/seiflotfy/dictpress/errs"
)

const (
	// Prefix starts every token.
	Prefix = '§'

	// Len is the length of a token in runes.
	Len = 5

	// MaxCapacity is the largest number of tokens a Generator may hand out.
	MaxCapacity = 65535

	hexDigits = "0123456789ABCDEF"
)

// Pattern matches exactly one well-formed token.
var Pattern = regexp.MustCompile(`^§[0-9A-F]{4}$`)

var literal = regexp.MustCompile(`§[0-9A-F]{4}`)

// Format renders token number i.
func Format(i uint16) string {
	var b strings.Builder
	b.Grow(len(string(Prefix)) + 4)
	b.WriteRune(Prefix)
	b.WriteByte(hexDigits[i>>12&0xF])
	b.WriteByte(hexDigits[i>>8&0xF])
	b.WriteByte(hexDigits[i>>4&0xF])
	b.WriteByte(hexDigits[i&0xF])
	return b.String()
}

// Parse returns the number encoded by s.
func Parse(s string) (uint16, bool) {
	rest, ok := strings.CutPrefix(s, string(Prefix))
	if !ok || len(rest) != 4 {
		return 0, false
	}
	var v uint16
	for i := 0; i < 4; i++ {
		c := rest[i]
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint16(c-'0')
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint16(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}

// Valid reports whether s is a well-formed token.
func Valid(s string) bool {
	return Pattern.MatchString(s)
}

// FindAll returns every token-format literal occurring in text, in order.
func FindAll(text string) []string {
	if !strings.ContainsRune(text, Prefix) {
		return nil
	}
	return literal.FindAllString(text, -1)
}

// Generator hands out tokens in sequence until its capacity is used up.
type Generator struct {
	next     int
	capacity int
}

// NewGenerator creates a generator that yields at most capacity tokens.
// Capacity is clamped to [0, MaxCapacity].
func NewGenerator(capacity int) *Generator {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &Generator{capacity: capacity}
}

// Next returns the next token, or a KindTokenOverflow error once the
// generator is exhausted. Exhaustion is sticky until Reset.
func (g *Generator) Next() (string, error) {
	if g.next >= g.capacity {
		return "", errs.Newf(errs.KindTokenOverflow, "next token", "capacity %d reached", g.capacity)
	}
	t := Format(uint16(g.next))
	g.next++
	return t, nil
}

// Reset rewinds the generator to token 0.
func (g *Generator) Reset() {
	g.next = 0
}

// Remaining returns how many tokens can still be handed out.
func (g *Generator) Remaining() int {
	return g.capacity - g.next
}

// Capacity returns the configured capacity.
func (g *Generator) Capacity() int {
	return g.capacity
}

// Issued returns how many tokens have been handed out since the last Reset.
func (g *Generator) Issued() int {
	return g.next
}
