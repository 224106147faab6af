package dictionary

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/seiflotfy/dictpress/errs"
)

// Dictionary is a frozen pattern↔token mapping. It is safe for concurrent reads.
type Dictionary struct {
	forward map[string]string
	reverse map[string]string
}

// FromEntries rebuilds a dictionary, e.g. one read back from an archive.
func FromEntries(list []Entry) (*Dictionary, error) {
	d := &Dictionary{
		forward: make(map[string]string, len(list)),
		reverse: make(map[string]string, len(list)),
	}
	for _, e := range list {
		if _, ok := d.forward[e.Pattern]; ok {
			return nil, &errs.Error{Kind: errs.KindDictionaryBuild, Op: "load dictionary", Pattern: e.Pattern, Err: errs.ErrDuplicatePattern}
		}
		if _, ok := d.reverse[e.Token]; ok {
			return nil, &errs.Error{Kind: errs.KindDictionaryBuild, Op: "load dictionary", Token: e.Token, Err: errs.ErrTokenCollision}
		}
		d.forward[e.Pattern] = e.Token
		d.reverse[e.Token] = e.Pattern
	}
	if err := validate(d.forward, d.reverse); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup returns the token for pattern.
func (d *Dictionary) Lookup(pattern string) (string, bool) {
	t, ok := d.forward[pattern]
	return t, ok
}

// Pattern returns the pattern behind tok.
func (d *Dictionary) Pattern(tok string) (string, bool) {
	p, ok := d.reverse[tok]
	return p, ok
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.forward)
}

// Entries returns all entries ordered by token.
func (d *Dictionary) Entries() []Entry {
	return entries(d.forward)
}

// Forward returns a copy of the pattern -> token map.
func (d *Dictionary) Forward() map[string]string {
	return cloneMap(d.forward)
}

// Reverse returns a copy of the token -> pattern map.
func (d *Dictionary) Reverse() map[string]string {
	return cloneMap(d.reverse)
}

// Validate re-checks the bijection.
func (d *Dictionary) Validate() error {
	if d == nil {
		return errs.New(errs.KindDictionaryBuild, "validate dictionary", errors.New("nil dictionary"))
	}
	return validate(d.forward, d.reverse)
}

// Hash is the hex SHA-256 of the entries in token order, each written as
// pattern NUL token LF.
func (d *Dictionary) Hash() string {
	return HashEntries(d.Entries())
}

// HashEntries hashes entries that are already ordered by token.
func HashEntries(list []Entry) string {
	h := sha256.New()
	for _, e := range list {
		h.Write([]byte(e.Pattern))
		h.Write([]byte{0})
		h.Write([]byte(e.Token))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
