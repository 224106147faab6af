package integrity

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/seiflotfy/dictpress/dictionary"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/token"
)

// Mapping is a bidirectional dictionary view. Both *dictionary.Builder and
// *dictionary.Dictionary satisfy it.
type Mapping interface {
	Forward() map[string]string
	Reverse() map[string]string
}

// File is a path and its content.
type File struct {
	Path    string
	Content []byte
}

// Mismatch describes one file that failed reconciliation.
type Mismatch struct {
	Path   string
	Reason string
}

// Validator keeps the checksum tables used for verification. It is safe for
// concurrent use.
type Validator struct {
	fast bool

	mu       sync.RWMutex
	files    map[string]Checksum
	order    []string
	dictHash string
}

// New creates a validator. In fast mode only xxhash checksums are computed.
func New(fast bool) *Validator {
	return &Validator{fast: fast, files: make(map[string]Checksum)}
}

// Checksum computes the checksum of b in the validator's mode.
func (v *Validator) Checksum(b []byte) Checksum {
	return Compute(b, v.fast)
}

// Register records the checksum of a file for later ValidateFile calls.
func (v *Validator) Register(path string, b []byte) Checksum {
	c := v.Checksum(b)
	v.mu.Lock()
	v.set(path, c)
	v.mu.Unlock()
	return c
}

func (v *Validator) set(path string, c Checksum) {
	if _, ok := v.files[path]; !ok {
		v.order = append(v.order, path)
	}
	v.files[path] = c
}

// ValidateFile reports whether b matches the recorded checksum of path. It
// returns an error when nothing is recorded for path.
func (v *Validator) ValidateFile(path string, b []byte) (bool, error) {
	v.mu.RLock()
	want, ok := v.files[path]
	v.mu.RUnlock()
	if !ok {
		return false, &errs.Error{Kind: errs.KindIntegrityCheck, Op: "validate file", Path: path, Err: errors.New("no recorded checksum")}
	}
	return want.Matches(Compute(b, v.fast || want.Digest == "")), nil
}

// ValidateDictionaryBijection rebuilds the reverse map from the forward map
// and compares it with the dictionary's own reverse map.
func (v *Validator) ValidateDictionaryBijection(d Mapping) (bool, error) {
	const op = "validate bijection"
	forward, reverse := d.Forward(), d.Reverse()
	if len(forward) != len(reverse) {
		return false, errs.Newf(errs.KindIntegrityCheck, op, "forward map has %d entries, reverse map has %d", len(forward), len(reverse))
	}

	rebuilt := make(map[string]string, len(forward))
	for p, t := range forward {
		if prev, dup := rebuilt[t]; dup {
			return false, &errs.Error{Kind: errs.KindIntegrityCheck, Op: op, Token: t, Pattern: p, Err: fmt.Errorf("token also maps %q", prev)}
		}
		rebuilt[t] = p
	}
	for t, p := range rebuilt {
		got, ok := reverse[t]
		if !ok {
			return false, &errs.Error{Kind: errs.KindIntegrityCheck, Op: op, Token: t, Pattern: p, Err: errors.New("missing reverse entry")}
		}
		if got != p {
			return false, &errs.Error{Kind: errs.KindIntegrityCheck, Op: op, Token: t, Pattern: p, Err: fmt.Errorf("reverse entry maps to %q", got)}
		}
	}
	for t, p := range reverse {
		if _, ok := rebuilt[t]; !ok {
			return false, &errs.Error{Kind: errs.KindIntegrityCheck, Op: op, Token: t, Pattern: p, Err: errors.New("reverse entry has no forward entry")}
		}
	}
	return true, nil
}

// ValidateTokenFormat checks every token against the reserved token format.
func (v *Validator) ValidateTokenFormat(d Mapping) (bool, error) {
	for p, t := range d.Forward() {
		if !token.Valid(t) {
			return false, &errs.Error{Kind: errs.KindIntegrityCheck, Op: "validate token format", Pattern: p, Token: t, Err: fmt.Errorf("does not match %s", token.Pattern)}
		}
	}
	return true, nil
}

// Checksums returns a copy of the recorded checksums.
func (v *Validator) Checksums() map[string]Checksum {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]Checksum, len(v.files))
	for p, c := range v.files {
		out[p] = c
	}
	return out
}

// DictionaryHash returns the dictionary hash from the last generated or
// parsed manifest.
func (v *Validator) DictionaryHash() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dictHash
}

// Reconcile checks files against the recorded checksums. Recorded paths
// missing from files and files that were never recorded are reported too.
func (v *Validator) Reconcile(files []File) []Mismatch {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []Mismatch
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f.Path] = struct{}{}
		want, ok := v.files[f.Path]
		if !ok {
			out = append(out, Mismatch{Path: f.Path, Reason: "not in manifest"})
			continue
		}
		got := Compute(f.Content, v.fast || want.Digest == "")
		switch {
		case got.Size != want.Size:
			out = append(out, Mismatch{Path: f.Path, Reason: fmt.Sprintf("size %d, want %d", got.Size, want.Size)})
		case !want.Matches(got):
			out = append(out, Mismatch{Path: f.Path, Reason: "checksum mismatch"})
		}
	}
	for _, p := range v.order {
		if _, ok := seen[p]; !ok {
			out = append(out, Mismatch{Path: p, Reason: "missing"})
		}
	}
	slices.SortFunc(out, func(x, y Mismatch) int { return cmp.Compare(x.Path, y.Path) })
	return out
}

func mappingHash(d Mapping) string {
	fwd := d.Forward()
	list := make([]dictionary.Entry, 0, len(fwd))
	for p, t := range fwd {
		list = append(list, dictionary.Entry{Pattern: p, Token: t})
	}
	slices.SortFunc(list, func(x, y dictionary.Entry) int { return cmp.Compare(x.Token, y.Token) })
	return dictionary.HashEntries(list)
}
