// Package errs defines the error kinds shared by every dictpress component.
//
// Every failure is reported as an *Error carrying a Kind plus whatever context
// (path, pattern, token, config field) is needed to act on it. Callers match
// kinds with errors.Is against the sentinel values below:
//
//	if errors.Is(err, errs.ErrTokenOverflow) { ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPatternAnalysis
	KindDictionaryBuild
	KindTokenOverflow
	KindPatternReplacement
	KindFinalCodec
	KindFileProcessing
	KindConfigValidation
	KindIntegrityCheck
)

var kindNames = [...]string{
	KindUnknown:            "unknown",
	KindPatternAnalysis:    "pattern analysis failed",
	KindDictionaryBuild:    "dictionary build failed",
	KindTokenOverflow:      "token space exhausted",
	KindPatternReplacement: "pattern replacement failed",
	KindFinalCodec:         "final compression failed",
	KindFileProcessing:     "file processing failed",
	KindConfigValidation:   "invalid configuration",
	KindIntegrityCheck:     "integrity check failed",
}

// String returns the kind's name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sentinels for errors.Is. They carry only a Kind.
var (
	ErrPatternAnalysis    = &Error{Kind: KindPatternAnalysis}
	ErrDictionaryBuild    = &Error{Kind: KindDictionaryBuild}
	ErrTokenOverflow      = &Error{Kind: KindTokenOverflow}
	ErrPatternReplacement = &Error{Kind: KindPatternReplacement}
	ErrFinalCodec         = &Error{Kind: KindFinalCodec}
	ErrFileProcessing     = &Error{Kind: KindFileProcessing}
	ErrConfigValidation   = &Error{Kind: KindConfigValidation}
	ErrIntegrityCheck     = &Error{Kind: KindIntegrityCheck}
)

// Sub-cases of KindDictionaryBuild.
var (
	ErrDuplicatePattern = errors.New("duplicate pattern")
	ErrTokenCollision   = errors.New("token collision")
	ErrEmptyPatternList = errors.New("no frequent patterns")
	ErrEmptyDictionary  = errors.New("dictionary is empty")
)

// Error is the structured error returned by dictpress packages.
type Error struct {
	Kind    Kind
	Op      string // operation, e.g. "analyze", "build"
	Path    string
	Pattern string
	Token   string
	Field   string // config field for KindConfigValidation
	Err     error
}

// Error renders the op, kind and context fields.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%q", e.Path)
	}
	if e.Pattern != "" {
		fmt.Fprintf(&b, " pattern=%q", e.Pattern)
	}
	if e.Token != "" {
		fmt.Fprintf(&b, " token=%q", e.Token)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A target with extra
// context fields set is not treated as a sentinel and never matches.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Path != "" || t.Pattern != "" || t.Token != "" || t.Field != "" || t.Err != nil {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an *Error with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// File builds a KindFileProcessing error for path.
func File(op, path string, err error) *Error {
	return &Error{Kind: KindFileProcessing, Op: op, Path: path, Err: err}
}

// Config builds a KindConfigValidation error for field.
func Config(field string, format string, args ...any) *Error {
	return &Error{Kind: KindConfigValidation, Op: "config", Field: field, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Fatal reports whether an error of this kind must abort a whole run rather
// than only the current phase or file. Token overflow and empty pattern lists
// only abort the phase that hit them.
func Fatal(err error) bool {
	if errors.Is(err, ErrEmptyPatternList) || errors.Is(err, ErrEmptyDictionary) {
		return false
	}
	switch KindOf(err) {
	case KindConfigValidation, KindDictionaryBuild, KindIntegrityCheck:
		return true
	}
	return false
}
