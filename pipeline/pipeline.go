// Package pipeline drives a compression run through its phases.
//
// Each phase is its own type and only exposes the transition to the next one:
//
//	Initial -> Configured -> Analyzed -> DictionaryBuilt -> Ready
//
// A successful transition consumes the receiver; calling it again returns
// ErrStateConsumed. A failed transition leaves the receiver usable so the
// phase can be retried.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/seiflotfy/dictpress/config"
	"github.com/seiflotfy/dictpress/discovery"
	"github.com/seiflotfy/dictpress/errs"
)

// ErrStateConsumed is returned when a transition is invoked on a state that
// has already moved on, or on a nil state.
var ErrStateConsumed = errors.New("pipeline state already consumed")

// guard makes a transition one-shot on success.
type guard struct {
	mu   sync.Mutex
	used bool
}

func (g *guard) once(op string, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used {
		return outOfOrder(op)
	}
	if err := fn(); err != nil {
		return err
	}
	g.used = true
	return nil
}

func outOfOrder(op string) error {
	return errs.New(errs.KindPatternReplacement, op, ErrStateConsumed)
}

// Initial holds the source and the unvalidated configuration.
type Initial struct {
	guard
	src discovery.Source
	cfg config.Config
}

// New starts a pipeline over src.
func New(src discovery.Source, cfg config.Config) *Initial {
	return &Initial{src: src, cfg: cfg}
}

// Configured holds a validated configuration.
type Configured struct {
	guard
	src discovery.Source
	cfg config.Config
}

// Configure validates the configuration.
func (s *Initial) Configure() (*Configured, error) {
	const op = "configure"
	if s == nil {
		return nil, outOfOrder(op)
	}
	var next *Configured
	err := s.once(op, func() error {
		if s.src == nil {
			return errs.Newf(errs.KindConfigValidation, op, "no source")
		}
		if err := s.cfg.Validate(); err != nil {
			return err
		}
		next = &Configured{src: s.src, cfg: s.cfg}
		return nil
	})
	return next, err
}

// Config returns the validated configuration.
func (s *Configured) Config() config.Config { return s.cfg }

// Run drives every phase and compresses src.
func Run(ctx context.Context, src discovery.Source, cfg config.Config) (*Result, error) {
	configured, err := New(src, cfg).Configure()
	if err != nil {
		return nil, err
	}
	analyzed, err := configured.Analyze(ctx)
	if err != nil {
		return nil, err
	}
	built, err := analyzed.BuildDictionary()
	if err != nil {
		return nil, err
	}
	ready, err := built.Prepare()
	if err != nil {
		return nil, err
	}
	return ready.Compress(ctx)
}

func threads(cfg config.Config) int {
	if cfg.Threads > 0 {
		return cfg.Threads
	}
	return runtime.GOMAXPROCS(0)
}
