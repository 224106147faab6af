package pipeline

import (
	"github.com/seiflotfy/dictpress/analyzer"
	"github.com/seiflotfy/dictpress/codec"
	"github.com/seiflotfy/dictpress/config"
	"github.com/seiflotfy/dictpress/dictionary"
	"github.com/seiflotfy/dictpress/discovery"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/integrity"
	"github.com/seiflotfy/dictpress/replacer"
	"github.com/seiflotfy/dictpress/token"
)

// Collision is a dictionary token that also occurs verbatim in a corpus file.
// Such files are stored without substitution.
type Collision struct {
	Token string
	Paths []string
}

// DictionaryBuilt holds a finished, validated dictionary.
type DictionaryBuilt struct {
	guard
	src discovery.Source
	cfg config.Config

	dict       *dictionary.Dictionary
	patterns   int
	collisions []Collision
}

// tokenBytes is the encoded size of every token.
var tokenBytes = len(token.Format(0))

// SelectPatterns picks the dictionary candidates from the frequent patterns:
// patterns no longer in bytes than a token are dropped when prune is set, and
// the list is cut to limit entries.
func SelectPatterns(patterns []analyzer.PatternFrequency, limit int, prune bool) []analyzer.PatternFrequency {
	out := make([]analyzer.PatternFrequency, 0, min(len(patterns), max(limit, 0)))
	for _, p := range patterns {
		if len(out) >= limit {
			break
		}
		if prune && len(p.Pattern) <= tokenBytes {
			continue
		}
		out = append(out, p)
	}
	return out
}

// BuildDictionary assigns tokens to the selected patterns and validates the
// result. It fails when there is nothing to build from.
func (s *Analyzed) BuildDictionary() (*DictionaryBuilt, error) {
	const op = "build dictionary"
	if s == nil {
		return nil, outOfOrder(op)
	}
	var next *DictionaryBuilt
	err := s.once(op, func() error {
		d, err := s.build()
		if err != nil {
			return err
		}
		next = d
		return nil
	})
	return next, err
}

func (s *Analyzed) build() (*DictionaryBuilt, error) {
	const op = "build dictionary"
	logger := s.cfg.Log()

	if len(s.patterns) == 0 {
		return nil, errs.New(errs.KindDictionaryBuild, op, errs.ErrEmptyPatternList)
	}
	selected := SelectPatterns(s.patterns, s.cfg.MaxDictionarySize, s.cfg.PruneUnprofitable)
	if len(selected) == 0 {
		return nil, errs.Newf(errs.KindDictionaryBuild, op, "%w: all %d frequent patterns pruned", errs.ErrEmptyPatternList, len(s.patterns))
	}

	b := dictionary.NewBuilder(token.NewGenerator(s.cfg.MaxDictionarySize))
	if err := b.Build(selected); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	dict, err := b.Freeze()
	if err != nil {
		return nil, err
	}

	v := integrity.New(s.cfg.FastChecksum)
	if _, err := v.ValidateDictionaryBijection(dict); err != nil {
		return nil, err
	}
	if _, err := v.ValidateTokenFormat(dict); err != nil {
		return nil, err
	}

	var collisions []Collision
	for _, t := range s.Literals() {
		if p, ok := dict.Pattern(t); ok {
			logger.Warn("[build] token occurs verbatim in corpus, affected files stored raw", "token", t, "pattern", p, "files", len(s.literals[t]))
			collisions = append(collisions, Collision{Token: t, Paths: append([]string(nil), s.literals[t]...)})
		}
	}

	logger.Info("[build] dictionary ready", "entries", dict.Len(), "candidates", len(selected), "frequent", len(s.patterns), "hash", dict.Hash())
	return &DictionaryBuilt{
		src:        s.src,
		cfg:        s.cfg,
		dict:       dict,
		patterns:   len(s.patterns),
		collisions: collisions,
	}, nil
}

// Dictionary returns the built dictionary.
func (s *DictionaryBuilt) Dictionary() *dictionary.Dictionary { return s.dict }

// Collisions lists dictionary tokens found verbatim in the analysed corpus.
func (s *DictionaryBuilt) Collisions() []Collision { return s.collisions }

// Ready can compress.
type Ready struct {
	src discovery.Source
	cfg config.Config

	dict     *dictionary.Dictionary
	replacer *replacer.Replacer
	codec    codec.Codec
	patterns int
}

// Prepare constructs the replacer. It fails on an empty dictionary.
func (s *DictionaryBuilt) Prepare() (*Ready, error) {
	const op = "prepare"
	if s == nil {
		return nil, outOfOrder(op)
	}
	var next *Ready
	err := s.once(op, func() error {
		if s.dict.Len() == 0 {
			return errs.New(errs.KindPatternReplacement, op, errs.ErrEmptyDictionary)
		}
		r := &Ready{
			src:      s.src,
			cfg:      s.cfg,
			dict:     s.dict,
			replacer: replacer.New(s.dict, replacer.WithCache(s.cfg.ReplaceCacheSize)),
			patterns: s.patterns,
		}
		if s.cfg.FinalCompression {
			c, err := codec.Lookup(s.cfg.Codec)
			if err != nil {
				return err
			}
			r.codec = c
		}
		next = r
		return nil
	})
	return next, err
}

// Dictionary returns the dictionary used for replacement.
func (s *Ready) Dictionary() *dictionary.Dictionary { return s.dict }

// Replacer returns the replacer built from the dictionary.
func (s *Ready) Replacer() *replacer.Replacer { return s.replacer }
