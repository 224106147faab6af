// Package config holds the pipeline configuration and its validation rules.
package config

import (
	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"

	"github.com/seiflotfy/dictpress/codec"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/token"
)

const (
	DefaultMinPatternLength  = 4
	DefaultMinFrequency      = 3
	DefaultCompressionLevel  = 3
	DefaultMaxFiles          = 1000
	DefaultMaxDictionarySize = 4096
	DefaultReplaceCacheSize  = 256

	DefaultChunkSize     = 1 * datasize.MB
	DefaultBufferSize    = 64 * datasize.KB
	DefaultMmapThreshold = 16 * datasize.MB
	DefaultMaxTotalSize  = 500 * datasize.MB

	MaxThreads = 256
)

// Config configures a compression run.
type Config struct {
	MinPatternLength int    // minimum pattern length in runes, 2..100
	MinFrequency     int    // minimum occurrences for a pattern to be compressed, 2..1000
	FinalCompression bool   // run the codec over token-replaced content
	Codec            string // final codec name, see codec.Names
	CompressionLevel int    // codec level, 1..22
	Threads          int    // worker count, 0 = GOMAXPROCS

	ChunkSize     datasize.ByteSize // analysis chunk, 4KB..256MB
	BufferSize    datasize.ByteSize // I/O buffer, 4KB..64MB
	MmapThreshold datasize.ByteSize // files at or above this are memory-mapped, 64KB..4GB

	MaxFiles          int
	MaxTotalSize      datasize.ByteSize
	MaxDictionarySize int // 1..65535

	FastChecksum      bool // xxhash only, no SHA-256
	VerifyRoundTrip   bool // expand every replaced file and store it raw on mismatch
	PruneUnprofitable bool // drop patterns no longer than a token
	ReplaceCacheSize  int  // replacement results kept per content hash, 0 disables

	Logger log.Logger
}

// Option is a functional option for configuring a run.
type Option func(*Config)

// Default returns the default configuration.
func Default() Config {
	return Config{
		MinPatternLength:  DefaultMinPatternLength,
		MinFrequency:      DefaultMinFrequency,
		FinalCompression:  true,
		Codec:             codec.NameZstd,
		CompressionLevel:  DefaultCompressionLevel,
		ChunkSize:         DefaultChunkSize,
		BufferSize:        DefaultBufferSize,
		MmapThreshold:     DefaultMmapThreshold,
		MaxFiles:          DefaultMaxFiles,
		MaxTotalSize:      DefaultMaxTotalSize,
		MaxDictionarySize: DefaultMaxDictionarySize,
		VerifyRoundTrip:   true,
		PruneUnprofitable: true,
		ReplaceCacheSize:  DefaultReplaceCacheSize,
	}
}

// New returns Default with opts applied.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Log returns the configured logger or the root logger.
func (c Config) Log() log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Root()
}

// WithMinPatternLength sets the minimum pattern length in runes.
func WithMinPatternLength(n int) Option {
	return func(c *Config) { c.MinPatternLength = n }
}

// WithMinFrequency sets the minimum frequency for a pattern to be compressed.
func WithMinFrequency(n int) Option {
	return func(c *Config) { c.MinFrequency = n }
}

// WithFinalCompression toggles the final codec pass.
func WithFinalCompression(on bool) Option {
	return func(c *Config) { c.FinalCompression = on }
}

// WithCodec selects the final codec and its level.
func WithCodec(name string, level int) Option {
	return func(c *Config) {
		c.Codec = name
		c.CompressionLevel = level
	}
}

// WithThreads sets the worker count. 0 means GOMAXPROCS.
func WithThreads(n int) Option {
	return func(c *Config) { c.Threads = n }
}

// WithChunkSize sets the analysis chunk size.
func WithChunkSize(s datasize.ByteSize) Option {
	return func(c *Config) { c.ChunkSize = s }
}

// WithBufferSize sets the I/O buffer size.
func WithBufferSize(s datasize.ByteSize) Option {
	return func(c *Config) { c.BufferSize = s }
}

// WithMmapThreshold sets the size at which files are memory-mapped.
func WithMmapThreshold(s datasize.ByteSize) Option {
	return func(c *Config) { c.MmapThreshold = s }
}

// WithLimits bounds how many files and bytes a run collects.
func WithLimits(maxFiles int, maxTotal datasize.ByteSize) Option {
	return func(c *Config) {
		c.MaxFiles = maxFiles
		c.MaxTotalSize = maxTotal
	}
}

// WithMaxDictionarySize caps the number of dictionary entries.
func WithMaxDictionarySize(n int) Option {
	return func(c *Config) { c.MaxDictionarySize = n }
}

// WithFastChecksum skips SHA-256 and checksums with xxhash only.
func WithFastChecksum(on bool) Option {
	return func(c *Config) { c.FastChecksum = on }
}

// WithVerifyRoundTrip toggles per-file expansion checks after replacement.
func WithVerifyRoundTrip(on bool) Option {
	return func(c *Config) { c.VerifyRoundTrip = on }
}

// WithPruneUnprofitable toggles dropping patterns that are not longer than a
// token.
func WithPruneUnprofitable(on bool) Option {
	return func(c *Config) { c.PruneUnprofitable = on }
}

// WithReplaceCacheSize sets the replacement cache size. 0 disables it.
func WithReplaceCacheSize(n int) Option {
	return func(c *Config) { c.ReplaceCacheSize = n }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Validate checks ranges and cross-field constraints. The first violation is
// returned as a KindConfigValidation error naming the field.
func (c Config) Validate() error {
	if c.MinPatternLength < 2 || c.MinPatternLength > 100 {
		return errs.Config("MinPatternLength", "%d not in [2, 100]", c.MinPatternLength)
	}
	if c.MinFrequency < 2 || c.MinFrequency > 1000 {
		return errs.Config("MinFrequency", "%d not in [2, 1000]", c.MinFrequency)
	}
	if c.FinalCompression {
		if _, err := codec.Lookup(c.Codec); err != nil {
			return errs.Config("Codec", "unknown codec %q", c.Codec)
		}
		if c.CompressionLevel < 1 || c.CompressionLevel > 22 {
			return errs.Config("CompressionLevel", "%d not in [1, 22]", c.CompressionLevel)
		}
	}
	if c.Threads < 0 || c.Threads > MaxThreads {
		return errs.Config("Threads", "%d not in [0, %d]", c.Threads, MaxThreads)
	}
	if err := sizeIn("ChunkSize", c.ChunkSize, 4*datasize.KB, 256*datasize.MB); err != nil {
		return err
	}
	if err := sizeIn("BufferSize", c.BufferSize, 4*datasize.KB, 64*datasize.MB); err != nil {
		return err
	}
	if err := sizeIn("MmapThreshold", c.MmapThreshold, 64*datasize.KB, 4*datasize.GB); err != nil {
		return err
	}
	if c.MaxFiles < 1 || c.MaxFiles > 1_000_000 {
		return errs.Config("MaxFiles", "%d not in [1, 1000000]", c.MaxFiles)
	}
	if c.MaxTotalSize == 0 {
		return errs.Config("MaxTotalSize", "must be positive")
	}
	if c.MaxDictionarySize < 1 || c.MaxDictionarySize > token.MaxCapacity {
		return errs.Config("MaxDictionarySize", "%d not in [1, %d]", c.MaxDictionarySize, token.MaxCapacity)
	}
	if c.ReplaceCacheSize < 0 {
		return errs.Config("ReplaceCacheSize", "%d is negative", c.ReplaceCacheSize)
	}

	if c.ChunkSize > c.MmapThreshold {
		return errs.Config("ChunkSize", "%s exceeds MmapThreshold %s", c.ChunkSize.HR(), c.MmapThreshold.HR())
	}
	if c.BufferSize > c.ChunkSize {
		return errs.Config("BufferSize", "%s exceeds ChunkSize %s", c.BufferSize.HR(), c.ChunkSize.HR())
	}
	if c.ChunkSize > c.MaxTotalSize {
		return errs.Config("ChunkSize", "%s exceeds MaxTotalSize %s", c.ChunkSize.HR(), c.MaxTotalSize.HR())
	}
	return nil
}

func sizeIn(field string, v, lo, hi datasize.ByteSize) error {
	if v < lo || v > hi {
		return errs.Config(field, "%s not in [%s, %s]", v.HR(), lo.HR(), hi.HR())
	}
	return nil
}
