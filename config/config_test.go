package config

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/seiflotfy/dictpress/errs"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 4, cfg.MinPatternLength)
	require.Equal(t, 3, cfg.MinFrequency)
	require.True(t, cfg.FinalCompression)
	require.Equal(t, "zstd", cfg.Codec)
	require.Equal(t, 1000, cfg.MaxFiles)
	require.Equal(t, 500*datasize.MB, cfg.MaxTotalSize)
	require.NotNil(t, cfg.Log())
}

func TestOptions(t *testing.T) {
	logger := log.New("test", "config")
	cfg := New(
		WithMinPatternLength(6),
		WithMinFrequency(10),
		WithCodec("brotli", 9),
		WithThreads(8),
		WithChunkSize(64*datasize.KB),
		WithBufferSize(16*datasize.KB),
		WithLimits(10, 1*datasize.MB),
		WithMaxDictionarySize(100),
		WithFastChecksum(true),
		WithVerifyRoundTrip(false),
		WithPruneUnprofitable(false),
		WithReplaceCacheSize(0),
		WithLogger(logger),
	)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 6, cfg.MinPatternLength)
	require.Equal(t, "brotli", cfg.Codec)
	require.Equal(t, 9, cfg.CompressionLevel)
	require.Equal(t, 10, cfg.MaxFiles)
	require.True(t, cfg.FastChecksum)
	require.False(t, cfg.VerifyRoundTrip)
	require.Equal(t, logger, cfg.Log())
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		field string
		opt   Option
	}{
		{"MinPatternLength", WithMinPatternLength(1)},
		{"MinPatternLength", WithMinPatternLength(101)},
		{"MinFrequency", WithMinFrequency(1)},
		{"MinFrequency", WithMinFrequency(1001)},
		{"Codec", WithCodec("gzip", 3)},
		{"CompressionLevel", WithCodec("zstd", 0)},
		{"CompressionLevel", WithCodec("zstd", 23)},
		{"Threads", WithThreads(-1)},
		{"Threads", WithThreads(257)},
		{"ChunkSize", WithChunkSize(1 * datasize.KB)},
		{"ChunkSize", WithChunkSize(512 * datasize.MB)},
		{"BufferSize", WithBufferSize(1 * datasize.KB)},
		{"MmapThreshold", WithMmapThreshold(32 * datasize.KB)},
		{"MmapThreshold", WithMmapThreshold(5 * datasize.GB)},
		{"MaxFiles", WithLimits(0, DefaultMaxTotalSize)},
		{"MaxFiles", WithLimits(1_000_001, DefaultMaxTotalSize)},
		{"MaxTotalSize", WithLimits(10, 0)},
		{"MaxDictionarySize", WithMaxDictionarySize(0)},
		{"MaxDictionarySize", WithMaxDictionarySize(65536)},
		{"ReplaceCacheSize", WithReplaceCacheSize(-1)},
	}
	for _, tc := range cases {
		err := New(tc.opt).Validate()
		require.ErrorIs(t, err, errs.ErrConfigValidation, tc.field)
		var e *errs.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, tc.field, e.Field)
	}
}

func TestValidateBoundaries(t *testing.T) {
	for _, opt := range []Option{
		WithMinPatternLength(2),
		WithMinPatternLength(50),
		WithMinPatternLength(100),
		WithMinFrequency(2),
		WithMinFrequency(1000),
		WithCodec("zstd", 1),
		WithCodec("lz4", 22),
		WithThreads(0),
		WithThreads(256),
		WithMaxDictionarySize(1),
		WithMaxDictionarySize(65535),
		WithLimits(1_000_000, DefaultMaxTotalSize),
	} {
		require.NoError(t, New(opt).Validate())
	}
}

func TestValidateCrossField(t *testing.T) {
	err := New(WithChunkSize(32*datasize.MB), WithMmapThreshold(16*datasize.MB)).Validate()
	require.ErrorIs(t, err, errs.ErrConfigValidation)
	require.Contains(t, err.Error(), "MmapThreshold")

	err = New(WithChunkSize(8*datasize.KB), WithBufferSize(16*datasize.KB)).Validate()
	require.ErrorIs(t, err, errs.ErrConfigValidation)
	require.Contains(t, err.Error(), "field=BufferSize")

	err = New(WithLimits(10, 512*datasize.KB)).Validate()
	require.ErrorIs(t, err, errs.ErrConfigValidation)
	require.Contains(t, err.Error(), "MaxTotalSize")
}

func TestCodecIgnoredWithoutFinalCompression(t *testing.T) {
	cfg := New(WithFinalCompression(false), WithCodec("gzip", 0))
	require.NoError(t, cfg.Validate())
}
