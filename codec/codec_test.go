package codec

import (
	"bytes"
	"encoding/binary"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seiflotfy/dictpress/errs"
)

func sample() []byte {
	return []byte(strings.Repeat("§0000 main() { §0001 x; }\nconst value = 42;\n", 200))
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		c, err := Lookup(name)
		require.NoError(t, err)
		require.Equal(t, name, c.Name())
	}
	require.Equal(t, []string{"brotli", "lz4", "none", "snappy", "zstd"}, Names())

	_, err := Lookup("gzip")
	require.ErrorIs(t, err, errs.ErrFinalCodec)
}

func TestRoundTrip(t *testing.T) {
	src := sample()
	for _, name := range Names() {
		c, err := Lookup(name)
		require.NoError(t, err)
		for _, level := range []int{-3, 0, 1, 3, 9, 11, 22, 40} {
			enc, err := c.Compress(src, level)
			require.NoError(t, err, "%s level %d", name, level)
			if name != NameNone {
				require.Less(t, len(enc), len(src), "%s level %d", name, level)
			}
			dec, err := c.Decompress(enc, len(src))
			require.NoError(t, err, "%s level %d", name, level)
			require.True(t, bytes.Equal(src, dec), "%s level %d", name, level)
		}
	}
}

func TestRoundTripEmpty(t *testing.T) {
	for _, name := range Names() {
		c, err := Lookup(name)
		require.NoError(t, err)
		enc, err := c.Compress(nil, 3)
		require.NoError(t, err, name)
		dec, err := c.Decompress(enc, 0)
		require.NoError(t, err, name)
		require.Empty(t, dec, name)
	}
}

func TestDecompressGarbage(t *testing.T) {
	garbage := []byte("definitely not a compressed stream")
	for _, name := range []string{NameZstd, NameSnappy, NameLZ4} {
		c, err := Lookup(name)
		require.NoError(t, err)
		_, err = c.Decompress(garbage, 0)
		require.ErrorIs(t, err, errs.ErrFinalCodec, name)
	}
}

func TestCapHint(t *testing.T) {
	require.Zero(t, capHint(0, 100))
	require.Zero(t, capHint(-1, 100))
	require.Equal(t, 500, capHint(500, 100))
	require.Equal(t, 100*maxHintRatio, capHint(1<<30, 100))
	require.Equal(t, maxHint, capHint(1<<30, 1<<30))
}

func TestDecompressIgnoresHugeHint(t *testing.T) {
	src := sample()
	for _, name := range Names() {
		c, err := Lookup(name)
		require.NoError(t, err)
		enc, err := c.Compress(src, 3)
		require.NoError(t, err, name)
		out, err := c.Decompress(enc, 1<<30)
		require.NoError(t, err, name)
		require.Equal(t, src, out, name)
	}
}

func TestSnappyRejectsOversizedLength(t *testing.T) {
	block := binary.AppendUvarint(nil, 1<<30)
	_, err := Snappy{}.Decompress(block, 0)
	require.ErrorIs(t, err, errs.ErrFinalCodec)
	require.ErrorContains(t, err, "too large")
}

func TestZstdConcurrent(t *testing.T) {
	c, err := Lookup(NameZstd)
	require.NoError(t, err)
	src := sample()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(level int) {
			defer wg.Done()
			enc, err := c.Compress(src, level)
			require.NoError(t, err)
			dec, err := c.Decompress(enc, 0)
			require.NoError(t, err)
			require.Equal(t, src, dec)
		}(i%4 + 1)
	}
	wg.Wait()
}
