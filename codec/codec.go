// Package codec wraps the general-purpose compressors applied to token-replaced
// content.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/seiflotfy/dictpress/errs"
)

// Codec compresses whole buffers. Implementations are safe for concurrent use.
type Codec interface {
	Name() string
	Compress(src []byte, level int) ([]byte, error)
	// Decompress decodes src. sizeHint is the expected decoded size, or 0
	// when unknown.
	Decompress(src []byte, sizeHint int) ([]byte, error)
}

const (
	NameZstd   = "zstd"
	NameSnappy = "snappy"
	NameBrotli = "brotli"
	NameLZ4    = "lz4"
	NameNone   = "none"
)

var registry = map[string]Codec{
	NameZstd:   &Zstd{},
	NameSnappy: Snappy{},
	NameBrotli: Brotli{},
	NameLZ4:    LZ4{},
	NameNone:   None{},
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, errs.Newf(errs.KindFinalCodec, "lookup", "unknown codec %q", name)
	}
	return c, nil
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

const (
	// maxHintRatio bounds a caller's size hint relative to the encoded input.
	maxHintRatio = 32
	maxHint      = 64 << 20

	// snappyMaxRatio is above the best ratio a valid snappy stream reaches.
	snappyMaxRatio = 32
)

// capHint limits the preallocation for a decode. The hint usually comes from
// an archive header and is not trusted.
func capHint(sizeHint, srcLen int) int {
	if sizeHint <= 0 {
		return 0
	}
	return min(sizeHint, srcLen*maxHintRatio, maxHint)
}

func codecErr(name, op string, err error) error {
	return errs.New(errs.KindFinalCodec, name+" "+op, err)
}

// Zstd uses klauspost/compress. Encoders are created lazily, one per level,
// and shared since EncodeAll is safe for concurrent use.
type Zstd struct {
	mu      sync.Mutex
	encs    map[zstd.EncoderLevel]*zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

// Name returns "zstd".
func (*Zstd) Name() string { return NameZstd }

func (z *Zstd) encoder(level int) (*zstd.Encoder, error) {
	lvl := zstd.EncoderLevelFromZstd(level)
	z.mu.Lock()
	defer z.mu.Unlock()
	if enc, ok := z.encs[lvl]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, err
	}
	if z.encs == nil {
		z.encs = make(map[zstd.EncoderLevel]*zstd.Encoder)
	}
	z.encs[lvl] = enc
	return enc, nil
}

// Compress encodes src with the encoder for level, 1..22.
func (z *Zstd) Compress(src []byte, level int) ([]byte, error) {
	enc, err := z.encoder(level)
	if err != nil {
		return nil, codecErr(NameZstd, "compress", err)
	}
	return enc.EncodeAll(src, make([]byte, 0, len(src)/2+16)), nil
}

// Decompress decodes a zstd frame.
func (z *Zstd) Decompress(src []byte, sizeHint int) ([]byte, error) {
	z.decOnce.Do(func() {
		z.dec, z.decErr = zstd.NewReader(nil)
	})
	if z.decErr != nil {
		return nil, codecErr(NameZstd, "decompress", z.decErr)
	}
	out, err := z.dec.DecodeAll(src, make([]byte, 0, capHint(sizeHint, len(src))))
	if err != nil {
		return nil, codecErr(NameZstd, "decompress", err)
	}
	return out, nil
}

// Snappy ignores the level.
type Snappy struct{}

// Name returns "snappy".
func (Snappy) Name() string { return NameSnappy }

// Compress encodes src as a snappy block.
func (Snappy) Compress(src []byte, _ int) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

// Decompress decodes a snappy block, rejecting headers that claim more
// output than the block can produce.
func (Snappy) Decompress(src []byte, _ int) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, codecErr(NameSnappy, "decompress", err)
	}
	if n > len(src)*snappyMaxRatio {
		return nil, codecErr(NameSnappy, "decompress", fmt.Errorf("decoded length %d too large for %d input bytes", n, len(src)))
	}
	out, err := snappy.Decode(make([]byte, n), src)
	if err != nil {
		return nil, codecErr(NameSnappy, "decompress", err)
	}
	return out, nil
}

// Brotli clamps the level to brotli's 0..11 range.
type Brotli struct{}

// Name returns "brotli".
func (Brotli) Name() string { return NameBrotli }

// Compress encodes src as a brotli stream.
func (Brotli) Compress(src []byte, level int) ([]byte, error) {
	level = min(max(level, brotli.BestSpeed), brotli.BestCompression)
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, level)
	if _, err := w.Write(src); err != nil {
		return nil, codecErr(NameBrotli, "compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, codecErr(NameBrotli, "compress", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes a brotli stream.
func (Brotli) Decompress(src []byte, sizeHint int) ([]byte, error) {
	return readAll(NameBrotli, brotli.NewReader(bytes.NewReader(src)), len(src), sizeHint)
}

// LZ4 writes the lz4 frame format. Levels above 9 use Level9, level 1 and
// below use the fast mode.
type LZ4 struct{}

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// Name returns "lz4".
func (LZ4) Name() string { return NameLZ4 }

// Compress writes src as a single lz4 frame.
func (LZ4) Compress(src []byte, level int) ([]byte, error) {
	lvl := lz4Levels[0]
	if level > 1 {
		lvl = lz4Levels[min(level, len(lz4Levels)-1)]
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lvl)); err != nil {
		return nil, codecErr(NameLZ4, "compress", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, codecErr(NameLZ4, "compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, codecErr(NameLZ4, "compress", err)
	}
	return buf.Bytes(), nil
}

// Decompress reads an lz4 frame.
func (LZ4) Decompress(src []byte, sizeHint int) ([]byte, error) {
	return readAll(NameLZ4, lz4.NewReader(bytes.NewReader(src)), len(src), sizeHint)
}

// None stores content unchanged.
type None struct{}

// Name returns "none".
func (None) Name() string { return NameNone }

// Compress returns a copy of src.
func (None) Compress(src []byte, _ int) ([]byte, error) {
	return bytes.Clone(src), nil
}

// Decompress returns a copy of src.
func (None) Decompress(src []byte, _ int) ([]byte, error) {
	return bytes.Clone(src), nil
}

func readAll(name string, r io.Reader, srcLen, sizeHint int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, max(capHint(sizeHint, srcLen), 512)))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, codecErr(name, "decompress", fmt.Errorf("read: %w", err))
	}
	return buf.Bytes(), nil
}
