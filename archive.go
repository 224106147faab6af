package dictpress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pierrec/xxHash/xxHash32"

	"github.com/seiflotfy/dictpress/codec"
	"github.com/seiflotfy/dictpress/dictionary"
	"github.com/seiflotfy/dictpress/pipeline"
	"github.com/seiflotfy/dictpress/token"
)

const (
	archiveMagic   = "DPAR"
	archiveVersion = uint16(1)

	stageDictionary = "dictionary"
	stageFiles      = "files"
	stageManifest   = "manifest"

	stageParamRaw   = uint8(0) // payload stored as is
	stageParamFlate = uint8(1) // flate(payload)

	fileFlagRaw     = uint8(1 << 0)
	fileFlagEncoded = uint8(1 << 1)

	maxArchiveStages     = 64
	maxStagePayloadBytes = 1 << 30 // 1 GiB
	maxStageEntries      = 1 << 24
	stageChecksumSeed    = uint32(0x44504152)

	// payloads below this size are never worth a flate attempt
	flateMinPayload = 256
)

// Wire format (version 1):
//
//	magic[4] = "DPAR"
//	version  = uint16 little-endian
//	stageCnt = uint16 little-endian
//	repeat stageCnt times:
//	  nameLen  = uint8
//	  paramLen = uint16 little-endian
//	  dataLen  = uint32 little-endian
//	  name     = nameLen bytes
//	  params   = paramLen bytes, params[0] is the payload encoding
//	  payload  = dataLen bytes, the last 4 are xxHash32 of the decoded body
//
// Required stage names:
//
//	dictionary, files
//
// The manifest stage is optional. Unknown stages are skipped via dataLen
// framing.
type wireStageHeader struct {
	name     string
	paramLen uint16
	dataLen  uint32
}

func writeBytes(w io.Writer, b []byte) (int64, error) {
	n, err := w.Write(b)
	if err != nil {
		return int64(n), err
	}
	if n != len(b) {
		return int64(n), io.ErrShortWrite
	}
	return int64(n), nil
}

func writeStage(w io.Writer, name string, params []byte, payload []byte) (int64, error) {
	if len(name) == 0 || len(name) > 255 {
		return 0, fmt.Errorf("invalid stage name length: %d", len(name))
	}
	if len(params) > int(^uint16(0)) {
		return 0, fmt.Errorf("stage params too large for %q: %d", name, len(params))
	}
	if len(payload) > maxStagePayloadBytes {
		return 0, fmt.Errorf("stage payload too large for %q: %d", name, len(payload))
	}

	var hdr [7]byte
	hdr[0] = uint8(len(name))
	binary.LittleEndian.PutUint16(hdr[1:3], uint16(len(params)))
	binary.LittleEndian.PutUint32(hdr[3:7], uint32(len(payload)))

	var total int64
	for _, part := range [][]byte{hdr[:], []byte(name), params, payload} {
		n, err := writeBytes(w, part)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func readStageHeader(r io.Reader) (wireStageHeader, int64, error) {
	var hdr [7]byte
	n, err := io.ReadFull(r, hdr[:])
	total := int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}
	nameLen := hdr[0]
	if nameLen == 0 {
		return wireStageHeader{}, total, fmt.Errorf("stage name length must be > 0")
	}
	dataLen := binary.LittleEndian.Uint32(hdr[3:7])
	if dataLen > uint32(maxStagePayloadBytes) {
		return wireStageHeader{}, total, fmt.Errorf("stage payload too large: %d", dataLen)
	}

	nameBytes := make([]byte, int(nameLen))
	n, err = io.ReadFull(r, nameBytes)
	total += int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}
	return wireStageHeader{
		name:     string(nameBytes),
		paramLen: binary.LittleEndian.Uint16(hdr[1:3]),
		dataLen:  dataLen,
	}, total, nil
}

// Archive is a serializable compression result: the dictionary, one entry per
// file and the verification manifest.
type Archive struct {
	Dictionary []dictionary.Entry // sorted by token
	Files      []*pipeline.FileEntry
	Codec      string // final codec of encoded entries, empty if none
	Level      int
	Manifest   string
}

// NewArchive wraps a pipeline result.
func NewArchive(res *pipeline.Result) *Archive {
	return &Archive{
		Dictionary: res.Dictionary.Entries(),
		Files:      res.Entries,
		Codec:      res.Codec,
		Level:      res.Level,
		Manifest:   res.Manifest,
	}
}

// SpaceUsed returns the bytes held by payloads and dictionary patterns.
func (a *Archive) SpaceUsed() int {
	n := 0
	for _, e := range a.Dictionary {
		n += len(e.Pattern) + 2
	}
	for _, f := range a.Files {
		n += len(f.Payload)
	}
	return n
}

// sealStage appends the body checksum and picks the smaller of the raw and
// flate encodings.
func sealStage(body []byte) ([]byte, uint8, error) {
	sum := xxHash32.Checksum(body, stageChecksumSeed)
	raw := binary.LittleEndian.AppendUint32(bytes.Clone(body), sum)
	if len(body) < flateMinPayload {
		return raw, stageParamRaw, nil
	}
	packed, err := encodeFlatePayload(body)
	if err != nil {
		return nil, 0, err
	}
	packed = binary.LittleEndian.AppendUint32(packed, sum)
	if len(packed) < len(raw) {
		return packed, stageParamFlate, nil
	}
	return raw, stageParamRaw, nil
}

// openStage reverses sealStage and checks the body checksum.
func openStage(param uint8, payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("stage payload too short: %d", len(payload))
	}
	want := binary.LittleEndian.Uint32(payload[len(payload)-4:])
	body := payload[:len(payload)-4]
	switch param {
	case stageParamRaw:
		body = bytes.Clone(body)
	case stageParamFlate:
		var err error
		if body, err = decodeFlatePayload(body); err != nil {
			return nil, fmt.Errorf("flate: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown stage encoding: %d", param)
	}
	if got := xxHash32.Checksum(body, stageChecksumSeed); got != want {
		return nil, fmt.Errorf("stage checksum mismatch: got %08x want %08x", got, want)
	}
	return body, nil
}

func encodeFlatePayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFlatePayload(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()

	limited := io.LimitReader(r, maxStagePayloadBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxStagePayloadBytes {
		return nil, fmt.Errorf("flate payload expands beyond limit")
	}
	return raw, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// stageReader decodes uvarint-framed fields from a stage body.
type stageReader struct {
	buf []byte
	off int
}

func (r *stageReader) uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("read %s at body offset %d: bad varint", what, r.off)
	}
	r.off += n
	return v, nil
}

func (r *stageReader) field(what string, limit uint64) ([]byte, error) {
	n, err := r.uvarint(what + " length")
	if err != nil {
		return nil, err
	}
	if n > limit || n > uint64(len(r.buf)-r.off) {
		return nil, fmt.Errorf("read %s at body offset %d: length %d exceeds remaining %d", what, r.off, n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *stageReader) flag(what string) (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("read %s at body offset %d: %w", what, r.off, io.ErrUnexpectedEOF)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *stageReader) done() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("trailing bytes: %d", len(r.buf)-r.off)
	}
	return nil
}

func encodeDictionaryStage(a *Archive) ([]byte, error) {
	body := binary.AppendUvarint(nil, uint64(len(a.Dictionary)))
	for _, e := range a.Dictionary {
		id, ok := token.Parse(e.Token)
		if !ok {
			return nil, fmt.Errorf("invalid token %q for pattern %q", e.Token, e.Pattern)
		}
		body = binary.LittleEndian.AppendUint16(body, id)
		body = appendString(body, e.Pattern)
	}
	return body, nil
}

func decodeDictionaryStage(dst *Archive, body []byte) error {
	r := &stageReader{buf: body}
	count, err := r.uvarint("entry count")
	if err != nil {
		return err
	}
	if count > token.MaxCapacity+1 {
		return fmt.Errorf("dictionary entry count too large: %d", count)
	}
	entries := make([]dictionary.Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(body)-r.off < 2 {
			return fmt.Errorf("entry %d: token at body offset %d: %w", i, r.off, io.ErrUnexpectedEOF)
		}
		id := binary.LittleEndian.Uint16(body[r.off:])
		r.off += 2
		p, err := r.field("pattern", maxStagePayloadBytes)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, dictionary.Entry{Pattern: string(p), Token: token.Format(id)})
	}
	if err := r.done(); err != nil {
		return err
	}
	dst.Dictionary = entries
	return nil
}

func encodeFilesStage(a *Archive) ([]byte, []byte) {
	params := []byte{0, uint8(a.Level)}
	params = append(params, a.Codec...)

	body := binary.AppendUvarint(nil, uint64(len(a.Files)))
	for _, f := range a.Files {
		var flags uint8
		if f.Raw {
			flags |= fileFlagRaw
		}
		if f.Encoded {
			flags |= fileFlagEncoded
		}
		body = appendString(body, f.Path)
		body = append(body, flags)
		body = binary.AppendUvarint(body, uint64(f.OriginalSize))
		body = binary.AppendUvarint(body, uint64(f.ReplacedSize))
		body = binary.AppendUvarint(body, uint64(len(f.Payload)))
		body = append(body, f.Payload...)
	}
	return params, body
}

func decodeFilesStageParams(dst *Archive, params []byte) error {
	if len(params) < 2 {
		return fmt.Errorf("files params too short: %d", len(params))
	}
	dst.Level = int(params[1])
	dst.Codec = string(params[2:])
	return nil
}

func decodeFilesStage(dst *Archive, body []byte) error {
	r := &stageReader{buf: body}
	count, err := r.uvarint("file count")
	if err != nil {
		return err
	}
	if count > maxStageEntries {
		return fmt.Errorf("file count too large: %d", count)
	}
	files := make([]*pipeline.FileEntry, 0, min(count, uint64(len(body))))
	for i := uint64(0); i < count; i++ {
		path, err := r.field("path", 1<<16)
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		flags, err := r.flag("flags")
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		if flags&^(fileFlagRaw|fileFlagEncoded) != 0 {
			return fmt.Errorf("file %d: unknown flags %#x", i, flags)
		}
		orig, err := r.uvarint("original size")
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		replaced, err := r.uvarint("replaced size")
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		if orig > maxStagePayloadBytes || replaced > maxStagePayloadBytes {
			return fmt.Errorf("file %d: size out of range", i)
		}
		payload, err := r.field("payload", maxStagePayloadBytes)
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		files = append(files, &pipeline.FileEntry{
			Path:         string(path),
			OriginalSize: int(orig),
			ReplacedSize: int(replaced),
			Payload:      bytes.Clone(payload),
			Raw:          flags&fileFlagRaw != 0,
			Encoded:      flags&fileFlagEncoded != 0,
		})
	}
	if err := r.done(); err != nil {
		return err
	}
	dst.Files = files
	return nil
}

func validateArchiveStructure(a *Archive) error {
	if a.Level < 0 || a.Level > 255 {
		return fmt.Errorf("level out of range: %d", a.Level)
	}
	if len(a.Codec) > 255 {
		return fmt.Errorf("codec name too long: %d", len(a.Codec))
	}
	if _, err := dictionary.FromEntries(a.Dictionary); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(a.Files))
	encoded := false
	for i, f := range a.Files {
		if f == nil {
			return fmt.Errorf("file %d is nil", i)
		}
		if f.Path == "" {
			return fmt.Errorf("file %d has an empty path", i)
		}
		if _, dup := seen[f.Path]; dup {
			return fmt.Errorf("duplicate file path %q", f.Path)
		}
		seen[f.Path] = struct{}{}
		if f.OriginalSize < 0 || f.ReplacedSize < 0 {
			return fmt.Errorf("file %q has a negative size", f.Path)
		}
		if f.Encoded {
			encoded = true
		}
	}
	if encoded {
		if _, err := codec.Lookup(a.Codec); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo serializes the Archive to an io.Writer.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	if err := validateArchiveStructure(a); err != nil {
		return 0, fmt.Errorf("invalid archive: %w", err)
	}

	dictBody, err := encodeDictionaryStage(a)
	if err != nil {
		return 0, err
	}
	filesParams, filesBody := encodeFilesStage(a)

	stages := []struct {
		name   string
		params []byte
		body   []byte
	}{
		{name: stageDictionary, params: []byte{0}, body: dictBody},
		{name: stageFiles, params: filesParams, body: filesBody},
	}
	if a.Manifest != "" {
		stages = append(stages, struct {
			name   string
			params []byte
			body   []byte
		}{name: stageManifest, params: []byte{0}, body: []byte(a.Manifest)})
	}

	var total int64
	n, err := writeBytes(w, []byte(archiveMagic))
	total += n
	if err != nil {
		return total, err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], archiveVersion)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(stages)))
	n, err = writeBytes(w, hdr[:])
	total += n
	if err != nil {
		return total, err
	}

	for _, stage := range stages {
		payload, param, err := sealStage(stage.body)
		if err != nil {
			return total, fmt.Errorf("encode stage %q: %w", stage.name, err)
		}
		stage.params[0] = param
		n, err := writeStage(w, stage.name, stage.params, payload)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom deserializes an Archive from an io.Reader.
func (a *Archive) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	var head [8]byte
	n, err := io.ReadFull(r, head[:])
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("read archive header at offset 0: %w", err)
	}
	if string(head[:4]) != archiveMagic {
		return total, fmt.Errorf("invalid archive magic at offset 0: %q", string(head[:4]))
	}
	if version := binary.LittleEndian.Uint16(head[4:6]); version != archiveVersion {
		return total, fmt.Errorf("unsupported archive version at offset 4: %d", version)
	}
	stageCount := binary.LittleEndian.Uint16(head[6:8])
	if stageCount == 0 || stageCount > maxArchiveStages {
		return total, fmt.Errorf("invalid stage count at offset 6: %d", stageCount)
	}

	var tmp Archive
	seenStages := make(map[string]bool, stageCount)

	for i := 0; i < int(stageCount); i++ {
		headerOffset := total
		header, n, err := readStageHeader(r)
		total += n
		if err != nil {
			return total, fmt.Errorf("read stage header at offset %d (stage index %d): %w", headerOffset, i, err)
		}
		if seenStages[header.name] {
			return total, fmt.Errorf("duplicate stage %q at stage index %d", header.name, i)
		}

		params := make([]byte, int(header.paramLen))
		paramsOffset := total
		nParams, err := io.ReadFull(r, params)
		total += int64(nParams)
		if err != nil {
			return total, fmt.Errorf("read stage %q params at offset %d (stage index %d): %w", header.name, paramsOffset, i, err)
		}

		switch header.name {
		case stageDictionary, stageFiles, stageManifest:
			payload := make([]byte, int(header.dataLen))
			payloadOffset := total
			nPayload, err := io.ReadFull(r, payload)
			total += int64(nPayload)
			if err != nil {
				return total, fmt.Errorf("read stage %q payload at offset %d (stage index %d): %w", header.name, payloadOffset, i, err)
			}
			if len(params) == 0 {
				return total, fmt.Errorf("stage %q at offset %d (stage index %d) has no params", header.name, paramsOffset, i)
			}
			body, err := openStage(params[0], payload)
			if err != nil {
				return total, fmt.Errorf("decode stage %q at offset %d (stage index %d): %w", header.name, payloadOffset, i, err)
			}

			switch header.name {
			case stageDictionary:
				err = decodeDictionaryStage(&tmp, body)
			case stageFiles:
				if err = decodeFilesStageParams(&tmp, params); err == nil {
					err = decodeFilesStage(&tmp, body)
				}
			case stageManifest:
				tmp.Manifest = string(body)
			}
			if err != nil {
				return total, fmt.Errorf("decode stage %q at offset %d (stage index %d): %w", header.name, payloadOffset, i, err)
			}
			seenStages[header.name] = true

		default:
			skipOffset := total
			skipped, err := io.CopyN(io.Discard, r, int64(header.dataLen))
			total += skipped
			if err != nil {
				return total, fmt.Errorf("skip unknown stage %q at offset %d (stage index %d): %w", header.name, skipOffset, i, err)
			}
		}
	}

	for _, stageName := range []string{stageDictionary, stageFiles} {
		if !seenStages[stageName] {
			return total, fmt.Errorf("missing required stage %q", stageName)
		}
	}
	if err := validateArchiveStructure(&tmp); err != nil {
		return total, fmt.Errorf("invalid archive structure: %w", err)
	}

	*a = tmp
	return total, nil
}
