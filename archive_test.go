package dictpress

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ledgerwatch/log/v3"

	"github.com/seiflotfy/dictpress/codec"
	"github.com/seiflotfy/dictpress/config"
	"github.com/seiflotfy/dictpress/discovery"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/integrity"
)

func quietLogger() log.Logger {
	l := log.New()
	l.SetHandler(log.DiscardHandler())
	return l
}

func testCorpus() discovery.Memory {
	src := discovery.Memory{}
	for i := 0; i < 16; i++ {
		src[fmt.Sprintf("src/module%02d.ts", i)] = []byte(fmt.Sprintf(
			"import { Injectable } from '@angular/core';\n\n@Injectable({ providedIn: 'root' })\nexport class Service%d {\n  constructor(private readonly http: HttpClient) {}\n\n  fetchAll(): Observable<Item[]> {\n    return this.http.get<Item[]>('/api/items/%d');\n  }\n}\n", i, i))
	}
	src["README.md"] = []byte("# project\n\nexport class readme\n")
	src["bin/tool"] = []byte{0x7f, 'E', 'L', 'F', 0, 0, 0, 1}
	return src
}

func mustCompress(t testing.TB, src discovery.Source, opts ...Option) *Archive {
	t.Helper()
	opts = append([]Option{config.WithLogger(quietLogger())}, opts...)
	a, stats, err := CompressSource(context.Background(), src, opts...)
	if err != nil {
		t.Fatalf("CompressSource failed: %v", err)
	}
	if stats == nil || stats.Files == 0 {
		t.Fatalf("expected stats for a non-empty corpus, got %+v", stats)
	}
	return a
}

func roundTrip(t *testing.T, a *Archive) *Archive {
	t.Helper()
	var buf bytes.Buffer
	n, err := a.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("WriteTo reported %d bytes, buffer holds %d", n, buf.Len())
	}
	decoded := &Archive{}
	n2, err := decoded.ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if n2 != n {
		t.Errorf("ReadFrom read %d bytes, WriteTo wrote %d bytes", n2, n)
	}
	return decoded
}

func checkRestored(t *testing.T, a *Archive, want discovery.Memory) {
	t.Helper()
	files, err := a.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if len(files) != len(want) {
		t.Fatalf("restored %d files, want %d", len(files), len(want))
	}
	for _, f := range files {
		if !bytes.Equal(f.Content, want[f.Path]) {
			t.Fatalf("file %q mismatch:\n got %q\nwant %q", f.Path, f.Content, want[f.Path])
		}
	}
}

func TestArchiveRoundTripEveryCodec(t *testing.T) {
	src := testCorpus()
	for _, name := range codec.Names() {
		a := mustCompress(t, src, config.WithCodec(name, 5))
		decoded := roundTrip(t, a)
		if decoded.Codec != name || decoded.Level != 5 {
			t.Fatalf("codec %q level %d, want %q level 5", decoded.Codec, decoded.Level, name)
		}
		if len(decoded.Dictionary) != len(a.Dictionary) {
			t.Fatalf("%s: dictionary has %d entries, want %d", name, len(decoded.Dictionary), len(a.Dictionary))
		}
		if decoded.Manifest != a.Manifest {
			t.Fatalf("%s: manifest changed across serialization", name)
		}
		checkRestored(t, decoded, src)
	}
}

func TestArchiveWithoutFinalCompression(t *testing.T) {
	src := testCorpus()
	a := mustCompress(t, src, config.WithFinalCompression(false))
	if a.Codec != "" {
		t.Fatalf("expected no codec, got %q", a.Codec)
	}
	for _, f := range a.Files {
		if f.Encoded {
			t.Fatalf("file %q unexpectedly encoded", f.Path)
		}
	}
	checkRestored(t, roundTrip(t, a), src)
}

func TestRestoreIgnoresInflatedSizeHints(t *testing.T) {
	src := testCorpus()
	for _, name := range codec.Names() {
		a := roundTrip(t, mustCompress(t, src, config.WithCodec(name, 3)))
		for _, f := range a.Files {
			f.ReplacedSize = 1 << 30
		}
		files, err := a.RestoreContext(context.Background(), 0)
		if err != nil {
			t.Fatalf("%s: RestoreContext failed: %v", name, err)
		}
		for _, f := range files {
			if !bytes.Equal(f.Content, src[f.Path]) {
				t.Fatalf("%s: file %q mismatch", name, f.Path)
			}
		}
	}
}

func TestArchiveVerify(t *testing.T) {
	src := testCorpus()
	for _, fast := range []bool{false, true} {
		a := roundTrip(t, mustCompress(t, src, config.WithFastChecksum(fast)))
		mismatches, err := a.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if len(mismatches) != 0 {
			t.Fatalf("unexpected mismatches: %+v", mismatches)
		}
	}
}

func TestArchiveVerifyDetectsTampering(t *testing.T) {
	a := mustCompress(t, testCorpus(), config.WithFinalCompression(false))

	target := -1
	for i, f := range a.Files {
		if f.Path == "bin/tool" {
			target = i
		}
	}
	if target < 0 || !a.Files[target].Raw {
		t.Fatalf("expected bin/tool to be stored raw")
	}
	a.Files[target].Payload = bytes.Clone(a.Files[target].Payload)
	a.Files[target].Payload[len(a.Files[target].Payload)-1] ^= 0xff

	mismatches, err := a.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].Path != a.Files[target].Path {
		t.Fatalf("expected one mismatch for %q, got %+v", a.Files[target].Path, mismatches)
	}

	a.Dictionary[0].Pattern += "\x00"
	if _, err := a.Verify(); !errors.Is(err, errs.ErrIntegrityCheck) {
		t.Fatalf("expected integrity error for a changed dictionary, got %v", err)
	}

	a.Manifest = ""
	if _, err := a.Verify(); !errors.Is(err, errs.ErrIntegrityCheck) {
		t.Fatalf("expected integrity error without manifest, got %v", err)
	}
}

func TestCompressDirectory(t *testing.T) {
	src := testCorpus()
	root := t.TempDir()
	files := make([]integrity.File, 0, len(src))
	for p, b := range src {
		files = append(files, integrity.File{Path: p, Content: b})
	}
	if err := WriteFiles(root, files); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: main"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, stats, err := Compress(context.Background(), root, config.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if stats.Files != len(src) {
		t.Fatalf("compressed %d files, want %d", stats.Files, len(src))
	}
	checkRestored(t, roundTrip(t, a), src)

	out := t.TempDir()
	restored, err := a.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if err := WriteFiles(out, restored); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(out, "src", "module03.ts"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if !bytes.Equal(got, src["src/module03.ts"]) {
		t.Fatalf("restored file differs on disk")
	}
}

func TestWriteFilesRejectsEscapingPaths(t *testing.T) {
	for _, p := range []string{"../evil", "/abs/path", "a/../../b"} {
		err := WriteFiles(t.TempDir(), []integrity.File{{Path: p, Content: []byte("x")}})
		if !errors.Is(err, errs.ErrFileProcessing) {
			t.Fatalf("path %q: expected file processing error, got %v", p, err)
		}
	}
}

func TestCompressRejectsInvalidConfig(t *testing.T) {
	_, _, err := CompressSource(context.Background(), testCorpus(), config.WithMinFrequency(0))
	if !errors.Is(err, errs.ErrConfigValidation) {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

func TestReadFromSkipsUnknownStage(t *testing.T) {
	src := testCorpus()
	a := mustCompress(t, src)

	var buf bytes.Buffer
	if _, err := a.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	serialized := append([]byte(nil), buf.Bytes()...)
	stageCount := binary.LittleEndian.Uint16(serialized[6:8])
	binary.LittleEndian.PutUint16(serialized[6:8], stageCount+1)

	var extra bytes.Buffer
	if _, err := writeStage(&extra, "unknown.stage", []byte{0x42}, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("writeStage failed: %v", err)
	}
	serialized = append(serialized, extra.Bytes()...)

	decoded := &Archive{}
	if _, err := decoded.ReadFrom(bytes.NewReader(serialized)); err != nil {
		t.Fatalf("ReadFrom failed with unknown stage: %v", err)
	}
	checkRestored(t, decoded, src)
}

func TestReadFromRejectsOversizedStagePayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(archiveMagic)
	binary.Write(&buf, binary.LittleEndian, archiveVersion)
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint8(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint32(maxStagePayloadBytes+1))

	if _, err := (&Archive{}).ReadFrom(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatalf("expected oversized stage payload error")
	}
}

func TestReadFromRejectsMissingRequiredStages(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(archiveMagic)
	binary.Write(&buf, binary.LittleEndian, archiveVersion)
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	if _, err := writeStage(&buf, "unknown.only", nil, []byte{9, 9, 9}); err != nil {
		t.Fatalf("writeStage failed: %v", err)
	}

	_, err := (&Archive{}).ReadFrom(bytes.NewReader(buf.Bytes()))
	if err == nil || !strings.Contains(err.Error(), "missing required stage") {
		t.Fatalf("expected missing stage error, got %v", err)
	}
}

func TestReadFromRejectsBadMagicAndVersion(t *testing.T) {
	if _, err := (&Archive{}).ReadFrom(strings.NewReader("OPAR\x01\x00\x01\x00")); err == nil {
		t.Fatalf("expected magic error")
	}
	if _, err := (&Archive{}).ReadFrom(strings.NewReader("DPAR\x09\x00\x01\x00")); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestReadFromDetectsCorruptPayload(t *testing.T) {
	a := mustCompress(t, testCorpus(), config.WithFinalCompression(false))
	var buf bytes.Buffer
	if _, err := a.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	serialized := buf.Bytes()
	serialized[len(serialized)-10] ^= 0x55

	_, err := (&Archive{}).ReadFrom(bytes.NewReader(serialized))
	if err == nil {
		t.Fatalf("expected checksum error for corrupt payload")
	}
}

func TestReadFromErrorIncludesOffsetAndStageIndex(t *testing.T) {
	a := mustCompress(t, testCorpus())
	var buf bytes.Buffer
	if _, err := a.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	serialized := buf.Bytes()

	truncated := serialized[:len(serialized)-1]
	_, err := (&Archive{}).ReadFrom(bytes.NewReader(truncated))
	if err == nil {
		t.Fatalf("expected read error from truncated archive")
	}
	msg := err.Error()
	if !strings.Contains(msg, "offset") {
		t.Fatalf("expected error to include offset, got: %v", err)
	}
	if !strings.Contains(msg, "stage index") {
		t.Fatalf("expected error to include stage index, got: %v", err)
	}
}

func TestWriteToRejectsInvalidArchive(t *testing.T) {
	a := mustCompress(t, testCorpus())
	dup := *a
	dup.Files = append(dup.Files[:1:1], a.Files[0])
	if _, err := dup.WriteTo(&bytes.Buffer{}); err == nil {
		t.Fatalf("expected duplicate path error")
	}

	bad := *a
	bad.Codec = "gzip"
	if _, err := bad.WriteTo(&bytes.Buffer{}); err == nil {
		t.Fatalf("expected unknown codec error")
	}
}

func TestSealStageUsesFlateWhenSmaller(t *testing.T) {
	body := []byte(strings.Repeat("FILE:src/a.ts:0000000000000000::12\n", 100))
	payload, param, err := sealStage(body)
	if err != nil {
		t.Fatalf("sealStage failed: %v", err)
	}
	if param != stageParamFlate {
		t.Fatalf("expected flate for a repetitive body, got param %d", param)
	}
	if len(payload) >= len(body) {
		t.Fatalf("flate payload %d not smaller than body %d", len(payload), len(body))
	}
	got, err := openStage(param, payload)
	if err != nil {
		t.Fatalf("openStage failed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("openStage returned a different body")
	}

	small, param, err := sealStage([]byte("tiny"))
	if err != nil || param != stageParamRaw || len(small) != 8 {
		t.Fatalf("expected raw stage for a tiny body, got param %d len %d err %v", param, len(small), err)
	}
}

func TestOpenStageRejectsInvalidFlatePayload(t *testing.T) {
	if _, err := openStage(stageParamFlate, []byte{0xff, 0xff, 0xff, 1, 2, 3, 4}); err == nil {
		t.Fatalf("expected invalid flate payload error")
	}
	if _, err := openStage(7, []byte{1, 2, 3, 4}); err == nil {
		t.Fatalf("expected unknown encoding error")
	}
}

func BenchmarkArchiveRestore(b *testing.B) {
	a := mustCompress(b, testCorpus())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.Restore(); err != nil {
			b.Fatal(err)
		}
	}
}
