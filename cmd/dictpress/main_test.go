package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		var b strings.Builder
		for j := 0; j < 20; j++ {
			fmt.Fprintf(&b, "export function handleRequest%d(ctx: RequestContext) { return ctx.respond(%d) }\n", j, i)
		}
		p := filepath.Join(dir, "src", fmt.Sprintf("handler%d.ts", i))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.bin"), []byte{0, 1, 2, 3, 0xff}, 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"dictpress", "--verbosity", "crit"}, args...))
	return out.String(), err
}

func TestCompressDecompressVerify(t *testing.T) {
	src := writeTree(t)
	archive := filepath.Join(t.TempDir(), "tree.dpar")
	restored := filepath.Join(t.TempDir(), "out")

	_, err := run(t, "compress", "-o", archive, "--codec", "lz4", "--level", "5", src)
	require.NoError(t, err)

	_, err = run(t, "verify", archive)
	require.NoError(t, err)

	_, err = run(t, "decompress", "-o", restored, archive)
	require.NoError(t, err)

	err = filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		require.NoError(t, err)
		want, err := os.ReadFile(path)
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(restored, rel))
		require.NoError(t, err, rel)
		assert.Equal(t, want, got, rel)
		return nil
	})
	require.NoError(t, err)
}

func TestAnalyzePrintsPatterns(t *testing.T) {
	out, err := run(t, "analyze", "--top", "3", writeTree(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "7 files, 6 text")
}

func TestInvalidFlags(t *testing.T) {
	src := writeTree(t)

	_, err := run(t, "compress", "--chunk-size", "lots", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk-size")

	_, err = run(t, "compress", "--min-frequency", "1", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MinFrequency")

	_, err = run(t, "verify")
	require.Error(t, err)

	_, err = run(t, "verify", filepath.Join(t.TempDir(), "missing.dpar"))
	require.Error(t, err)
}
