package integrity

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/seiflotfy/dictpress/errs"
)

// Manifest directives. One directive per line; blank lines and lines starting
// with '#' are ignored.
//
//	DICT_HASH:<hex sha256 of the dictionary>
//	FILE:<path>:<xxhash64 hex>:<sha256 hex, empty in fast mode>:<size>
//
// The path may itself contain ':'; the other fields are split off from the
// right.
const (
	directiveDictHash = "DICT_HASH:"
	directiveFile     = "FILE:"
	manifestHeader    = "# dictpress manifest v1"
)

// GenerateManifest checksums files, records them and renders the manifest
// together with the dictionary hash.
func (v *Validator) GenerateManifest(files []File, d Mapping) (string, error) {
	hash := mappingHash(d)

	var b strings.Builder
	b.WriteString(manifestHeader)
	b.WriteByte('\n')
	b.WriteString(directiveDictHash)
	b.WriteString(hash)
	b.WriteByte('\n')

	sums := make([]Checksum, len(files))
	for i, f := range files {
		if strings.ContainsAny(f.Path, "\r\n") {
			return "", &errs.Error{Kind: errs.KindIntegrityCheck, Op: "generate manifest", Path: f.Path, Err: fmt.Errorf("path contains a line break")}
		}
		sums[i] = v.Checksum(f.Content)
		fmt.Fprintf(&b, "%s%s:%016x:%s:%d\n", directiveFile, f.Path, sums[i].Fast, sums[i].Digest, sums[i].Size)
	}

	v.mu.Lock()
	v.dictHash = hash
	for i, f := range files {
		v.set(f.Path, sums[i])
	}
	v.mu.Unlock()
	return b.String(), nil
}

// ParseManifest replaces the validator's tables with the manifest content.
func (v *Validator) ParseManifest(text string) error {
	const op = "parse manifest"
	var (
		hash  string
		files = make(map[string]Checksum)
		order []string
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, directiveDictHash):
			if hash != "" {
				return errs.Newf(errs.KindIntegrityCheck, op, "line %d: duplicate %s", lineNo, strings.TrimSuffix(directiveDictHash, ":"))
			}
			hash = strings.TrimPrefix(line, directiveDictHash)
			if hash == "" {
				return errs.Newf(errs.KindIntegrityCheck, op, "line %d: empty dictionary hash", lineNo)
			}
		case strings.HasPrefix(line, directiveFile):
			path, sum, err := parseFileLine(strings.TrimPrefix(line, directiveFile))
			if err != nil {
				return errs.Newf(errs.KindIntegrityCheck, op, "line %d: %v", lineNo, err)
			}
			if _, dup := files[path]; dup {
				return &errs.Error{Kind: errs.KindIntegrityCheck, Op: op, Path: path, Err: fmt.Errorf("line %d: duplicate file", lineNo)}
			}
			files[path] = sum
			order = append(order, path)
		default:
			return errs.Newf(errs.KindIntegrityCheck, op, "line %d: unknown directive %q", lineNo, line)
		}
	}
	if err := sc.Err(); err != nil {
		return errs.New(errs.KindIntegrityCheck, op, err)
	}
	if hash == "" {
		return errs.Newf(errs.KindIntegrityCheck, op, "missing %s line", strings.TrimSuffix(directiveDictHash, ":"))
	}

	v.mu.Lock()
	v.dictHash = hash
	v.files = files
	v.order = order
	v.mu.Unlock()
	return nil
}

func parseFileLine(rest string) (string, Checksum, error) {
	fields := make([]string, 3)
	for i := 2; i >= 0; i-- {
		idx := strings.LastIndexByte(rest, ':')
		if idx < 0 {
			return "", Checksum{}, fmt.Errorf("malformed FILE line")
		}
		fields[i] = rest[idx+1:]
		rest = rest[:idx]
	}
	path := rest
	if path == "" {
		return "", Checksum{}, fmt.Errorf("empty path")
	}
	fast, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return "", Checksum{}, fmt.Errorf("bad fast checksum %q: %w", fields[0], err)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || size < 0 {
		return "", Checksum{}, fmt.Errorf("bad size %q", fields[2])
	}
	return path, Checksum{Fast: fast, Digest: fields[1], Size: size}, nil
}

// VerifyDictionary checks that d hashes to the recorded dictionary hash.
func (v *Validator) VerifyDictionary(d Mapping) (bool, error) {
	want := v.DictionaryHash()
	if want == "" {
		return false, errs.Newf(errs.KindIntegrityCheck, "verify dictionary", "no dictionary hash recorded")
	}
	return mappingHash(d) == want, nil
}
