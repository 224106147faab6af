package analyzer

import (
	"unicode"
	"unicode/utf8"
)

// MaxPatternLength caps the window length in runes.
const MaxPatternLength = 50

// ForEachWindow calls fn for every eligible window whose first rune starts in
// content[start:end). Windows may read up to MaxPatternLength-1 runes past end,
// so scanning adjacent ranges visits every window of the whole content exactly
// once. start and end must be rune boundaries.
//
// A window of n runes (minLen <= n <= MaxPatternLength) is eligible unless it
// is all whitespace, a single repeated rune, or less than half alphanumeric.
// The string passed to fn aliases content.
func ForEachWindow(content string, start, end, minLen int, fn func(string)) {
	if minLen < 1 {
		minLen = 1
	}
	if start < 0 {
		start = 0
	}
	if end > len(content) {
		end = len(content)
	}
	if start >= end || minLen > MaxPatternLength {
		return
	}

	runes := make([]rune, 0, end-start+MaxPatternLength)
	offs := make([]int, 0, end-start+MaxPatternLength+1)
	owned := 0
	pos := start
	for pos < len(content) {
		if pos >= end {
			if len(runes)-owned >= MaxPatternLength-1 {
				break
			}
		} else {
			owned++
		}
		r, size := utf8.DecodeRuneInString(content[pos:])
		runes = append(runes, r)
		offs = append(offs, pos)
		pos += size
	}
	offs = append(offs, pos)

	for i := 0; i < owned; i++ {
		maxN := len(runes) - i
		if maxN > MaxPatternLength {
			maxN = MaxPatternLength
		}
		if maxN < minLen {
			// shorter tails only get shorter
			break
		}

		var spaces, alnum int
		same := true
		first := runes[i]
		for n := 1; n <= maxN; n++ {
			r := runes[i+n-1]
			if unicode.IsSpace(r) {
				spaces++
			}
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				alnum++
			}
			if r != first {
				same = false
			}
			if n < minLen || spaces == n || same || 2*alnum < n {
				continue
			}
			fn(content[offs[i]:offs[i+n]])
		}
	}
}

// Eligible reports whether p passes the window filter on its own.
func Eligible(p string) bool {
	n := 0
	var spaces, alnum int
	same := true
	var first rune
	for _, r := range p {
		if n == 0 {
			first = r
		}
		n++
		if unicode.IsSpace(r) {
			spaces++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
		if r != first {
			same = false
		}
	}
	if n == 0 || n > MaxPatternLength {
		return false
	}
	return spaces != n && !same && 2*alnum >= n
}

// Chunks splits content into consecutive byte ranges of about size bytes,
// each starting on a rune boundary. Scanning every range with ForEachWindow
// gives the same counts as scanning content at once.
func Chunks(content string, size int) [][2]int {
	if size <= 0 || len(content) <= size {
		return [][2]int{{0, len(content)}}
	}
	ranges := make([][2]int, 0, len(content)/size+1)
	for start := 0; start < len(content); {
		end := start + size
		if end >= len(content) {
			end = len(content)
		} else {
			for end < len(content) && !utf8.RuneStart(content[end]) {
				end++
			}
		}
		ranges = append(ranges, [2]int{start, end})
		start = end
	}
	return ranges
}
