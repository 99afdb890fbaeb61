package chunker

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// lineIndex maps byte offsets to 1-based line numbers
type lineIndex []int

func newLineIndex(src string) lineIndex {
	idx := make(lineIndex, 0, strings.Count(src, "\n"))
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			idx = append(idx, i)
		}
	}
	return idx
}

// line returns the number of newlines before offset, plus one
func (li lineIndex) line(offset int) int {
	return sort.SearchInts(li, offset) + 1
}

// span returns the inclusive line range of src[start:end]
func (li lineIndex) span(start, end int) (int, int) {
	first := li.line(start)
	if end <= start {
		return first, first
	}
	return first, li.line(end - 1)
}

// splitLines splits on newlines, dropping one trailing newline and any
// carriage returns so CRLF input behaves like LF input.
func splitLines(src string) []string {
	src = strings.TrimSuffix(src, "\n")
	lines := strings.Split(src, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// trimTrailingBlank drops blank lines from the end of a run
func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && isBlank(lines[end-1]) {
		end--
	}
	return lines[:end]
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// firstLine returns the first line of s without surrounding whitespace
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
