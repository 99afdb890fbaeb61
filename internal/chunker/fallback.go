package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/chunkrag/pkg/types"
)

const (
	defaultHeadingTitle = "Introduction"
	defaultSectionName  = "root"
)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	sectionRe = regexp.MustCompile(`^(\[.+\]|[a-zA-Z_][\w.]*:)\s*$`)
	fenceRe   = regexp.MustCompile("^\\s*(```|~~~)")
)

// run is a contiguous block of lines starting at a 0-based line index
type run struct {
	name  string
	start int
	lines []string
	meta  map[string]string
}

func (r run) chunk(kind string) (types.Chunk, bool) {
	body := trimTrailingBlank(r.lines)
	content := strings.Join(body, "\n")
	if strings.TrimSpace(content) == "" {
		return types.Chunk{}, false
	}
	return types.Chunk{
		Type:      kind,
		Name:      r.name,
		Content:   content,
		LineStart: r.start + 1,
		LineEnd:   r.start + len(body),
		Metadata:  r.meta,
	}, true
}

// headingChunks splits markdown-like documents on heading lines. Content
// before the first heading is titled "Introduction". Lines inside fenced
// code blocks never start a new section.
func headingChunks(source string) []types.Chunk {
	lines := splitLines(source)

	var chunks []types.Chunk
	cur := run{name: defaultHeadingTitle}
	flush := func(end int) {
		cur.lines = lines[cur.start:end]
		if c, ok := cur.chunk(types.ChunkSection); ok {
			chunks = append(chunks, c)
		}
	}

	inFence := false
	for i, line := range lines {
		if fenceRe.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		flush(i)
		cur = run{
			name:  nameOr(strings.TrimSpace(m[2]), defaultHeadingTitle),
			start: i,
			meta:  map[string]string{"level": strconv.Itoa(len(m[1]))},
		}
	}
	flush(len(lines))
	return chunks
}

// sectionChunks splits config files on non-indented "key:" or "[section]"
// lines. Content before the first section is named "root".
func sectionChunks(source string) []types.Chunk {
	lines := splitLines(source)

	var chunks []types.Chunk
	cur := run{name: defaultSectionName}
	flush := func(end int) {
		cur.lines = lines[cur.start:end]
		if c, ok := cur.chunk(types.ChunkSection); ok {
			chunks = append(chunks, c)
		}
	}

	for i, line := range lines {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		m := sectionRe.FindStringSubmatch(strings.TrimRight(line, " \t"))
		if m == nil {
			continue
		}
		flush(i)
		cur = run{name: nameOr(strings.TrimSpace(strings.Trim(m[1], "[]:")), defaultSectionName), start: i}
	}
	flush(len(lines))
	return chunks
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// recordChunks emits one chunk per element of a homogeneous JSON array, or
// one chunk per data row of line-oriented content paired with its header.
func recordChunks(source string) []types.Chunk {
	if chunks, ok := jsonRecords(source); ok {
		return chunks
	}

	lines := splitLines(source)
	if len(lines) <= 1 {
		return nil
	}

	header := lines[0]
	var chunks []types.Chunk
	for i := 1; i < len(lines); i++ {
		if isBlank(lines[i]) {
			continue
		}
		chunks = append(chunks, types.Chunk{
			Type:      types.ChunkRecord,
			Name:      fmt.Sprintf("row_%d", i),
			Content:   header + "\n" + lines[i],
			LineStart: i + 1,
			LineEnd:   i + 1,
			Metadata:  map[string]string{"header": header},
		})
	}
	return chunks
}

func jsonRecords(source string) ([]types.Chunk, bool) {
	if !strings.HasPrefix(strings.TrimSpace(source), "[") || !gjson.Valid(source) {
		return nil, false
	}
	elems := gjson.Parse(source).Array()
	if len(elems) == 0 || !homogeneous(elems) {
		return nil, false
	}

	lines := newLineIndex(source)
	chunks := make([]types.Chunk, 0, len(elems))
	cursor := 0
	for i, el := range elems {
		off := strings.Index(source[cursor:], el.Raw)
		if off < 0 {
			return nil, false
		}
		start := cursor + off
		end := start + len(el.Raw)
		cursor = end

		first, last := lines.span(start, end)
		chunks = append(chunks, types.Chunk{
			Type:      types.ChunkRecord,
			Name:      fmt.Sprintf("record_%d", i),
			Content:   el.Raw,
			LineStart: first,
			LineEnd:   last,
			Metadata:  map[string]string{"kind": jsonKind(el)},
		})
	}
	return chunks, true
}

func homogeneous(elems []gjson.Result) bool {
	kind := jsonKind(elems[0])
	for _, el := range elems[1:] {
		if jsonKind(el) != kind {
			return false
		}
	}
	return true
}

func jsonKind(r gjson.Result) string {
	switch r.Type {
	case gjson.JSON:
		if r.IsArray() {
			return "array"
		}
		return "object"
	case gjson.True, gjson.False:
		return "bool"
	case gjson.Number:
		return "number"
	case gjson.String:
		return "string"
	default:
		return "null"
	}
}

// paragraphChunks splits on blank lines. Input without any blank line
// produces nothing.
func paragraphChunks(source string) []types.Chunk {
	lines := splitLines(source)

	hasBlank := false
	for _, l := range lines {
		if isBlank(l) {
			hasBlank = true
			break
		}
	}
	if !hasBlank {
		return nil
	}

	var chunks []types.Chunk
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		r := run{name: fmt.Sprintf("paragraph_%d", len(chunks)+1), start: start, lines: lines[start:end]}
		if c, ok := r.chunk(types.ChunkParagraph); ok {
			chunks = append(chunks, c)
		}
		start = -1
	}

	for i, l := range lines {
		if isBlank(l) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(lines))
	return chunks
}
