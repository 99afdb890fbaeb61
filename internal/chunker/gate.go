package chunker

import (
	"fmt"
	"strings"

	"github.com/dshills/chunkrag/pkg/types"
)

// maxOverlapLines bounds how many lines consecutive windows share
const maxOverlapLines = 10

// gateGrammar keeps grammar-driven chunks whose size is within bounds and
// whose name was actually resolved.
func (e *Extractor) gateGrammar(chunks []types.Chunk) []types.Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if len(c.Content) < e.minSize || len(c.Content) > e.maxSize {
			continue
		}
		if c.Name == "" || c.Name == types.NameAnonymous || c.Name == types.NameUnknown {
			continue
		}
		out = append(out, c)
	}
	return out
}

// gateFallback keeps every non-blank heuristic chunk regardless of name or
// minimum size, and splits oversized ones into line windows. A record is
// never windowed: a delimited row carries its header line, so its content
// does not map onto its line span. Oversized records are truncated instead.
func (e *Extractor) gateFallback(chunks []types.Chunk) []types.Chunk {
	var out []types.Chunk
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		if c.Type == types.ChunkRecord && len(c.Content) > e.maxSize {
			c.Content = truncate(c.Content, e.maxSize)
			out = append(out, c)
			continue
		}
		if len(c.Content) > e.maxSize {
			out = append(out, splitOversized(c, e.maxSize)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// splitOversized cuts a chunk into windows of at most maxSize bytes on line
// boundaries, with a small overlap between neighbours.
func splitOversized(c types.Chunk, maxSize int) []types.Chunk {
	lines := strings.Split(c.Content, "\n")

	var out []types.Chunk
	for i := 0; i < len(lines); {
		size := 0
		j := i
		for j < len(lines) && (j == i || size+len(lines[j])+1 <= maxSize) {
			size += len(lines[j]) + 1
			j++
		}

		piece := c
		piece.Content = truncate(strings.Join(lines[i:j], "\n"), maxSize)
		piece.Name = fmt.Sprintf("%s#%d", c.Name, len(out)+1)
		piece.LineStart = c.LineStart + i
		piece.LineEnd = c.LineStart + j - 1
		piece.Metadata = make(map[string]string, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			piece.Metadata[k] = v
		}
		piece.Metadata["split_of"] = c.Name
		out = append(out, piece)

		if j >= len(lines) {
			break
		}
		next := j - min(maxOverlapLines, (j-i)/4)
		if next <= i {
			next = j
		}
		i = next
	}
	return out
}
