package types

import (
	"strconv"
	"strings"
)

// ChunkType tags what kind of construct a chunk holds. The set is open:
// grammar-driven extraction uses the query capture name verbatim.
type ChunkType = string

const (
	ChunkFunction  ChunkType = "function"
	ChunkClass     ChunkType = "class"
	ChunkMethod    ChunkType = "method"
	ChunkSection   ChunkType = "section"
	ChunkRecord    ChunkType = "record"
	ChunkParagraph ChunkType = "paragraph"
)

// Placeholder names assigned when no identifier could be resolved
const (
	NameAnonymous = "anonymous"
	NameUnknown   = "unknown"
)

// Metadata keys used when a chunk is flattened for the collection store
const (
	MetaType      = "type"
	MetaName      = "name"
	MetaFilepath  = "filepath"
	MetaLanguage  = "language"
	MetaLineStart = "line_start"
	MetaLineEnd   = "line_end"
	MetaSignature = "signature"
	MetaNamespace = "namespace"
	MetaParent    = "parent"

	extraPrefix = "meta_"
)

// Chunk is a named, typed, line-addressed excerpt of a source file
type Chunk struct {
	Type     ChunkType
	Name     string
	Content  string
	Filepath string // Relative to the indexed root, slash separated
	Language string

	// 1-based, inclusive
	LineStart int
	LineEnd   int

	Signature string
	Namespace string
	Parent    string
	Metadata  map[string]string
}

// Validate checks the chunk invariants
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.LineStart <= 0 || c.LineEnd <= 0 {
		return ErrInvalidLineNumber
	}
	if c.LineStart > c.LineEnd {
		return ErrInvalidLineRange
	}
	return nil
}

// FlatMetadata flattens the chunk into the string map stored alongside its
// content. Extractor-specific facts are prefixed with "meta_".
func (c *Chunk) FlatMetadata() map[string]string {
	m := map[string]string{
		MetaType:      c.Type,
		MetaName:      c.Name,
		MetaFilepath:  c.Filepath,
		MetaLanguage:  c.Language,
		MetaLineStart: strconv.Itoa(c.LineStart),
		MetaLineEnd:   strconv.Itoa(c.LineEnd),
	}
	if c.Signature != "" {
		m[MetaSignature] = c.Signature
	}
	if c.Namespace != "" {
		m[MetaNamespace] = c.Namespace
	}
	if c.Parent != "" {
		m[MetaParent] = c.Parent
	}
	for k, v := range c.Metadata {
		m[extraPrefix+k] = v
	}
	return m
}

// ChunkFromMetadata rebuilds a chunk from stored content and flat metadata
func ChunkFromMetadata(content string, m map[string]string) Chunk {
	c := Chunk{
		Type:      m[MetaType],
		Name:      m[MetaName],
		Content:   content,
		Filepath:  m[MetaFilepath],
		Language:  m[MetaLanguage],
		Signature: m[MetaSignature],
		Namespace: m[MetaNamespace],
		Parent:    m[MetaParent],
	}
	c.LineStart, _ = strconv.Atoi(m[MetaLineStart])
	c.LineEnd, _ = strconv.Atoi(m[MetaLineEnd])

	for k, v := range m {
		if rest, ok := strings.CutPrefix(k, extraPrefix); ok {
			if c.Metadata == nil {
				c.Metadata = make(map[string]string)
			}
			c.Metadata[rest] = v
		}
	}
	return c
}
