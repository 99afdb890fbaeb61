package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkValidate(t *testing.T) {
	valid := Chunk{Type: ChunkFunction, Name: "main", Content: "func main() {}", LineStart: 1, LineEnd: 1}

	tests := []struct {
		name    string
		mutate  func(c *Chunk)
		wantErr error
	}{
		{"valid", func(c *Chunk) {}, nil},
		{"empty content", func(c *Chunk) { c.Content = "  \n" }, ErrEmptyContent},
		{"empty name", func(c *Chunk) { c.Name = "" }, ErrEmptyName},
		{"zero line", func(c *Chunk) { c.LineStart = 0 }, ErrInvalidLineNumber},
		{"inverted range", func(c *Chunk) { c.LineStart, c.LineEnd = 5, 2 }, ErrInvalidLineRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestChunkMetadataRoundTrip(t *testing.T) {
	c := Chunk{
		Type:      ChunkMethod,
		Name:      "Close",
		Content:   "func (s *Store) Close() error { return nil }",
		Filepath:  "internal/storage/sqlite.go",
		Language:  "go",
		LineStart: 10,
		LineEnd:   12,
		Signature: "func (s *Store) Close() error {",
		Parent:    "Store",
		Metadata:  map[string]string{"node_type": "method_declaration"},
	}

	flat := c.FlatMetadata()
	assert.Equal(t, "method", flat[MetaType])
	assert.Equal(t, "10", flat[MetaLineStart])
	assert.Equal(t, "method_declaration", flat["meta_node_type"])
	assert.NotContains(t, flat, MetaNamespace)

	back := ChunkFromMetadata(c.Content, flat)
	require.NoError(t, back.Validate())
	assert.Equal(t, c, back)
}
