package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/chunkrag/pkg/types"
)

func TestGateGrammar(t *testing.T) {
	e := New(nil, WithSizeLimits(5, 40))

	chunks := []types.Chunk{
		{Name: "ok", Content: "func ok() {}"},
		{Name: "tiny", Content: "x"},
		{Name: "huge", Content: strings.Repeat("y", 41)},
		{Name: types.NameAnonymous, Content: "func() { return }"},
		{Name: types.NameUnknown, Content: "something long"},
		{Name: "", Content: "something long"},
	}

	got := e.gateGrammar(chunks)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Name)
}

func TestGateFallback(t *testing.T) {
	e := New(nil, WithSizeLimits(50, 20))

	chunks := []types.Chunk{
		{Name: "short", Content: "a", LineStart: 1, LineEnd: 1},
		{Name: "blank", Content: "  \n ", LineStart: 2, LineEnd: 3},
	}

	got := e.gateFallback(chunks)
	require.Len(t, got, 1, "fallback chunks ignore the minimum size")
	assert.Equal(t, "short", got[0].Name)
}

func TestGateFallback_RecordsAreNotWindowed(t *testing.T) {
	e := New(nil, WithSizeLimits(1, 20))

	row := types.Chunk{
		Type:      types.ChunkRecord,
		Name:      "row_1",
		Content:   "id,name,email\n1,alice,alice@example.com",
		LineStart: 2,
		LineEnd:   2,
		Metadata:  map[string]string{"header": "id,name,email"},
	}

	got := e.gateFallback([]types.Chunk{row})
	require.Len(t, got, 1)
	assert.Equal(t, "row_1", got[0].Name)
	assert.Equal(t, 2, got[0].LineStart)
	assert.Equal(t, 2, got[0].LineEnd)
	assert.LessOrEqual(t, len(got[0].Content), 20)
	assert.True(t, strings.HasPrefix(got[0].Content, "id,name"))
}

func TestSplitOversized(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "line-of-text")
	}
	c := types.Chunk{
		Type:      types.ChunkSection,
		Name:      "big",
		Content:   strings.Join(lines, "\n"),
		LineStart: 10,
		LineEnd:   49,
		Metadata:  map[string]string{"level": "1"},
	}

	pieces := splitOversized(c, 130)
	require.Greater(t, len(pieces), 1)

	assert.Equal(t, "big#1", pieces[0].Name)
	assert.Equal(t, 10, pieces[0].LineStart)
	assert.Equal(t, 49, pieces[len(pieces)-1].LineEnd)

	for i, p := range pieces {
		assert.LessOrEqual(t, len(p.Content), 130)
		assert.Equal(t, "big", p.Metadata["split_of"])
		assert.Equal(t, "1", p.Metadata["level"])
		assert.Equal(t, p.LineEnd-p.LineStart+1, strings.Count(p.Content, "\n")+1)
		if i > 0 {
			assert.Greater(t, p.LineStart, pieces[i-1].LineStart)
			assert.LessOrEqual(t, p.LineStart, pieces[i-1].LineEnd+1)
		}
	}
	assert.NotContains(t, c.Metadata, "split_of", "original metadata untouched")
}

func TestSplitOversized_SingleLongLine(t *testing.T) {
	c := types.Chunk{Name: "row", Content: strings.Repeat("z", 300), LineStart: 3, LineEnd: 3}

	pieces := splitOversized(c, 100)
	require.Len(t, pieces, 1)
	assert.Len(t, pieces[0].Content, 100)
	assert.Equal(t, 3, pieces[0].LineStart)
	assert.Equal(t, 3, pieces[0].LineEnd)
}
