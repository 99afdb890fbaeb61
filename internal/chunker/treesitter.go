package chunker

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/chunkrag/internal/config"
	"github.com/dshills/chunkrag/internal/grammar"
	"github.com/dshills/chunkrag/pkg/types"
)

// nameCapture is the reserved capture that names the enclosing match
const nameCapture = "name"

// maxDeclaratorDepth bounds the walk through C-style declarator chains
const maxDeclaratorDepth = 6

var errNoGrammar = errors.New("no grammar available")

// identifierTypes are node types accepted as a construct's name
var identifierTypes = map[string]bool{
	"identifier":          true,
	"type_identifier":     true,
	"field_identifier":    true,
	"property_identifier": true,
	"simple_identifier":   true,
	"constant":            true,
	"name":                true,
	"word":                true,
}

type capture struct {
	kind      string
	name      string
	nodeType  string
	startByte int
	endByte   int
}

func (c capture) contains(o capture) bool {
	return c.startByte <= o.startByte && o.endByte <= c.endByte &&
		(c.startByte != o.startByte || c.endByte != o.endByte)
}

// grammarChunks parses src with the language grammar and turns every query
// capture into a chunk whose type is the capture name.
func grammarChunks(ctx context.Context, src []byte, lang config.LanguageConfig) (chunks []types.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			chunks, err = nil, fmt.Errorf("grammar extraction panicked: %v", r)
		}
	}()

	language := grammar.Lookup(lang.Name)
	if language == nil {
		return nil, fmt.Errorf("%w for %s", errNoGrammar, lang.Name)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(lang.Query), language)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var caps []capture
	seen := make(map[[2]int]bool)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}

		matchName := ""
		for _, c := range m.Captures {
			if q.CaptureNameForId(c.Index) == nameCapture {
				matchName = c.Node.Content(src)
			}
		}

		for _, c := range m.Captures {
			kind := q.CaptureNameForId(c.Index)
			if kind == nameCapture {
				continue
			}
			key := [2]int{int(c.Node.StartByte()), int(c.Node.EndByte())}
			if seen[key] {
				continue
			}
			seen[key] = true

			name := matchName
			if name == "" {
				name = resolveName(c.Node, src)
			}
			caps = append(caps, capture{
				kind:      kind,
				name:      name,
				nodeType:  c.Node.Type(),
				startByte: key[0],
				endByte:   key[1],
			})
		}
	}

	text := string(src)
	lines := newLineIndex(text)
	chunks = make([]types.Chunk, 0, len(caps))
	for _, c := range caps {
		content := text[c.startByte:c.endByte]
		start, end := lines.span(c.startByte, c.endByte)
		chunks = append(chunks, types.Chunk{
			Type:      c.kind,
			Name:      c.name,
			Content:   content,
			LineStart: start,
			LineEnd:   end,
			Signature: firstLine(content),
			Parent:    parentOf(c, caps),
			Metadata:  map[string]string{"node_type": c.nodeType},
		})
	}
	return chunks, nil
}

// resolveName finds a construct's identifier: the "name" field, then a
// C-style declarator chain, then the first identifier-like child.
func resolveName(n *sitter.Node, src []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}

	d := n.ChildByFieldName("declarator")
	for depth := 0; d != nil && depth < maxDeclaratorDepth; depth++ {
		if identifierTypes[d.Type()] {
			return d.Content(src)
		}
		next := d.ChildByFieldName("declarator")
		if next == nil {
			if id := firstIdentifierChild(d); id != nil {
				return id.Content(src)
			}
		}
		d = next
	}

	if id := firstIdentifierChild(n); id != nil {
		return id.Content(src)
	}
	return types.NameAnonymous
}

func firstIdentifierChild(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child != nil && identifierTypes[child.Type()] {
			return child
		}
	}
	return nil
}

// parentOf returns the name of the smallest capture strictly enclosing c
func parentOf(c capture, caps []capture) string {
	var parent *capture
	for i := range caps {
		o := &caps[i]
		if !o.contains(c) {
			continue
		}
		if parent == nil || parent.contains(*o) {
			parent = o
		}
	}
	if parent == nil || parent.name == types.NameAnonymous {
		return ""
	}
	return parent.name
}
