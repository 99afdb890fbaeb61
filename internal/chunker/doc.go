// Package chunker divides source files into named, line-addressed chunks for
// embedding and search.
//
// Extraction is a cascade. Each step either produces chunks that pass the
// quality gate or hands over to the next one:
//
//  1. Grammar: for languages configured in precise mode, a tree-sitter query
//     runs over the parse tree and every capture becomes a chunk whose type is
//     the capture name. A capture named "name" supplies the chunk name.
//  2. Architecture fallback: the language's architecture picks a heuristic
//     splitter. Heading languages split on markdown headings, section
//     languages on top-level keys or [sections], record languages on JSON
//     array elements or data rows.
//  3. Paragraph: content is split on blank lines.
//
// # Basic Usage
//
//	ex := chunker.New(cfg.Languages, chunker.WithSizeLimits(10, 10000))
//	for _, c := range ex.Extract(ctx, source, "docs/setup.md", "markdown") {
//	    fmt.Printf("%s %s lines %d-%d\n", c.Type, c.Name, c.LineStart, c.LineEnd)
//	}
//
// # Quality Gate
//
// Grammar chunks are dropped when smaller than the minimum size, larger than
// the maximum, or unnamed. Heuristic chunks keep whatever name they were
// given; oversized ones are cut into overlapping line windows named
// "<name>#<n>".
//
// Extract never returns an error. Parse failures, broken queries and
// grammar panics all degrade to the next step.
package chunker
