package chunker

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/architecture"
	"github.com/dshills/chunkrag/internal/config"
	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/pkg/types"
)

const (
	// DefaultMinChunkSize is the smallest grammar-driven chunk kept, in bytes
	DefaultMinChunkSize = 10

	// DefaultMaxChunkSize is the largest chunk kept whole, in bytes
	DefaultMaxChunkSize = 10000
)

// Strategy identifies which step of the cascade produced a file's chunks
type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyGrammar   Strategy = "grammar"
	StrategyHeading   Strategy = "heading"
	StrategySection   Strategy = "section"
	StrategyRecord    Strategy = "record"
	StrategyParagraph Strategy = "paragraph"
)

// Extractor runs the extraction cascade for one or more languages.
// An Extractor holds no parser state between calls; tree-sitter objects are
// created and released inside each Extract call.
type Extractor struct {
	languages map[string]config.LanguageConfig
	minSize   int
	maxSize   int
	logger    *zap.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithSizeLimits sets the quality gate bounds
func WithSizeLimits(minSize, maxSize int) Option {
	return func(e *Extractor) {
		if minSize > 0 {
			e.minSize = minSize
		}
		if maxSize > 0 {
			e.maxSize = maxSize
		}
	}
}

// WithLogger sets the logger used to report degraded strategies
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger.OrNop(l)
	}
}

// New creates an Extractor for the given language table
func New(languages []config.LanguageConfig, opts ...Option) *Extractor {
	e := &Extractor{
		languages: make(map[string]config.LanguageConfig, len(languages)),
		minSize:   DefaultMinChunkSize,
		maxSize:   DefaultMaxChunkSize,
		logger:    zap.NewNop(),
	}
	for _, l := range languages {
		e.languages[strings.ToLower(l.Name)] = l
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supports reports whether the language has an entry in the table
func (e *Extractor) Supports(language string) bool {
	_, ok := e.languages[strings.ToLower(language)]
	return ok
}

// Extract returns the chunks for one file. It never fails: a strategy that
// errors or yields nothing hands over to the next one, and empty input
// yields no chunks.
func (e *Extractor) Extract(ctx context.Context, source, path, language string) []types.Chunk {
	chunks, _ := e.ExtractWithStrategy(ctx, source, path, language)
	return chunks
}

// ExtractWithStrategy is Extract that also reports which strategy won
func (e *Extractor) ExtractWithStrategy(ctx context.Context, source, path, language string) ([]types.Chunk, Strategy) {
	if strings.TrimSpace(source) == "" {
		return nil, StrategyNone
	}
	language = strings.ToLower(language)

	if lang, ok := e.languages[language]; ok && lang.Precise() {
		chunks, err := grammarChunks(ctx, []byte(source), lang)
		if err != nil {
			e.logger.Debug("grammar extraction degraded",
				zap.String("path", path),
				zap.String("language", language),
				zap.Error(err))
		}
		if chunks = e.gateGrammar(chunks); len(chunks) > 0 {
			return finish(chunks, path, language), StrategyGrammar
		}
	}

	var (
		chunks   []types.Chunk
		strategy Strategy
	)
	switch architecture.Classify(language) {
	case architecture.Heading:
		chunks, strategy = headingChunks(source), StrategyHeading
	case architecture.Section:
		chunks, strategy = sectionChunks(source), StrategySection
	case architecture.Record:
		chunks, strategy = recordChunks(source), StrategyRecord
	}
	if chunks = e.gateFallback(chunks); len(chunks) > 0 {
		return finish(chunks, path, language), strategy
	}

	if chunks = e.gateFallback(paragraphChunks(source)); len(chunks) > 0 {
		return finish(chunks, path, language), StrategyParagraph
	}
	return nil, StrategyNone
}

// finish stamps file-level fields on every chunk
func finish(chunks []types.Chunk, path, language string) []types.Chunk {
	for i := range chunks {
		chunks[i].Filepath = path
		chunks[i].Language = language
	}
	return chunks
}
