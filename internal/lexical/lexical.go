// Package lexical implements an in-memory Okapi BM25 index over the chunk
// collection. The index is rebuilt wholesale from the store and swapped in
// atomically; readers never observe a half-built index.
package lexical

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/internal/metrics"
	"github.com/dshills/chunkrag/internal/storage"
	"github.com/dshills/chunkrag/pkg/types"
)

// Okapi BM25 parameters
const (
	K1      = 1.5
	B       = 0.75
	Epsilon = 0.25
)

// Document is one chunk as seen by the lexical index. Content is only used
// while building and is not retained.
type Document struct {
	ID       string
	Content  string
	Language string
	Type     string
}

// Filter restricts hits by chunk metadata. Empty fields match everything.
type Filter struct {
	Language string
	Type     string
}

func (f Filter) matches(d docInfo) bool {
	if f.Language != "" && d.language != f.Language {
		return false
	}
	if f.Type != "" && d.typ != f.Type {
		return false
	}
	return true
}

// Hit is a scored document
type Hit struct {
	ID    string
	Score float64
}

type posting struct {
	doc int
	tf  int
}

type docInfo struct {
	id       string
	language string
	typ      string
	length   int
}

// Snapshot is an immutable BM25 index
type Snapshot struct {
	docs     []docInfo
	postings map[string][]posting
	idf      map[string]float64
	avgdl    float64
}

// Tokenize lower-cases text and splits it on whitespace
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Build indexes docs in the given order
func Build(docs []Document) *Snapshot {
	s := &Snapshot{
		docs:     make([]docInfo, len(docs)),
		postings: make(map[string][]posting),
		idf:      make(map[string]float64),
	}

	total := 0
	for i, d := range docs {
		tokens := Tokenize(d.Content)
		total += len(tokens)
		s.docs[i] = docInfo{id: d.ID, language: d.Language, typ: d.Type, length: len(tokens)}

		freqs := make(map[string]int)
		for _, tok := range tokens {
			freqs[tok]++
		}
		for tok, tf := range freqs {
			s.postings[tok] = append(s.postings[tok], posting{doc: i, tf: tf})
		}
	}
	if len(docs) == 0 {
		return s
	}
	s.avgdl = float64(total) / float64(len(docs))

	n := float64(len(docs))
	sum := 0.0
	var negative []string
	for tok, ps := range s.postings {
		df := float64(len(ps))
		idf := math.Log(n-df+0.5) - math.Log(df+0.5)
		s.idf[tok] = idf
		sum += idf
		if idf < 0 {
			negative = append(negative, tok)
		}
	}
	floor := Epsilon * sum / float64(len(s.idf))
	for _, tok := range negative {
		s.idf[tok] = floor
	}
	return s
}

// Len returns the number of indexed documents
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}

// Scores returns the BM25 score of every document for query, in build order
func (s *Snapshot) Scores(query string) []float64 {
	scores := make([]float64, s.Len())
	if s.Len() == 0 {
		return scores
	}
	for _, tok := range Tokenize(query) {
		idf, ok := s.idf[tok]
		if !ok {
			continue
		}
		for _, p := range s.postings[tok] {
			tf := float64(p.tf)
			dl := float64(s.docs[p.doc].length)
			scores[p.doc] += idf * tf * (K1 + 1) / (tf + K1*(1-B+B*dl/s.avgdl))
		}
	}
	return scores
}

// Search returns up to n hits for query ordered by descending score. Ties
// keep build order. Documents scoring zero or less are dropped and the
// filter is applied after ranking.
func (s *Snapshot) Search(query string, n int, filter Filter) []Hit {
	if s.Len() == 0 || n <= 0 {
		return nil
	}
	scores := s.Scores(query)

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}

	hits := make([]Hit, 0, len(order))
	for _, i := range order {
		if scores[i] <= 0 {
			break
		}
		if !filter.matches(s.docs[i]) {
			continue
		}
		hits = append(hits, Hit{ID: s.docs[i].id, Score: scores[i]})
	}
	return hits
}

// Index holds the current snapshot and a staleness flag. It is safe for
// concurrent use.
type Index struct {
	snap       atomic.Pointer[Snapshot]
	stale      atomic.Bool
	generation atomic.Uint64
	logger     *zap.Logger
}

// NewIndex creates an empty index. A nil logger disables logging.
func NewIndex(l *zap.Logger) *Index {
	idx := &Index{logger: logger.OrNop(l)}
	idx.snap.Store(Build(nil))
	return idx
}

// Swap installs snap as the current snapshot and clears the stale flag
func (idx *Index) Swap(snap *Snapshot) {
	if snap == nil {
		snap = Build(nil)
	}
	idx.snap.Store(snap)
	idx.stale.Store(false)
}

// Rebuild loads every live chunk from store and swaps in a fresh snapshot.
// If MarkStale is called while the rebuild runs the index stays stale.
func (idx *Index) Rebuild(ctx context.Context, store storage.Store) error {
	start := time.Now()
	gen := idx.generation.Load()

	res, err := store.Get(ctx, storage.GetRequest{})
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	docs := make([]Document, res.Len())
	for i := range docs {
		docs[i] = Document{
			ID:       res.IDs[i],
			Content:  res.Contents[i],
			Language: res.Metadatas[i][types.MetaLanguage],
			Type:     res.Metadatas[i][types.MetaType],
		}
	}
	snap := Build(docs)

	idx.snap.Store(snap)
	if idx.generation.Load() == gen {
		idx.stale.CompareAndSwap(true, false)
	}
	metrics.LexicalRebuildsTotal.Inc()

	idx.logger.Debug("lexical index rebuilt",
		zap.Int("documents", snap.Len()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Search queries the current snapshot
func (idx *Index) Search(query string, n int, filter Filter) []Hit {
	return idx.snap.Load().Search(query, n, filter)
}

// SearchContext is Search that gives up when ctx is done
func (idx *Index) SearchContext(ctx context.Context, query string, n int, filter Filter) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := idx.Search(query, n, filter)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// MarkStale flags the index as lagging behind the store
func (idx *Index) MarkStale() {
	idx.generation.Add(1)
	idx.stale.Store(true)
}

// Stale reports whether the store changed since the last rebuild
func (idx *Index) Stale() bool {
	return idx.stale.Load()
}

// Len returns the number of documents in the current snapshot
func (idx *Index) Len() int {
	return idx.snap.Load().Len()
}
