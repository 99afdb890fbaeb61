package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/lexical"
	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/internal/metrics"
	"github.com/dshills/chunkrag/internal/storage"
	"github.com/dshills/chunkrag/pkg/types"
)

const (
	// DefaultRRFConstant is the k in 1/(k+rank+1)
	DefaultRRFConstant = 60

	DefaultTopK = 10
	MaxTopK     = 100

	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour

	// candidateFactor scales TopK into the per-mode candidate count
	candidateFactor = 2
)

var (
	// ErrEmptyQuery is returned for a blank query or symbol name
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidMode is returned for an unknown retrieval mode
	ErrInvalidMode = errors.New("unsupported search mode")

	// ErrBothModesFailed is returned when neither dense nor lexical
	// retrieval produced a candidate list
	ErrBothModesFailed = errors.New("both retrieval modes failed")
)

// Mode selects the retrieval modes used by a search
type Mode string

const (
	ModeHybrid  Mode = "hybrid"  // dense + lexical fused with RRF
	ModeDense   Mode = "dense"   // embedding similarity only
	ModeLexical Mode = "lexical" // BM25 only
)

// ParseMode converts a user supplied mode name. Empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeHybrid, ModeDense, ModeLexical:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidMode, s)
	}
}

// LexicalIndex is the keyword side of retrieval
type LexicalIndex interface {
	SearchContext(ctx context.Context, query string, n int, filter lexical.Filter) ([]lexical.Hit, error)
	Rebuild(ctx context.Context, store storage.Store) error
	MarkStale()
	Stale() bool
	Len() int
}

// Request contains parameters for a search operation
type Request struct {
	Query    string
	TopK     int
	Language string
	Type     string
	Mode     Mode
}

func (r Request) where() storage.Where {
	w := storage.Where{}
	if r.Language != "" {
		w[types.MetaLanguage] = r.Language
	}
	if r.Type != "" {
		w[types.MetaType] = r.Type
	}
	return w
}

// Response contains ranked results and how they were produced
type Response struct {
	Results []types.ScoredChunk

	// Mode is the mode actually used, which differs from the requested one
	// when hybrid retrieval degraded
	Mode Mode

	// Degraded names the retrieval mode that was dropped, if any
	Degraded string

	// LexicalStale reports that the lexical index lags behind the store
	LexicalStale bool

	DenseResults   int
	LexicalResults int
	CacheHit       bool
	Duration       time.Duration
}

// SymbolRequest looks chunks up by exact name
type SymbolRequest struct {
	Name     string
	Type     string
	Language string
	Limit    int
}

// Stats describes the searchable collection
type Stats struct {
	*storage.Stats
	LexicalDocuments int
	LexicalStale     bool
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher runs hybrid retrieval over a chunk store and a lexical index
type Searcher struct {
	store              storage.Store
	lexical            LexicalIndex
	rrfK               float64
	denseOnlyWhenStale bool
	cacheSize          int
	cacheTTL           time.Duration
	logger             *zap.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithRRFConstant sets the fusion constant k. Non-positive values are ignored.
func WithRRFConstant(k float64) Option {
	return func(s *Searcher) {
		if k > 0 {
			s.rrfK = k
		}
	}
}

// WithDenseOnlyWhenStale makes hybrid searches skip the lexical mode while
// the lexical index is stale
func WithDenseOnlyWhenStale(enabled bool) Option {
	return func(s *Searcher) {
		s.denseOnlyWhenStale = enabled
	}
}

// WithCache sets the query cache size and entry lifetime. A size below zero
// disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(s *Searcher) {
		if size != 0 {
			s.cacheSize = size
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger.OrNop(l)
	}
}

// New creates a Searcher
func New(store storage.Store, idx LexicalIndex, opts ...Option) *Searcher {
	s := &Searcher{
		store:     store,
		lexical:   idx,
		rrfK:      DefaultRRFConstant,
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize > 0 {
		cache, err := lru.New[[32]byte, *cacheEntry](s.cacheSize)
		if err != nil {
			panic(fmt.Sprintf("failed to create LRU cache: %v", err))
		}
		s.cache = cache
	}
	return s
}

// Search retrieves the TopK chunks most relevant to the query
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if cached := s.checkCache(req); cached != nil {
		cached.CacheHit = true
		cached.Duration = time.Since(start)
		return cached, nil
	}

	stale := s.lexical.Stale()
	mode := req.Mode
	degraded := ""
	if mode == ModeHybrid && stale && s.denseOnlyWhenStale {
		mode, degraded = ModeDense, string(ModeLexical)
	}

	var (
		resp *Response
		err  error
	)
	switch mode {
	case ModeHybrid:
		resp, err = s.hybridSearch(ctx, req)
	case ModeDense:
		resp, err = s.denseSearch(ctx, req)
	case ModeLexical:
		resp, err = s.lexicalSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if resp.Degraded == "" {
		resp.Degraded = degraded
	}
	resp.LexicalStale = stale
	resp.Duration = time.Since(start)
	metrics.SearchDuration.WithLabelValues(string(resp.Mode)).Observe(resp.Duration.Seconds())

	if len(resp.Results) > 0 {
		s.storeInCache(req, resp)
	}
	return resp, nil
}

// denseHit is a dense candidate with everything needed to build a result
type denseHit struct {
	id       string
	content  string
	metadata map[string]string
	distance float64
}

type modeResult struct {
	dense   []denseHit
	lexical []lexical.Hit
	err     error
}

func (s *Searcher) runDense(ctx context.Context, req Request, n int, out chan<- modeResult) {
	var res modeResult
	qr, err := s.store.Query(ctx, req.Query, req.where(), n)
	if err != nil {
		res.err = fmt.Errorf("dense retrieval: %w", err)
	} else {
		res.dense = make([]denseHit, qr.Len())
		for i := range res.dense {
			res.dense[i] = denseHit{
				id:       qr.IDs[i],
				content:  qr.Contents[i],
				metadata: qr.Metadatas[i],
				distance: qr.Distances[i],
			}
		}
	}
	out <- res
}

func (s *Searcher) runLexical(ctx context.Context, req Request, n int, out chan<- modeResult) {
	var res modeResult
	hits, err := s.lexical.SearchContext(ctx, req.Query, n, lexical.Filter{Language: req.Language, Type: req.Type})
	if err != nil {
		res.err = fmt.Errorf("lexical retrieval: %w", err)
	}
	res.lexical = hits
	out <- res
}

// hybridSearch runs both modes concurrently and fuses them with RRF. One
// failing mode degrades the search to the other.
func (s *Searcher) hybridSearch(ctx context.Context, req Request) (*Response, error) {
	n := req.TopK * candidateFactor
	denseChan := make(chan modeResult, 1)
	lexicalChan := make(chan modeResult, 1)

	go s.runDense(ctx, req, n, denseChan)
	go s.runLexical(ctx, req, n, lexicalChan)

	var denseRes, lexicalRes modeResult
	var denseDone, lexicalDone bool
	for !denseDone || !lexicalDone {
		select {
		case denseRes = <-denseChan:
			denseDone = true
		case lexicalRes = <-lexicalChan:
			lexicalDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if denseRes.err != nil && lexicalRes.err != nil {
		metrics.RetrievalModeFailuresTotal.WithLabelValues(string(ModeDense)).Inc()
		metrics.RetrievalModeFailuresTotal.WithLabelValues(string(ModeLexical)).Inc()
		return nil, fmt.Errorf("%w: %w, %w", ErrBothModesFailed, denseRes.err, lexicalRes.err)
	}

	resp := &Response{
		Mode:           ModeHybrid,
		DenseResults:   len(denseRes.dense),
		LexicalResults: len(lexicalRes.lexical),
	}
	switch {
	case denseRes.err != nil:
		resp.Degraded = string(ModeDense)
		s.modeFailed(ModeDense, denseRes.err)
		denseRes.dense = nil
	case lexicalRes.err != nil:
		resp.Degraded = string(ModeLexical)
		s.modeFailed(ModeLexical, lexicalRes.err)
		lexicalRes.lexical = nil
	}

	fused := applyRRF(denseRes.dense, lexicalRes.lexical, s.rrfK)
	if len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}
	results, err := s.resolve(ctx, fused)
	if err != nil {
		return nil, err
	}
	resp.Results = results
	return resp, nil
}

func (s *Searcher) modeFailed(mode Mode, err error) {
	metrics.RetrievalModeFailuresTotal.WithLabelValues(string(mode)).Inc()
	s.logger.Warn("retrieval mode failed, continuing degraded",
		zap.String("mode", string(mode)),
		zap.Error(err))
}

// denseSearch ranks by embedding similarity alone
func (s *Searcher) denseSearch(ctx context.Context, req Request) (*Response, error) {
	out := make(chan modeResult, 1)
	s.runDense(ctx, req, req.TopK, out)
	res := <-out
	if res.err != nil {
		return nil, res.err
	}

	ranked := make([]*fusedResult, len(res.dense))
	for i, h := range res.dense {
		ranked[i] = &fusedResult{
			id:       h.id,
			score:    1 - h.distance,
			distance: h.distance,
			sources:  []string{types.SourceDense},
			content:  h.content,
			metadata: h.metadata,
			resolved: true,
		}
	}
	results, err := s.resolve(ctx, ranked)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, Mode: ModeDense, DenseResults: len(res.dense)}, nil
}

// lexicalSearch ranks by BM25 alone
func (s *Searcher) lexicalSearch(ctx context.Context, req Request) (*Response, error) {
	out := make(chan modeResult, 1)
	s.runLexical(ctx, req, req.TopK, out)
	res := <-out
	if res.err != nil {
		return nil, res.err
	}

	ranked := make([]*fusedResult, len(res.lexical))
	for i, h := range res.lexical {
		ranked[i] = &fusedResult{id: h.ID, score: h.Score, sources: []string{types.SourceLexical}}
	}
	results, err := s.resolve(ctx, ranked)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, Mode: ModeLexical, LexicalResults: len(res.lexical)}, nil
}

// fusedResult is a candidate on its way to becoming a ScoredChunk
type fusedResult struct {
	id       string
	score    float64
	distance float64
	sources  []string

	content  string
	metadata map[string]string
	resolved bool
}

// applyRRF fuses the dense and lexical rankings. Each list contributes
// 1/(k+rank+1) for a 0-based rank. Equal scores keep arrival order, dense
// candidates first.
func applyRRF(dense []denseHit, lex []lexical.Hit, k float64) []*fusedResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*fusedResult, len(dense)+len(lex))
	order := make([]*fusedResult, 0, len(dense)+len(lex))
	get := func(id string) *fusedResult {
		r, ok := byID[id]
		if !ok {
			r = &fusedResult{id: id}
			byID[id] = r
			order = append(order, r)
		}
		return r
	}

	for rank, h := range dense {
		r := get(h.id)
		r.score += 1.0 / (k + float64(rank+1))
		r.distance = h.distance
		r.sources = append(r.sources, types.SourceDense)
		r.content, r.metadata, r.resolved = h.content, h.metadata, true
	}
	for rank, h := range lex {
		r := get(h.ID)
		r.score += 1.0 / (k + float64(rank+1))
		r.sources = append(r.sources, types.SourceLexical)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].score > order[j].score
	})
	return order
}

// resolve loads content for candidates that only the lexical mode surfaced
// with a single bulk Get, then numbers the results. Candidates that are no
// longer live in the store are dropped.
func (s *Searcher) resolve(ctx context.Context, ranked []*fusedResult) ([]types.ScoredChunk, error) {
	var missing []string
	for _, r := range ranked {
		if !r.resolved {
			missing = append(missing, r.id)
		}
	}
	if len(missing) > 0 {
		got, err := s.store.Get(ctx, storage.GetRequest{IDs: missing})
		if err != nil {
			return nil, fmt.Errorf("fetch lexical results: %w", err)
		}
		byID := make(map[string]int, got.Len())
		for i, id := range got.IDs {
			byID[id] = i
		}
		for _, r := range ranked {
			if i, ok := byID[r.id]; ok && !r.resolved {
				r.content, r.metadata, r.resolved = got.Contents[i], got.Metadatas[i], true
			}
		}
	}

	results := make([]types.ScoredChunk, 0, len(ranked))
	for _, r := range ranked {
		if !r.resolved {
			s.logger.Debug("dropping result missing from store", zap.String("id", r.id))
			continue
		}
		results = append(results, types.ScoredChunk{
			ID:       r.id,
			Rank:     len(results) + 1,
			Chunk:    types.ChunkFromMetadata(r.content, r.metadata),
			Score:    r.score,
			Distance: r.distance,
			Sources:  r.sources,
		})
	}
	return results, nil
}

// Symbol returns chunks whose name equals req.Name, in store order
func (s *Searcher) Symbol(ctx context.Context, req SymbolRequest) ([]types.ScoredChunk, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyQuery
	}
	limit := clampLimit(req.Limit)

	where := storage.Where{types.MetaName: name}
	if req.Type != "" {
		where[types.MetaType] = req.Type
	}
	if req.Language != "" {
		where[types.MetaLanguage] = req.Language
	}

	got, err := s.store.Get(ctx, storage.GetRequest{Where: where, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("symbol lookup: %w", err)
	}

	results := make([]types.ScoredChunk, got.Len())
	for i := range results {
		results[i] = types.ScoredChunk{
			ID:    got.IDs[i],
			Rank:  i + 1,
			Chunk: types.ChunkFromMetadata(got.Contents[i], got.Metadatas[i]),
		}
	}
	return results, nil
}

// Stats summarises the store and the lexical index
func (s *Searcher) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("collection stats: %w", err)
	}
	return &Stats{
		Stats:            st,
		LexicalDocuments: s.lexical.Len(),
		LexicalStale:     s.lexical.Stale(),
	}, nil
}

// MarkStale records that the store changed and drops cached responses
func (s *Searcher) MarkStale() {
	s.lexical.MarkStale()
	s.InvalidateCache()
}

// RebuildLexical reloads the lexical index from the store and drops cached
// responses
func (s *Searcher) RebuildLexical(ctx context.Context) error {
	defer s.InvalidateCache()
	if err := s.lexical.Rebuild(ctx, s.store); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	return nil
}

// InvalidateCache drops every cached response
func (s *Searcher) InvalidateCache() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultTopK
	}
	if n > MaxTopK {
		return MaxTopK
	}
	return n
}

// validateRequest normalises defaults and rejects unusable requests
func validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	req.TopK = clampLimit(req.TopK)

	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode
	return req.where().Validate()
}

func (s *Searcher) checkCache(req Request) *Response {
	if s.cache == nil {
		return nil
	}
	hash := computeQueryHash(req)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	resp := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return resp
}

func (s *Searcher) storeInCache(req Request, resp *Response) {
	if s.cache == nil {
		return
	}
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(s.cacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copyResponse deep copies the result slice and the per-result slices and
// maps so cached entries cannot be mutated by callers
func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = make([]types.ScoredChunk, len(src.Results))
	for i, r := range src.Results {
		r.Sources = append([]string(nil), r.Sources...)
		if r.Chunk.Metadata != nil {
			meta := make(map[string]string, len(r.Chunk.Metadata))
			for k, v := range r.Chunk.Metadata {
				meta[k] = v
			}
			r.Chunk.Metadata = meta
		}
		dst.Results[i] = r
	}
	return &dst
}

func computeQueryHash(req Request) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.TopK))
	data.WriteString("|")
	data.WriteString(req.Language)
	data.WriteString("|")
	data.WriteString(req.Type)
	return sha256.Sum256([]byte(data.String()))
}
