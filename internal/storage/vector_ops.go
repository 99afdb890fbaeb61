package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// searchVector returns the n chunks nearest to queryVector among the rows
// matching cond. Distance is 1 - cosine similarity, ties broken by
// insertion order.
func searchVector(ctx context.Context, db *sql.DB, cond sq.Sqlizer, queryVector []float32, n int) (*QueryResult, error) {
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, cond, queryVector, n)
	}
	return searchVectorFallback(ctx, db, cond, queryVector, n)
}

// searchVectorOptimized lets sqlite-vec compute distances and rank in SQL
func searchVectorOptimized(ctx context.Context, db *sql.DB, cond sq.Sqlizer, queryVector []float32, n int) (*QueryResult, error) {
	query, args, err := sq.Select("c.id", "c.content", "c.metadata").
		Column(sq.Alias(sq.Expr("vec_distance_cosine(e.vector, ?)", serializeVector(queryVector)), "distance")).
		From("chunks c").
		Join("embeddings e ON e.chunk_seq = c.seq").
		Where(cond).
		Where(sq.Eq{"e.dimension": len(queryVector)}).
		OrderBy("distance", "c.seq").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build vector query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := &QueryResult{}
	for rows.Next() {
		var c candidate
		var meta string
		if err := rows.Scan(&c.id, &c.content, &meta, &c.distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := result.append(c, meta); err != nil {
			return nil, err
		}
	}
	return result, rows.Err()
}

// searchVectorFallback loads candidate vectors and ranks them in Go
func searchVectorFallback(ctx context.Context, db *sql.DB, cond sq.Sqlizer, queryVector []float32, n int) (*QueryResult, error) {
	query, args, err := sq.Select("c.id", "c.content", "c.metadata", "e.vector").
		From("chunks c").
		Join("embeddings e ON e.chunk_seq = c.seq").
		Where(cond).
		Where(sq.Eq{"e.dimension": len(queryVector)}).
		OrderBy("c.seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build vector query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []candidate
	var metas []string
	for rows.Next() {
		var c candidate
		var meta string
		var blob []byte
		if err := rows.Scan(&c.id, &c.content, &meta, &blob); err != nil {
			return nil, err
		}
		c.distance = 1 - cosineSimilarity(queryVector, deserializeVector(blob))
		c.meta = len(metas)
		candidates = append(candidates, c)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if n < len(candidates) {
		candidates = candidates[:n]
	}

	result := &QueryResult{}
	for _, c := range candidates {
		if err := result.append(c, metas[c.meta]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// candidate is a chunk with its distance from the query
type candidate struct {
	id       string
	content  string
	distance float64
	meta     int
}

func (r *QueryResult) append(c candidate, rawMeta string) error {
	m, err := decodeMetadata(rawMeta)
	if err != nil {
		return fmt.Errorf("decode metadata for %s: %w", c.id, err)
	}
	r.IDs = append(r.IDs, c.id)
	r.Contents = append(r.Contents, c.content)
	r.Metadatas = append(r.Metadatas, m)
	r.Distances = append(r.Distances, c.distance)
	return nil
}

// sortCandidates orders by ascending distance, keeping insertion order on ties
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Zero vectors are orthogonal to everything.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
