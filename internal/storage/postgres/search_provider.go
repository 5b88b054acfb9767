package postgres

import (
	"context"
	"fmt"
	"math"
	"sort"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/ucw/internal/storage"
)

// VectorSearch finds the events most similar to the query vector. When the
// pgvector extension is available the ranking runs in SQL over the ANN
// index; otherwise it falls back to an exact scan over the stored blobs,
// identical in behaviour to the sqlite backend.
//
// Similarity is cosine mapped into [0,1]; ties break toward the newer event.
func (s *Store) VectorSearch(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.ScoredEvent, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	opts.Normalize()

	if s.pgvectorAvailable {
		return s.vectorSearchANN(ctx, query, opts)
	}
	return s.vectorSearchExact(ctx, query, opts)
}

// vectorSearchANN ranks with the pgvector cosine operator. The <=> operator
// yields cosine distance in [0,2]; 1 - dist/2 gives the same [0,1] score the
// exact path computes.
func (s *Store) vectorSearchANN(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.ScoredEvent, error) {
	vec := pgvector.NewVector(query)

	conds := "embedding_vec IS NOT NULL"
	args := []interface{}{vec}
	if opts.SessionID != "" {
		args = append(args, opts.SessionID)
		conds += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if opts.MinSimilarity > 0 {
		// similarity >= min  <=>  distance <= 2 * (1 - min)
		args = append(args, 2*(1-opts.MinSimilarity))
		conds += fmt.Sprintf(" AND (embedding_vec <=> $1) <= $%d", len(args))
	}

	args = append(args, opts.Limit)
	stmt := fmt.Sprintf(`
		SELECT %s, 1 - (embedding_vec <=> $1) / 2 AS similarity
		FROM cognitive_events
		WHERE %s
		ORDER BY embedding_vec <=> $1, timestamp_ns DESC
		LIMIT $%d`, eventColumns, conds, len(args))

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to run vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []storage.ScoredEvent{}
	for rows.Next() {
		scored, err := scanScoredEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan scored event: %w", err)
		}
		results = append(results, *scored)
	}
	return results, rows.Err()
}

// vectorSearchExact loads candidate blobs newest-first up to the candidate
// cap and scores them in Go.
func (s *Store) vectorSearchExact(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.ScoredEvent, error) {
	conds := "embedding IS NOT NULL"
	var args []interface{}
	if opts.SessionID != "" {
		args = append(args, opts.SessionID)
		conds += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	args = append(args, opts.CandidateCap)

	stmt := fmt.Sprintf(`
		SELECT id, timestamp_ns, embedding
		FROM cognitive_events
		WHERE %s
		ORDER BY timestamp_ns DESC
		LIMIT $%d`, conds, len(args))
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type candidate struct {
		id          string
		timestampNS int64
		score       float64
	}
	var candidates []candidate
	for rows.Next() {
		var id string
		var ts int64
		var blob []byte
		if err := rows.Scan(&id, &ts, &blob); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan candidate: %w", err)
		}
		vec, err := deserializeEmbedding(blob)
		if err != nil || len(vec) != len(query) {
			continue
		}
		score := cosineSimilarity(query, vec)
		if score < opts.MinSimilarity {
			continue
		}
		candidates = append(candidates, candidate{id: id, timestampNS: ts, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating candidates: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].timestampNS > candidates[j].timestampNS
	})
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	results := make([]storage.ScoredEvent, 0, len(candidates))
	for _, c := range candidates {
		event, err := s.GetEvent(ctx, c.id)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to hydrate search result %s: %w", c.id, err)
		}
		results = append(results, storage.ScoredEvent{Event: event, Similarity: c.score})
	}
	return results, nil
}

// scanScoredEvent reads an eventColumns row plus a trailing similarity column.
func scanScoredEvent(rows rowScanner) (*storage.ScoredEvent, error) {
	var scored storage.ScoredEvent
	event, err := scanEvent(rows, &scored.Similarity)
	if err != nil {
		return nil, err
	}
	scored.Event = event
	return &scored, nil
}

// cosineSimilarity maps raw cosine from [-1,1] into [0,1]. Zero vectors
// score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}
