package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/ucw/internal/storage"
)

// VectorSearch performs similarity search by loading stored embeddings into
// Go memory and ranking them by cosine similarity. Candidates are selected
// in recency order (newest first) up to opts.CandidateCap so the most recent
// events are always considered. For datasets that outgrow the cap, the
// postgres backend provides indexed ANN search instead.
func (s *Store) VectorSearch(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.ScoredEvent, error) {
	opts.Normalize()

	if len(query) == 0 {
		return []storage.ScoredEvent{}, nil
	}

	where := "WHERE embedding IS NOT NULL"
	args := []interface{}{}
	if opts.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp_ns, embedding
		FROM cognitive_events `+where+`
		ORDER BY timestamp_ns DESC
		LIMIT ?`, append(args, opts.CandidateCap)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type candidate struct {
		eventID     string
		timestampNS int64
		score       float64
	}
	var candidates []candidate

	for rows.Next() {
		var id string
		var ts int64
		var blob []byte
		if err := rows.Scan(&id, &ts, &blob); err != nil {
			continue
		}
		vec, err := deserializeEmbedding(blob)
		if err != nil || len(vec) != len(query) {
			continue
		}
		sim := cosineSimilarity(query, vec)
		if sim < opts.MinSimilarity {
			continue
		}
		candidates = append(candidates, candidate{id, ts, sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	// Rank by similarity descending; ties go to the newer event.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].timestampNS > candidates[j].timestampNS
	})

	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	results := []storage.ScoredEvent{}
	for _, c := range candidates {
		event, err := s.GetEvent(ctx, c.eventID)
		if err != nil {
			continue
		}
		results = append(results, storage.ScoredEvent{Event: event, Similarity: c.score})
	}
	return results, nil
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors, mapped from [-1,1] to [0,1] so thresholds compose with the rest
// of the scoring model. Zero vectors score 0.
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
