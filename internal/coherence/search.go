package coherence

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/ucw/internal/storage"
)

// ErrSearchUnavailable is returned when free-text search is requested but no
// embedding service is configured.
var ErrSearchUnavailable = fmt.Errorf("similarity search unavailable: embeddings disabled")

// Search embeds the query text and returns stored events ranked by cosine
// similarity, descending, newest first among ties. The query goes through
// the same cache-and-limit path as event embedding, so repeated identical
// queries cost one model call.
func (e *Engine) Search(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.ScoredEvent, error) {
	if e.embedder == nil {
		return nil, ErrSearchUnavailable
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", storage.ErrInvalidInput)
	}

	vector, _, err := e.embedder.Embed(ctx, query, "")
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := e.store.VectorSearch(ctx, vector, opts)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return results, nil
}
