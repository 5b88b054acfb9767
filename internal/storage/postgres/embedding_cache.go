package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// GetCachedEmbedding retrieves a cache entry by content hash.
func (s *Store) GetCachedEmbedding(ctx context.Context, contentHash string) (*types.EmbeddingCacheEntry, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("%w: content hash is required", storage.ErrInvalidInput)
	}

	var (
		entry   types.EmbeddingCacheEntry
		preview sql.NullString
		blob    []byte
		eventID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, preview, embedding, model, dimension, event_id, created_at
		FROM embedding_cache WHERE content_hash = $1`, contentHash).
		Scan(&entry.ContentHash, &preview, &blob, &entry.Model, &entry.Dimension, &eventID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get cached embedding: %w", err)
	}

	entry.Preview = preview.String
	entry.EventID = eventID.String
	entry.Embedding, err = deserializeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to deserialize cached embedding: %w", err)
	}
	if entry.Dimension != len(entry.Embedding) {
		return nil, fmt.Errorf("postgres: cached embedding dimension mismatch: column says %d, blob holds %d", entry.Dimension, len(entry.Embedding))
	}
	return &entry, nil
}

// PutCachedEmbedding inserts a cache entry. An existing hash wins; entries
// are never rewritten, which keeps "identical text is embedded once" true
// even under concurrent misses.
func (s *Store) PutCachedEmbedding(ctx context.Context, entry *types.EmbeddingCacheEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if entry.ContentHash == "" {
		return fmt.Errorf("%w: content hash is required", storage.ErrInvalidInput)
	}
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if entry.Model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	if entry.Dimension == 0 {
		entry.Dimension = len(entry.Embedding)
	}
	if entry.Dimension != len(entry.Embedding) {
		return fmt.Errorf("%w: embedding length (%d) does not match dimension (%d)",
			storage.ErrInvalidInput, len(entry.Embedding), entry.Dimension)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, preview, embedding, model, dimension, event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (content_hash) DO NOTHING`,
		entry.ContentHash, nullString(entry.Preview), serializeEmbedding(entry.Embedding),
		entry.Model, entry.Dimension, nullString(entry.EventID), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to put cached embedding: %w", err)
	}
	return nil
}
