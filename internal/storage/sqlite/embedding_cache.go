package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
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
		FROM embedding_cache WHERE content_hash = ?`, contentHash).
		Scan(&entry.ContentHash, &preview, &blob, &entry.Model, &entry.Dimension, &eventID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cached embedding: %w", err)
	}

	entry.Preview = preview.String
	entry.EventID = eventID.String
	entry.Embedding, err = deserializeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize cached embedding: %w", err)
	}
	if entry.Dimension != len(entry.Embedding) {
		return nil, fmt.Errorf("cached embedding dimension mismatch: column says %d, blob holds %d", entry.Dimension, len(entry.Embedding))
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		entry.ContentHash, nullString(entry.Preview), serializeEmbedding(entry.Embedding),
		entry.Model, entry.Dimension, nullString(entry.EventID), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put cached embedding: %w", err)
	}
	return nil
}

// serializeEmbedding converts a float32 slice to little-endian bytes.
// A nil return maps to SQL NULL for events without an embedding.
func serializeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding converts little-endian bytes back to a float32 slice.
func deserializeEmbedding(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob size %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
