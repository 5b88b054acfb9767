package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// minEmbedTextLength is the shortest text worth embedding. Anything below
// this carries no retrievable meaning.
const minEmbedTextLength = 10

// previewLength bounds the human-readable preview stored with cache entries.
const previewLength = 100

// ErrTextTooShort is returned when the embed text is below the minimum
// length; the caller marks the embedding step skipped, not failed.
var ErrTextTooShort = errors.New("text too short to embed")

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// ServiceConfig holds the tiered-cache service configuration.
type ServiceConfig struct {
	// HotCacheSize is the in-process LRU capacity (default: 512)
	HotCacheSize int

	// RatePerSecond throttles calls to the backend (default: 10)
	RatePerSecond float64
}

// Service resolves embeddings through a two-tier cache before falling back
// to the generator: an in-process LRU keyed by content hash, then the
// persistent embedding cache. A token bucket throttles backend calls so a
// burst of captured frames cannot flood Ollama.
type Service struct {
	generator Generator
	cache     storage.EmbeddingCache
	hot       *lru.Cache[string, []float32]
	limiter   *rate.Limiter
}

// NewService creates an embedding service. The persistent cache may be the
// same store that holds events.
func NewService(generator Generator, cache storage.EmbeddingCache, config ServiceConfig) (*Service, error) {
	if generator == nil {
		return nil, errors.New("embedding: generator is required")
	}
	if config.HotCacheSize <= 0 {
		config.HotCacheSize = 512
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 10
	}

	hot, err := lru.New[string, []float32](config.HotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to create hot cache: %w", err)
	}

	return &Service{
		generator: generator,
		cache:     cache,
		hot:       hot,
		limiter:   rate.NewLimiter(rate.Limit(config.RatePerSecond), 1),
	}, nil
}

// ContentHash returns the hex SHA-256 of the normalized embed text. The
// hash keys both cache tiers.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// BuildText composes the canonical embed text for an event from its derived
// layers: "{intent}: {topic} | {summary} | {concepts}". Content stands in
// for a missing summary, truncated to 300 characters.
func BuildText(data *types.DataLayer, light *types.LightLayer) string {
	if light == nil {
		return ""
	}

	topic := "general"
	if len(light.Topics) > 0 {
		topic = light.Topics[0]
	}

	body := light.Summary
	if body == "" && data != nil {
		body = truncate(data.Content, 300)
	}

	parts := []string{fmt.Sprintf("%s: %s", light.Intent, topic), body}
	if len(light.Concepts) > 0 {
		parts = append(parts, strings.Join(light.Concepts, " "))
	}
	return strings.Join(parts, " | ")
}

// Embed resolves the vector for text, returning the vector and its content
// hash. Resolution order: hot LRU, persistent cache, then the generator.
// Fresh vectors are written through both tiers; the persistent tier is
// write-once, so a concurrent miss cannot overwrite an earlier entry.
func (s *Service) Embed(ctx context.Context, text, eventID string) ([]float32, string, error) {
	if len(text) < minEmbedTextLength {
		return nil, "", ErrTextTooShort
	}

	hash := ContentHash(text)

	if vec, ok := s.hot.Get(hash); ok {
		return vec, hash, nil
	}

	if s.cache != nil {
		entry, err := s.cache.GetCachedEmbedding(ctx, hash)
		if err == nil {
			s.hot.Add(hash, entry.Embedding)
			return entry.Embedding, hash, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, "", fmt.Errorf("embedding: cache lookup failed: %w", err)
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("embedding: rate limit wait cancelled: %w", err)
	}

	vec, err := s.generator.Embed(ctx, text)
	if err != nil {
		return nil, "", err
	}

	if s.cache != nil {
		preview := truncate(text, previewLength)
		entry := &types.EmbeddingCacheEntry{
			ContentHash: hash,
			Preview:     preview,
			Embedding:   vec,
			Model:       s.generator.Model(),
			Dimension:   len(vec),
			EventID:     eventID,
		}
		if err := s.cache.PutCachedEmbedding(ctx, entry); err != nil {
			return nil, "", fmt.Errorf("embedding: cache write failed: %w", err)
		}
	}
	s.hot.Add(hash, vec)

	return vec, hash, nil
}

// Model returns the generator's model name.
func (s *Service) Model() string {
	return s.generator.Model()
}
