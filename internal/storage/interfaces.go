// Package storage provides composable storage interfaces for the UCW capture
// pipeline.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Both backends (sqlite,
// postgres) implement the full Store composition; consumers depend only on
// the slice they use.
package storage

import (
	"context"

	"github.com/scrypster/ucw/pkg/types"
)

// EventStore provides the append-only event log. Event rows are never
// updated or deleted after commit except for the single enrichment pass.
type EventStore interface {
	// AppendEvent atomically inserts an event and updates its session's
	// aggregate fields (event_count, turn_count, topics) in one transaction.
	// Returns ErrInvalidInput when the event has no ID or session ID.
	AppendEvent(ctx context.Context, event *types.CognitiveEvent) error

	// GetEvent retrieves an event by ID.
	// Returns ErrNotFound if the event doesn't exist.
	GetEvent(ctx context.Context, id string) (*types.CognitiveEvent, error)

	// UpdateEnrichment attaches derived layers to an event. Raw and
	// correlation fields are never touched; this is the one mutation an
	// event row sees after AppendEvent.
	// Returns ErrNotFound if the event doesn't exist.
	UpdateEnrichment(ctx context.Context, id string, update EnrichmentUpdate) error

	// Timeline retrieves events in chronological order with pagination and
	// filtering by session, time range, method, topic, intent, and signal.
	Timeline(ctx context.Context, opts TimelineOptions) (*PaginatedResult[types.CognitiveEvent], error)

	// Close releases any resources held by the store.
	Close() error
}

// SessionStore manages session lifecycle and aggregate statistics.
type SessionStore interface {
	// CreateSession inserts a new active session.
	CreateSession(ctx context.Context, session *types.CognitiveSession) error

	// GetSession retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*types.CognitiveSession, error)

	// CloseSession marks a session closed, sets its end timestamp, and
	// recomputes its event and turn counts from the event log.
	// Returns ErrNotFound if the session doesn't exist.
	CloseSession(ctx context.Context, id string, endedNS int64) error

	// ListSessions retrieves sessions with pagination, newest first.
	ListSessions(ctx context.Context, opts ListOptions) (*PaginatedResult[types.CognitiveSession], error)

	// Stats returns capture statistics. An empty sessionID means all-time
	// across every session.
	Stats(ctx context.Context, sessionID string) (*CaptureStats, error)
}

// MomentStore persists detected coherence moments. Moments are append-only.
type MomentStore interface {
	// AppendMoment inserts a moment.
	// Returns ErrInvalidInput when the moment has no contributing events.
	AppendMoment(ctx context.Context, moment *types.CoherenceMoment) error

	// ListMoments retrieves moments with pagination, newest first.
	ListMoments(ctx context.Context, opts ListOptions) (*PaginatedResult[types.CoherenceMoment], error)
}

// EmbeddingCache deduplicates computed vectors by content hash.
type EmbeddingCache interface {
	// GetCachedEmbedding retrieves a cache entry by content hash.
	// Returns ErrNotFound on a cache miss.
	GetCachedEmbedding(ctx context.Context, contentHash string) (*types.EmbeddingCacheEntry, error)

	// PutCachedEmbedding inserts a cache entry. Inserting an existing hash
	// is a no-op; entries are never rewritten.
	PutCachedEmbedding(ctx context.Context, entry *types.EmbeddingCacheEntry) error
}

// SearchProvider provides nearest-neighbor search over event embeddings.
type SearchProvider interface {
	// VectorSearch returns up to opts.Limit events ranked by cosine
	// similarity to the query vector, descending. Ties are broken by newer
	// timestamp first. Events without an embedding are never returned.
	VectorSearch(ctx context.Context, query []float32, opts SearchOptions) ([]ScoredEvent, error)
}

// Store is the full composition both backends implement. The cmd wiring
// passes a Store; everything downstream narrows to the interface it needs.
type Store interface {
	EventStore
	SessionStore
	MomentStore
	EmbeddingCache
	SearchProvider
}
