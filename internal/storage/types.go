package storage

import (
	"errors"
	"time"

	"github.com/scrypster/ucw/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable indicates the backend cannot accept writes. The
	// capture path counts these rather than propagating them; query paths
	// surface them to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination for session and moment listings.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 200).
	Limit int

	// Platform filters by platform identifier. Empty means no filter.
	Platform string

	// Status filters sessions by status ("active"/"closed"). Empty means
	// no filter. Ignored for moments.
	Status string

	// SinceNS restricts results to items at or after this nanosecond
	// timestamp. Zero means no lower bound.
	SinceNS int64

	// UntilNS restricts results to items strictly before this nanosecond
	// timestamp. Zero means no upper bound.
	UntilNS int64
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 20 // Default limit
	}

	if o.Limit > 200 {
		o.Limit = 200 // Max limit
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// TimelineOptions filters chronological event queries.
type TimelineOptions struct {
	// SessionID restricts results to a single session. Empty means all.
	SessionID string

	// SinceNS restricts results to events at or after this nanosecond
	// timestamp. Zero means no lower bound.
	SinceNS int64

	// UntilNS restricts results to events strictly before this nanosecond
	// timestamp. Zero means no upper bound.
	UntilNS int64

	// Method filters by exact protocol method name. Empty means no filter.
	Method string

	// Topic filters to events whose Light layer contains this topic.
	Topic string

	// Intent filters by classified intent label. Empty means no filter.
	Intent string

	// GutSignal filters by instinct gut signal. Empty means no filter.
	GutSignal string

	// MinCoherence filters to events with coherence potential >= this
	// value. Zero means no minimum.
	MinCoherence float64

	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 50, max: 500).
	Limit int

	// Descending returns newest events first when true. The default is
	// oldest first (chronological).
	Descending bool
}

// Normalize applies defaults and validates the TimelineOptions.
func (o *TimelineOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 50 // Default limit
	}

	if o.Limit > 500 {
		o.Limit = 500 // Max limit
	}

	if o.MinCoherence < 0 {
		o.MinCoherence = 0
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *TimelineOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SearchOptions provides options for vector search operations.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// MinSimilarity is the minimum cosine similarity in [0,1]. Results
	// below it are dropped. Zero means no threshold.
	MinSimilarity float64

	// SessionID restricts the search to a single session. Empty means all.
	SessionID string

	// CandidateCap bounds how many embedded events an exact-scan backend
	// loads into memory (default: 10000). ANN backends ignore it.
	CandidateCap int
}

// Normalize applies defaults and validates the SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}

	if o.Limit > 100 {
		o.Limit = 100
	}

	if o.MinSimilarity < 0.0 {
		o.MinSimilarity = 0.0
	}

	if o.MinSimilarity > 1.0 {
		o.MinSimilarity = 1.0
	}

	if o.CandidateCap < 1 {
		o.CandidateCap = 10000
	}
}

// ScoredEvent pairs an event with its similarity to a search query.
type ScoredEvent struct {
	Event      *types.CognitiveEvent
	Similarity float64
}

// EnrichmentUpdate carries the derived layers attached to an event by the
// enrichment pipeline. Nil layer pointers leave the corresponding column
// untouched, so partial enrichment writes only what it produced.
type EnrichmentUpdate struct {
	// Data, Light, and Instinct are the derived layers.
	Data     *types.DataLayer
	Light    *types.LightLayer
	Instinct *types.InstinctLayer

	// CoherenceSignature is the clustering digest computed by enrichment.
	CoherenceSignature string

	// ContentHash keys the embedding cache entry for this event's text.
	ContentHash string

	// Embedding is the computed vector; nil when embedding failed or was
	// skipped.
	Embedding []float32

	// EmbeddingModel identifies the model that produced Embedding.
	EmbeddingModel string

	// Status is the event's resulting status (enriched or partial).
	Status types.EventStatus

	// LayerStatus is the outcome of the Data/Light/Instinct derivation.
	LayerStatus types.EnrichmentStatus

	// EmbeddingStatus is the outcome of the embedding step.
	EmbeddingStatus types.EnrichmentStatus

	// EnrichError stores the last enrichment error message, if any.
	EnrichError string

	// EnrichedAt is the timestamp when enrichment completed.
	EnrichedAt *time.Time
}

// CaptureStats aggregates capture counters for one session or all-time.
type CaptureStats struct {
	// SessionID is the scope of these stats; empty for all-time.
	SessionID string `json:"session_id,omitempty"`

	// SessionCount is the number of sessions in scope.
	SessionCount int `json:"session_count"`

	// ActiveSessionCount is the number of sessions currently active.
	ActiveSessionCount int `json:"active_session_count"`

	// EventCount is the number of captured events.
	EventCount int `json:"event_count"`

	// TurnCount is the number of user-originated turns.
	TurnCount int `json:"turn_count"`

	// TotalBytes is the sum of raw frame sizes.
	TotalBytes int64 `json:"total_bytes"`

	// EnrichedCount is the number of fully enriched events.
	EnrichedCount int `json:"enriched_count"`

	// PartialCount is the number of enriched-partial events.
	PartialCount int `json:"partial_count"`

	// MomentCount is the number of persisted coherence moments.
	MomentCount int `json:"moment_count"`

	// ByTopic, ByIntent, and ByGutSignal are label distributions over the
	// enriched events in scope.
	ByTopic     map[string]int `json:"by_topic"`
	ByIntent    map[string]int `json:"by_intent"`
	ByGutSignal map[string]int `json:"by_gut_signal"`

	// FirstEventNS and LastEventNS bound the captured time range. Zero
	// when no events are in scope.
	FirstEventNS int64 `json:"first_event_ns,omitempty"`
	LastEventNS  int64 `json:"last_event_ns,omitempty"`
}
