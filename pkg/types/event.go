package types

import (
	"encoding/json"
	"time"
)

// DataLayer holds facts derived purely from the structural fields of a frame.
// It never requires external calls and is always deterministic.
type DataLayer struct {
	Method    string   `json:"method,omitempty"`     // JSON-RPC method, empty for responses
	Content   string   `json:"content"`              // Text rendition of the payload
	TokensEst int      `json:"tokens_est"`           // Approximate token count (len/4)
	ParamKeys []string `json:"param_keys,omitempty"` // Top-level parameter names, sorted
}

// LightLayer holds the shallow meaning extracted from a frame: intent,
// topics, salient concepts, and a short summary. All values come from
// first-match-wins keyword rules, never learned inference.
type LightLayer struct {
	Intent   string   `json:"intent"`             // One of the Intent* labels
	Topics   []string `json:"topics,omitempty"`   // Zero or more topic labels
	Concepts []string `json:"concepts,omitempty"` // Bounded set of salient terms
	Summary  string   `json:"summary,omitempty"`  // Extractive summary (first 200 chars)
}

// InstinctLayer holds the signal scoring: a [0,1] coherence potential,
// boolean-style emergence indicators, and the coarse gut signal.
type InstinctLayer struct {
	CoherencePotential  float64   `json:"coherence_potential"`
	EmergenceIndicators []string  `json:"emergence_indicators,omitempty"`
	GutSignal           GutSignal `json:"gut_signal"`
}

// CognitiveEvent is one intercepted protocol message with its derived
// metadata. The capture-time fields (raw bytes, correlation, timestamps)
// are immutable once written; enrichment only appends the three layers
// and the embedding.
type CognitiveEvent struct {
	// Capture-time identity and correlation
	ID            string    `json:"event_id"`                  // Globally unique identifier
	SessionID     string    `json:"session_id"`                // Owning capture session
	TimestampNS   int64     `json:"timestamp_ns"`              // Nanosecond capture timestamp
	Direction     Direction `json:"direction"`                 // inbound or outbound
	Stage         Stage     `json:"stage"`                     // request, response, or notification
	Method        string    `json:"method,omitempty"`          // JSON-RPC method (requests/notifications)
	RequestID     string    `json:"request_id,omitempty"`      // Stringified JSON-RPC id, used for correlation
	ParentEventID string    `json:"parent_event_id,omitempty"` // Event ID of the request this response answers
	Orphaned      bool      `json:"orphaned,omitempty"`        // Response with no matching pending request
	Turn          int       `json:"turn"`                      // Turn number within the session

	// Raw payload — stored verbatim, never mutated
	RawBytes   []byte          `json:"raw_bytes,omitempty"`
	Parsed     json.RawMessage `json:"parsed,omitempty"`
	ByteLength int             `json:"byte_length"`
	Error      string          `json:"error,omitempty"` // Parse or protocol error text

	// Derived layers (populated by enrichment, any subset may be absent)
	Data     *DataLayer     `json:"data_layer,omitempty"`
	Light    *LightLayer    `json:"light_layer,omitempty"`
	Instinct *InstinctLayer `json:"instinct_layer,omitempty"`

	// Coherence and similarity
	CoherenceSignature string    `json:"coherence_signature,omitempty"` // SHA-256 digest used for clustering
	ContentHash        string    `json:"content_hash,omitempty"`        // SHA-256 of the normalized embed text
	Embedding          []float32 `json:"embedding,omitempty"`           // Present only once embedding succeeds
	EmbeddingModel     string    `json:"embedding_model,omitempty"`

	// Provenance
	Platform string `json:"platform"` // e.g. "claude-desktop"
	Protocol string `json:"protocol"` // e.g. "mcp"

	// Optional quality annotations
	QualityScore  float64 `json:"quality_score,omitempty"`
	CognitiveMode string  `json:"cognitive_mode,omitempty"`

	// Enrichment tracking
	Status          EventStatus      `json:"status"`
	LayerStatus     EnrichmentStatus `json:"layer_status"`     // Data/Light/Instinct extraction
	EmbeddingStatus EnrichmentStatus `json:"embedding_status"` // Embedding generation
	EnrichError     string           `json:"enrich_error,omitempty"`
	EnrichedAt      *time.Time       `json:"enriched_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsRequest reports whether the event is an inbound user-originated request,
// the condition that advances the session's turn counter.
func (e *CognitiveEvent) IsRequest() bool {
	return e.Direction == DirectionInbound && e.Stage == StageRequest
}

// Indicator reports whether the instinct layer carries the given emergence tag.
func (e *CognitiveEvent) Indicator(tag string) bool {
	if e.Instinct == nil {
		return false
	}
	for _, ind := range e.Instinct.EmergenceIndicators {
		if ind == tag {
			return true
		}
	}
	return false
}
