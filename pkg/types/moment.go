package types

import "time"

// CoherenceMoment is a detected pattern across one or more events. Moments
// are point-in-time judgments: once created they are never revised — a later
// scan may supersede one with a new moment instead.
type CoherenceMoment struct {
	ID            string   `json:"moment_id"`
	DetectedNS    int64    `json:"detected_ns"`
	EventIDs      []string `json:"event_ids"`      // Contributing events, non-empty
	Platforms     []string `json:"platforms"`      // Platforms involved
	CoherenceType string   `json:"coherence_type"` // e.g. "emergence_spike", "concept_cluster"
	Confidence    float64  `json:"confidence"`     // In [0,1]
	Description   string   `json:"description"`
	WindowNS      int64    `json:"window_ns"` // Width of the detection window
	Signature     string   `json:"signature,omitempty"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EmbeddingCacheEntry deduplicates computed vectors: identical normalized
// text is embedded exactly once regardless of how many events reference it.
type EmbeddingCacheEntry struct {
	ContentHash string    `json:"content_hash"` // SHA-256 of the normalized text (primary key)
	Preview     string    `json:"preview"`      // Truncated content for debugging
	Embedding   []float32 `json:"embedding"`
	Model       string    `json:"model"`
	Dimension   int       `json:"dimension"`
	EventID     string    `json:"event_id,omitempty"` // Event that caused the first computation
	CreatedAt   time.Time `json:"created_at"`
}
