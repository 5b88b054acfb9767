// Package engine provides the async enrichment pipeline for captured
// events. Raw frames are persisted synchronously on the capture path; the
// engine's worker pool then derives the three cognitive layers, the
// coherence signature, and the embedding in the background, so enrichment
// latency never touches the intercepted channel.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnrichmentJob represents one event queued for background enrichment.
type EnrichmentJob struct {
	// EventID is the unique identifier of the event to enrich.
	EventID string

	// Timestamp is when the job was queued.
	Timestamp time.Time

	// Attempt tracks retry attempts for this job.
	Attempt int
}

// Config holds configuration for the enrichment engine.
type Config struct {
	// NumWorkers is the number of enrichment worker goroutines (default: 4).
	NumWorkers int

	// QueueSize is the size of the enrichment job queue buffer (default: 1024).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on
	// shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// MaxRetries is the maximum number of enrichment retry attempts (default: 3).
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:      4,
		QueueSize:       1024,
		ShutdownTimeout: 30 * time.Second,
		MaxRetries:      3,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// GenerateEventID returns a unique event identifier.
func GenerateEventID() string {
	return "evt_" + uuid.NewString()
}

// GenerateSessionID returns a unique session identifier.
func GenerateSessionID() string {
	return "sess_" + uuid.NewString()
}

// GenerateMomentID returns a unique coherence moment identifier.
func GenerateMomentID() string {
	return "moment_" + uuid.NewString()
}
