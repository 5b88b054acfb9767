// Package coherence is the read-only analytic layer over the event store:
// grouped scans, high-potential moment grouping, similarity search, and
// emergence-spike detection. Nothing here runs inline with capture; every
// operation is invoked on demand by a tool call and observes only committed
// events. The single write this package performs is appending new
// CoherenceMoment rows from emergence detection.
package coherence

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/ucw/internal/embedding"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// Config holds the detection constants. The thresholds are product
// heuristics; they are fixed here so every run over the same events yields
// the same moments.
type Config struct {
	// EmergenceBucket is the sliding-window bucket width for spike
	// detection (default: 5m).
	EmergenceBucket time.Duration

	// EmergenceMultiplier is how far above the per-bucket baseline an
	// indicator count must rise to count as a spike (default: 2.0).
	EmergenceMultiplier float64

	// MinSpikeEvents is the minimum indicator-carrying events in a bucket
	// for it to qualify, so near-empty stores do not produce moments
	// (default: 3).
	MinSpikeEvents int

	// MomentThreshold is the default coherence-potential cutoff for the
	// moments listing (default: 0.7).
	MomentThreshold float64

	// MomentGroupWindow is the maximum gap between qualifying events that
	// still groups them into one moment (default: 5m).
	MomentGroupWindow time.Duration
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.EmergenceBucket <= 0 {
		c.EmergenceBucket = 5 * time.Minute
	}
	if c.EmergenceMultiplier <= 0 {
		c.EmergenceMultiplier = 2.0
	}
	if c.MinSpikeEvents <= 0 {
		c.MinSpikeEvents = 3
	}
	if c.MomentThreshold <= 0 {
		c.MomentThreshold = 0.7
	}
	if c.MomentGroupWindow <= 0 {
		c.MomentGroupWindow = 5 * time.Minute
	}
	return nil
}

// Engine binds the analytic operations to a store and an optional embedding
// service. A nil embedder disables free-text search but nothing else.
type Engine struct {
	config   Config
	store    storage.Store
	embedder *embedding.Service

	// Optional live-process probes, wired by the hosting binary. Nil probes
	// report zero values.
	queueLength  func() int
	breakerState func() string
}

// NewEngine creates an analytic engine over the given store.
func NewEngine(config Config, store storage.Store, embedder *embedding.Service) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config, store: store, embedder: embedder}, nil
}

// SetQueueLengthProbe wires the enrichment queue depth into status reports.
func (e *Engine) SetQueueLengthProbe(probe func() int) { e.queueLength = probe }

// SetBreakerStateProbe wires the embedding circuit-breaker state into status
// reports.
func (e *Engine) SetBreakerStateProbe(probe func() string) { e.breakerState = probe }

// StatusReport is the coherence_status payload: store-level counts plus
// whatever live-process health the hosting binary wired in.
type StatusReport struct {
	Stats            *storage.CaptureStats `json:"stats"`
	EmbeddingEnabled bool                  `json:"embedding_enabled"`
	BreakerState     string                `json:"breaker_state,omitempty"`
	QueueLength      int                   `json:"queue_length"`
}

// Status reports engine health: all-time capture counts and signal
// distributions, embedding availability, and live queue depth when probed.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	stats, err := e.store.Stats(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	report := &StatusReport{
		Stats:            stats,
		EmbeddingEnabled: e.embedder != nil,
	}
	if e.queueLength != nil {
		report.QueueLength = e.queueLength()
	}
	if e.breakerState != nil {
		report.BreakerState = e.breakerState()
	}
	return report, nil
}

// collectEvents pages through the timeline ascending and returns every event
// matching opts. Used by the window operations, which need the full window
// in memory to group or bucket.
func (e *Engine) collectEvents(ctx context.Context, opts storage.TimelineOptions) ([]*types.CognitiveEvent, error) {
	opts.Descending = false
	opts.Limit = 500
	opts.Page = 1

	var events []*types.CognitiveEvent
	for {
		page, err := e.store.Timeline(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("timeline read failed: %w", err)
		}
		for n := range page.Items {
			events = append(events, &page.Items[n])
		}
		if !page.HasMore {
			return events, nil
		}
		opts.Page++
	}
}
