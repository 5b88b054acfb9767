package coherence

import (
	"context"

	"github.com/scrypster/ucw/internal/storage"
)

// ScanOptions bounds a grouped-count scan.
type ScanOptions struct {
	SessionID string
	SinceNS   int64
	UntilNS   int64
}

// ScanResult holds counts grouped by topic, intent, and gut signal over the
// scanned window. Only enriched events contribute to the distributions;
// EventCount covers everything in the window.
type ScanResult struct {
	SessionID    string         `json:"session_id,omitempty"`
	SinceNS      int64          `json:"since_ns,omitempty"`
	UntilNS      int64          `json:"until_ns,omitempty"`
	EventCount   int            `json:"event_count"`
	EnrichedOnly int            `json:"enriched_count"`
	ByTopic      map[string]int `json:"by_topic"`
	ByIntent     map[string]int `json:"by_intent"`
	ByGutSignal  map[string]int `json:"by_gut_signal"`
}

// Scan folds the window's events into per-label counts.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	events, err := e.collectEvents(ctx, storage.TimelineOptions{
		SessionID: opts.SessionID,
		SinceNS:   opts.SinceNS,
		UntilNS:   opts.UntilNS,
	})
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		SessionID:   opts.SessionID,
		SinceNS:     opts.SinceNS,
		UntilNS:     opts.UntilNS,
		EventCount:  len(events),
		ByTopic:     make(map[string]int),
		ByIntent:    make(map[string]int),
		ByGutSignal: make(map[string]int),
	}

	for _, ev := range events {
		if ev.Light == nil && ev.Instinct == nil {
			continue
		}
		result.EnrichedOnly++
		if ev.Light != nil {
			if ev.Light.Intent != "" {
				result.ByIntent[ev.Light.Intent]++
			}
			for _, topic := range ev.Light.Topics {
				result.ByTopic[topic]++
			}
		}
		if ev.Instinct != nil && ev.Instinct.GutSignal != "" {
			result.ByGutSignal[string(ev.Instinct.GutSignal)]++
		}
	}
	return result, nil
}
