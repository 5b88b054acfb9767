package coherence

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/ucw/internal/engine"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// EmergenceOptions bounds a detection pass.
type EmergenceOptions struct {
	SessionID string
	SinceNS   int64
	UntilNS   int64

	// Multiplier overrides the configured spike multiplier when > 0.
	Multiplier float64

	// Persist appends detected moments to the store. When false the pass is
	// a dry run.
	Persist bool
}

// DetectEmergence scans the window for spikes in emergence-indicator
// density. Events carrying at least one indicator are bucketed by time; a
// bucket whose count exceeds the cross-window baseline by the multiplier
// becomes a CoherenceMoment with confidence scaled by the spike ratio.
//
// Detection is a pure read; the only write is the optional append of new
// moments. Existing events and moments are never touched.
func (e *Engine) DetectEmergence(ctx context.Context, opts EmergenceOptions) ([]*types.CoherenceMoment, error) {
	multiplier := opts.Multiplier
	if multiplier <= 0 {
		multiplier = e.config.EmergenceMultiplier
	}

	events, err := e.collectEvents(ctx, storage.TimelineOptions{
		SessionID: opts.SessionID,
		SinceNS:   opts.SinceNS,
		UntilNS:   opts.UntilNS,
	})
	if err != nil {
		return nil, err
	}

	bucketNS := e.config.EmergenceBucket.Nanoseconds()
	buckets := make(map[int64][]*types.CognitiveEvent)
	var firstBucket, lastBucket int64
	total := 0

	for _, ev := range events {
		if ev.Instinct == nil || len(ev.Instinct.EmergenceIndicators) == 0 {
			continue
		}
		bucket := ev.TimestampNS / bucketNS
		if total == 0 || bucket < firstBucket {
			firstBucket = bucket
		}
		if bucket > lastBucket {
			lastBucket = bucket
		}
		buckets[bucket] = append(buckets[bucket], ev)
		total++
	}
	if total == 0 {
		return nil, nil
	}

	// Baseline is the mean indicator-event count per bucket across the
	// whole span, empty buckets included.
	span := lastBucket - firstBucket + 1
	baseline := float64(total) / float64(span)
	threshold := baseline * multiplier

	var moments []*types.CoherenceMoment
	for bucket := firstBucket; bucket <= lastBucket; bucket++ {
		contributors := buckets[bucket]
		count := len(contributors)
		if count < e.config.MinSpikeEvents || float64(count) <= threshold {
			continue
		}

		// A count at exactly the threshold stays routine; the ratio above
		// it maps count==2*threshold to full confidence.
		ratio := float64(count) / threshold
		confidence := ratio / 2
		if confidence > 1 {
			confidence = 1
		}

		moment := &types.CoherenceMoment{
			ID:            engine.GenerateMomentID(),
			DetectedNS:    (bucket + 1) * bucketNS,
			EventIDs:      eventIDs(contributors),
			Platforms:     platforms(contributors),
			CoherenceType: "emergence_spike",
			Confidence:    confidence,
			Description: fmt.Sprintf("%d indicator events in %s against a baseline of %.2f",
				count, e.config.EmergenceBucket, baseline),
			WindowNS:  bucketNS,
			CreatedAt: time.Now().UTC(),
		}
		if opts.Persist {
			if err := e.store.AppendMoment(ctx, moment); err != nil {
				return moments, fmt.Errorf("failed to persist moment: %w", err)
			}
		}
		moments = append(moments, moment)
	}
	return moments, nil
}

// ListMoments pages through previously persisted moments, newest first.
func (e *Engine) ListMoments(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.CoherenceMoment], error) {
	return e.store.ListMoments(ctx, opts)
}

func eventIDs(events []*types.CognitiveEvent) []string {
	ids := make([]string, len(events))
	for n, ev := range events {
		ids[n] = ev.ID
	}
	return ids
}

func platforms(events []*types.CognitiveEvent) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ev := range events {
		if ev.Platform == "" {
			continue
		}
		if _, ok := seen[ev.Platform]; ok {
			continue
		}
		seen[ev.Platform] = struct{}{}
		out = append(out, ev.Platform)
	}
	return out
}
