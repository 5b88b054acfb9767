package coherence

import (
	"context"
	"sort"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// MomentsOptions bounds the high-potential listing.
type MomentsOptions struct {
	// Threshold is the minimum coherence potential. Zero uses the
	// configured default.
	Threshold float64

	SessionID string
	SinceNS   int64
	UntilNS   int64

	// Group clusters qualifying events that fall within the group window
	// and share at least one concept or topic. When false, every event
	// stands alone.
	Group bool
}

// MomentGroup is a cluster of high-potential events judged related by
// time-window co-occurrence and label overlap. Clustering never touches
// embeddings; it is meant to stay cheap enough to run on every tool call.
type MomentGroup struct {
	Events       []*types.CognitiveEvent `json:"events"`
	StartNS      int64                   `json:"start_ns"`
	EndNS        int64                   `json:"end_ns"`
	SharedTopics []string                `json:"shared_topics,omitempty"`
	PeakScore    float64                 `json:"peak_score"`
}

// Moments returns events whose coherence potential meets the threshold,
// oldest first, optionally grouped.
func (e *Engine) Moments(ctx context.Context, opts MomentsOptions) ([]MomentGroup, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = e.config.MomentThreshold
	}

	events, err := e.collectEvents(ctx, storage.TimelineOptions{
		SessionID:    opts.SessionID,
		SinceNS:      opts.SinceNS,
		UntilNS:      opts.UntilNS,
		MinCoherence: threshold,
	})
	if err != nil {
		return nil, err
	}

	if !opts.Group {
		groups := make([]MomentGroup, 0, len(events))
		for _, ev := range events {
			groups = append(groups, singletonGroup(ev))
		}
		return groups, nil
	}

	windowNS := e.config.MomentGroupWindow.Nanoseconds()
	var groups []MomentGroup
	for _, ev := range events {
		if len(groups) > 0 {
			last := &groups[len(groups)-1]
			if ev.TimestampNS-last.EndNS <= windowNS {
				if shared := labelOverlap(last, ev); len(shared) > 0 {
					last.Events = append(last.Events, ev)
					last.EndNS = ev.TimestampNS
					last.SharedTopics = shared
					if score := potential(ev); score > last.PeakScore {
						last.PeakScore = score
					}
					continue
				}
			}
		}
		groups = append(groups, singletonGroup(ev))
	}
	return groups, nil
}

func singletonGroup(ev *types.CognitiveEvent) MomentGroup {
	return MomentGroup{
		Events:       []*types.CognitiveEvent{ev},
		StartNS:      ev.TimestampNS,
		EndNS:        ev.TimestampNS,
		SharedTopics: eventLabels(ev),
		PeakScore:    potential(ev),
	}
}

func potential(ev *types.CognitiveEvent) float64 {
	if ev.Instinct == nil {
		return 0
	}
	return ev.Instinct.CoherencePotential
}

// eventLabels returns the event's topics and concepts as one sorted label set.
func eventLabels(ev *types.CognitiveEvent) []string {
	if ev.Light == nil {
		return nil
	}
	set := make(map[string]struct{})
	for _, t := range ev.Light.Topics {
		set[t] = struct{}{}
	}
	for _, c := range ev.Light.Concepts {
		set[c] = struct{}{}
	}
	labels := make([]string, 0, len(set))
	for label := range set {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// labelOverlap intersects the group's running shared labels with the
// candidate event's labels.
func labelOverlap(group *MomentGroup, ev *types.CognitiveEvent) []string {
	candidate := eventLabels(ev)
	if len(candidate) == 0 || len(group.SharedTopics) == 0 {
		return nil
	}
	inGroup := make(map[string]struct{}, len(group.SharedTopics))
	for _, label := range group.SharedTopics {
		inGroup[label] = struct{}{}
	}
	var shared []string
	for _, label := range candidate {
		if _, ok := inGroup[label]; ok {
			shared = append(shared, label)
		}
	}
	return shared
}
