package mcp_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/ucw/internal/api/mcp"
	"github.com/scrypster/ucw/internal/coherence"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/internal/storage/sqlite"
	"github.com/scrypster/ucw/pkg/types"
)

// newTestServer builds a Server over a real in-memory store and analytic
// engine. No embedder is wired; search behavior is covered by the typed
// error path here and by the coherence package's ranking tests.
func newTestServer(t *testing.T) (*mcp.Server, storage.Store) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	analytics, err := coherence.NewEngine(coherence.Config{}, store, nil)
	require.NoError(t, err)

	return mcp.NewServer(store, analytics), store
}

func seedSession(t *testing.T, store storage.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &types.CognitiveSession{
		ID:        id,
		StartedNS: 1,
		Platform:  "test",
		Status:    types.SessionActive,
		CreatedAt: time.Now(),
	}))
}

func seedEvent(t *testing.T, store storage.Store, sessionID, id string, ts int64, intent string, gut types.GutSignal, potential float64) {
	t.Helper()
	ev := &types.CognitiveEvent{
		ID:          id,
		SessionID:   sessionID,
		TimestampNS: ts,
		Direction:   types.DirectionInbound,
		Stage:       types.StageRequest,
		Method:      "tools/call",
		RawBytes:    []byte("{}"),
		Platform:    "test",
		Protocol:    "mcp",
		Status:      types.StatusEnriched,
		LayerStatus: types.EnrichmentCompleted,
		Light: &types.LightLayer{
			Intent: intent,
			Topics: []string{types.TopicDatabase},
		},
		Instinct: &types.InstinctLayer{
			CoherencePotential: potential,
			GutSignal:          gut,
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.AppendEvent(context.Background(), ev))
}

func insertIndicatorEvent(t *testing.T, store storage.Store, sessionID, id string, ts int64) {
	t.Helper()
	ev := &types.CognitiveEvent{
		ID:          id,
		SessionID:   sessionID,
		TimestampNS: ts,
		Direction:   types.DirectionInbound,
		Stage:       types.StageRequest,
		RawBytes:    []byte("{}"),
		Platform:    "test",
		Protocol:    "mcp",
		Status:      types.StatusEnriched,
		LayerStatus: types.EnrichmentCompleted,
		Instinct: &types.InstinctLayer{
			CoherencePotential:  0.9,
			EmergenceIndicators: []string{types.IndicatorHighCoherence},
			GutSignal:           types.SignalBreakthrough,
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.AppendEvent(context.Background(), ev))
}

func TestCaptureStats_MatchesInsertedDistribution(t *testing.T) {
	srv, store := newTestServer(t)
	seedSession(t, store, "sess_stats")

	seedEvent(t, store, "sess_stats", "e1", 10, types.IntentSearch, types.SignalRoutine, 0.1)
	seedEvent(t, store, "sess_stats", "e2", 20, types.IntentSearch, types.SignalInteresting, 0.5)
	seedEvent(t, store, "sess_stats", "e3", 30, types.IntentCreate, types.SignalBreakthrough, 0.9)

	result, err := srv.CaptureStats(context.Background(), mcp.CaptureStatsArgs{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Stats.EventCount)
	assert.Equal(t, 2, result.Stats.ByIntent[types.IntentSearch])
	assert.Equal(t, 1, result.Stats.ByIntent[types.IntentCreate])
	assert.Equal(t, 1, result.Stats.ByGutSignal[string(types.SignalBreakthrough)])
	assert.Equal(t, 1, result.Stats.SessionCount)
}

func TestTimeline_FiltersAndPaginates(t *testing.T) {
	srv, store := newTestServer(t)
	seedSession(t, store, "sess_tl")

	for n := 1; n <= 5; n++ {
		intent := types.IntentSearch
		if n%2 == 0 {
			intent = types.IntentCreate
		}
		seedEvent(t, store, "sess_tl", fmt.Sprintf("tl%d", n), int64(n*100), intent, types.SignalRoutine, 0.1)
	}

	result, err := srv.Timeline(context.Background(), mcp.TimelineArgs{
		SessionID: "sess_tl",
		Intent:    types.IntentSearch,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	for _, ev := range result.Events {
		assert.Equal(t, types.IntentSearch, ev.Light.Intent)
	}

	// Chronological order by default.
	paged, err := srv.Timeline(context.Background(), mcp.TimelineArgs{SessionID: "sess_tl", Limit: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, paged.Events, 2)
	assert.Equal(t, "tl3", paged.Events[0].ID)
	assert.True(t, paged.HasMore)
}

func TestMoments_ReturnsHighPotentialEvents(t *testing.T) {
	srv, store := newTestServer(t)
	seedSession(t, store, "sess_m")

	seedEvent(t, store, "sess_m", "hi", 10, types.IntentAnalyze, types.SignalBreakthrough, 0.9)
	seedEvent(t, store, "sess_m", "lo", 20, types.IntentSearch, types.SignalRoutine, 0.1)

	result, err := srv.Moments(context.Background(), mcp.MomentsArgs{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "hi", result.Groups[0].Events[0].ID)
}

func TestSearch_RequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.Search(context.Background(), mcp.SearchArgs{Query: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSearch_WithoutEmbeddingsReturnsTypedError(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.Search(context.Background(), mcp.SearchArgs{Query: "database design notes"})
	require.Error(t, err)
	assert.ErrorIs(t, err, coherence.ErrSearchUnavailable)
}

func TestStatus_ReportsStoreCounts(t *testing.T) {
	srv, store := newTestServer(t)
	seedSession(t, store, "sess_st")
	seedEvent(t, store, "sess_st", "s1", 10, types.IntentSearch, types.SignalRoutine, 0.1)

	report, err := srv.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.EventCount)
	assert.False(t, report.EmbeddingEnabled)
}

func TestDetectEmergence_DryRunDoesNotPersist(t *testing.T) {
	srv, store := newTestServer(t)
	seedSession(t, store, "sess_em")

	// Quiet buckets then a burst, the shape the detector looks for.
	minute := time.Minute.Nanoseconds()
	ts := int64(0)
	for n := 0; n < 4; n++ {
		ts += 5 * minute
		insertIndicatorEvent(t, store, "sess_em", fmt.Sprintf("q%d", n), ts)
	}
	spike := ts + 5*minute
	for n := 0; n < 6; n++ {
		insertIndicatorEvent(t, store, "sess_em", fmt.Sprintf("b%d", n), spike+int64(n))
	}

	result, err := srv.DetectEmergence(context.Background(), mcp.DetectEmergenceArgs{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.False(t, result.Persisted)

	moments, err := store.ListMoments(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, moments.Items, "dry run must not persist moments")

	persisted, err := srv.DetectEmergence(context.Background(), mcp.DetectEmergenceArgs{})
	require.NoError(t, err)
	assert.True(t, persisted.Persisted)

	moments, err = store.ListMoments(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, moments.Items, 1)
}
