package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/ucw/internal/embedding"
	"github.com/scrypster/ucw/internal/engine"
	"github.com/scrypster/ucw/internal/storage/sqlite"
	"github.com/scrypster/ucw/pkg/types"
)

// fixedGenerator returns the same vector for every text.
type fixedGenerator struct {
	calls int
}

func (g *fixedGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	g.calls++
	return []float32{0.1, 0.2, 0.3}, nil
}

func (g *fixedGenerator) Model() string { return "fixed-model" }

func newTestEngine(t *testing.T, config engine.Config, gen embedding.Generator) (*engine.Engine, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var embedder *embedding.Service
	if gen != nil {
		embedder, err = embedding.NewService(gen, store, embedding.ServiceConfig{RatePerSecond: 10000})
		require.NoError(t, err)
	}

	eng, err := engine.NewEngine(store, config, embedder)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { eng.Shutdown(context.Background()) })

	return eng, store
}

func newSession(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &types.CognitiveSession{
		ID:        id,
		StartedNS: time.Now().UnixNano(),
		Platform:  "test-platform",
	}))
}

func captureFrame(t *testing.T, eng *engine.Engine, sessionID, id string, raw string) {
	t.Helper()
	require.NoError(t, eng.CaptureEvent(context.Background(), &types.CognitiveEvent{
		ID:          id,
		SessionID:   sessionID,
		TimestampNS: time.Now().UnixNano(),
		Direction:   types.DirectionInbound,
		Stage:       types.StageRequest,
		Method:      "tools/call",
		RequestID:   id,
		Turn:        1,
		RawBytes:    []byte(raw),
		Parsed:      []byte(raw),
		Platform:    "test-platform",
		Protocol:    "mcp",
	}))
}

func TestEngine_CaptureEnrichesAsync(t *testing.T) {
	gen := &fixedGenerator{}
	eng, store := newTestEngine(t, engine.DefaultConfig(), gen)
	newSession(t, store, "sess-1")

	raw := `{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"analyze_schema","arguments":{"query":"analyze the database schema"}}}`
	captureFrame(t, eng, "sess-1", "evt-1", raw)

	require.NoError(t, eng.Shutdown(context.Background()))

	event, err := store.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusEnriched, event.Status)
	assert.Equal(t, types.EnrichmentCompleted, event.LayerStatus)
	assert.Equal(t, types.EnrichmentCompleted, event.EmbeddingStatus)
	require.NotNil(t, event.Light)
	assert.Equal(t, types.IntentAnalyze, event.Light.Intent)
	assert.NotEmpty(t, event.CoherenceSignature)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, event.Embedding)
	assert.Equal(t, "fixed-model", event.EmbeddingModel)
	assert.NotNil(t, event.EnrichedAt)
	assert.Equal(t, raw, string(event.RawBytes), "raw bytes untouched by enrichment")
}

func TestEngine_NoEmbedderYieldsPartial(t *testing.T) {
	eng, store := newTestEngine(t, engine.DefaultConfig(), nil)
	newSession(t, store, "sess-2")

	captureFrame(t, eng, "sess-2", "evt-2",
		`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"report","arguments":{"q":"create a report"}}}`)

	require.NoError(t, eng.Shutdown(context.Background()))

	event, err := store.GetEvent(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartial, event.Status)
	assert.Equal(t, types.EnrichmentCompleted, event.LayerStatus)
	assert.Equal(t, types.EnrichmentSkipped, event.EmbeddingStatus)
	require.NotNil(t, event.Instinct, "layers still attached on partial")
}

func TestEngine_IdenticalContentEmbeddedOnce(t *testing.T) {
	gen := &fixedGenerator{}
	// One worker makes the cache hit deterministic; concurrent misses on the
	// same hash are allowed to race to the generator.
	config := engine.Config{NumWorkers: 1, QueueSize: 64, ShutdownTimeout: 5 * time.Second, MaxRetries: 0}
	eng, store := newTestEngine(t, config, gen)
	newSession(t, store, "sess-3")

	raw := `{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"analyze_schema","arguments":{"query":"analyze the database schema"}}}`
	captureFrame(t, eng, "sess-3", "evt-3a", raw)
	captureFrame(t, eng, "sess-3", "evt-3b", raw)

	require.NoError(t, eng.Shutdown(context.Background()))

	a, err := store.GetEvent(context.Background(), "evt-3a")
	require.NoError(t, err)
	b, err := store.GetEvent(context.Background(), "evt-3b")
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, 1, gen.calls, "identical text must hit the cache")
}

func TestEngine_BurstCaptureLosesNothing(t *testing.T) {
	gen := &fixedGenerator{}
	eng, store := newTestEngine(t, engine.DefaultConfig(), gen)
	newSession(t, store, "sess-burst")

	const n = 1000
	for i := 0; i < n; i++ {
		raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":"%d","method":"tools/call","params":{"seq":%d}}`, i, i)
		captureFrame(t, eng, "sess-burst", fmt.Sprintf("evt-burst-%d", i), raw)
	}

	require.NoError(t, eng.Shutdown(context.Background()))

	stats, err := store.Stats(context.Background(), "sess-burst")
	require.NoError(t, err)
	assert.Equal(t, n, stats.EventCount, "every frame must be persisted")
}

func TestEngine_QueueFullKeepsRawEvent(t *testing.T) {
	// A queue of one with zero active throughput forces the overflow path.
	config := engine.Config{NumWorkers: 1, QueueSize: 1, ShutdownTimeout: 5 * time.Second, MaxRetries: 0}
	eng, store := newTestEngine(t, config, nil)
	newSession(t, store, "sess-full")

	for i := 0; i < 50; i++ {
		captureFrame(t, eng, "sess-full", fmt.Sprintf("evt-full-%d", i),
			fmt.Sprintf(`{"jsonrpc":"2.0","id":"%d","method":"ping"}`, i))
	}

	require.NoError(t, eng.Shutdown(context.Background()))

	stats, err := store.Stats(context.Background(), "sess-full")
	require.NoError(t, err)
	assert.Equal(t, 50, stats.EventCount, "overflow must never drop raw frames")
}

func TestEngine_CaptureBeforeStartFails(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng, err := engine.NewEngine(store, engine.DefaultConfig(), nil)
	require.NoError(t, err)

	err = eng.CaptureEvent(context.Background(), &types.CognitiveEvent{ID: "evt-x", SessionID: "s"})
	assert.Error(t, err)
}

// gatedGenerator blocks inside Embed until released, then fails.
type gatedGenerator struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	g.entered <- struct{}{}
	<-g.release
	return nil, fmt.Errorf("embedding backend down")
}

func (g *gatedGenerator) Model() string { return "gated-model" }

func TestEngine_ShutdownDuringEmbedFailureDrainsCleanly(t *testing.T) {
	gen := &gatedGenerator{entered: make(chan struct{}), release: make(chan struct{})}
	config := engine.Config{NumWorkers: 1, QueueSize: 8, ShutdownTimeout: 5 * time.Second, MaxRetries: 3}
	eng, store := newTestEngine(t, config, gen)
	newSession(t, store, "sess-drain")

	captureFrame(t, eng, "sess-drain", "evt-drain",
		`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"report","arguments":{"q":"create a report"}}}`)

	// Wait until the worker is inside the embed call, then shut down with
	// the job still in flight.
	<-gen.entered

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- eng.Shutdown(context.Background()) }()

	// Let Shutdown cancel the worker context and close the queue before the
	// embed call comes back with its failure.
	time.Sleep(50 * time.Millisecond)
	close(gen.release)

	select {
	case err := <-shutdownDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	// The failed job must not be requeued during drain; the event lands
	// partial with its layers attached.
	event, err := store.GetEvent(context.Background(), "evt-drain")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartial, event.Status)
	assert.Equal(t, types.EnrichmentCompleted, event.LayerStatus)
	assert.Equal(t, types.EnrichmentFailed, event.EmbeddingStatus)
	require.NotNil(t, event.Light)
}
