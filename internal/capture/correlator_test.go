package capture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

type fakeSessions struct {
	mu      sync.Mutex
	created *types.CognitiveSession
	closed  string
	endedNS int64
}

func (f *fakeSessions) CreateSession(_ context.Context, s *types.CognitiveSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = s
	return nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*types.CognitiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil || f.created.ID != id {
		return nil, storage.ErrNotFound
	}
	return f.created, nil
}

func (f *fakeSessions) CloseSession(_ context.Context, id string, endedNS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = id
	f.endedNS = endedNS
	return nil
}

func (f *fakeSessions) ListSessions(_ context.Context, _ storage.ListOptions) (*storage.PaginatedResult[types.CognitiveSession], error) {
	return &storage.PaginatedResult[types.CognitiveSession]{}, nil
}

func (f *fakeSessions) Stats(_ context.Context, _ string) (*storage.CaptureStats, error) {
	return &storage.CaptureStats{}, nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []*types.CognitiveEvent
	fail   bool
}

func (f *fakeSink) CaptureEvent(_ context.Context, event *types.CognitiveEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("sink unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) captured() []*types.CognitiveEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.CognitiveEvent, len(f.events))
	copy(out, f.events)
	return out
}

func newTestCorrelator(t *testing.T, config Config, sink Sink) (*Correlator, *fakeSessions) {
	t.Helper()
	sessions := &fakeSessions{}
	c, err := NewCorrelator(config, sessions, sink)
	if err != nil {
		t.Fatalf("NewCorrelator: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, sessions
}

func frame(s string) []byte { return []byte(s + "\n") }

func TestCorrelator_TimestampsStrictlyIncreasing(t *testing.T) {
	// A stalled clock must not produce duplicate timestamps.
	sink := &fakeSink{}
	c, _ := newTestCorrelator(t, Config{Clock: func() int64 { return 1000 }}, sink)

	for n := 0; n < 5; n++ {
		c.Observe(context.Background(), frame(`{"jsonrpc":"2.0","method":"ping"}`), types.DirectionInbound)
	}

	events := sink.captured()
	if len(events) != 5 {
		t.Fatalf("captured %d events, want 5", len(events))
	}
	last := int64(1000) // session start timestamp
	for n, ev := range events {
		if ev.TimestampNS <= last {
			t.Errorf("event %d timestamp %d not after %d", n, ev.TimestampNS, last)
		}
		last = ev.TimestampNS
	}
}

func TestCorrelator_ParentResolutionAndTurns(t *testing.T) {
	sink := &fakeSink{}
	c, _ := newTestCorrelator(t, Config{}, sink)
	ctx := context.Background()

	c.Observe(ctx, frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`), types.DirectionInbound)
	c.Observe(ctx, frame(`{"jsonrpc":"2.0","method":"notifications/progress"}`), types.DirectionOutbound)
	c.Observe(ctx, frame(`{"jsonrpc":"2.0","id":1,"result":{}}`), types.DirectionOutbound)
	c.Observe(ctx, frame(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`), types.DirectionInbound)

	events := sink.captured()
	if len(events) != 4 {
		t.Fatalf("captured %d events, want 4", len(events))
	}

	request, note, response, second := events[0], events[1], events[2], events[3]
	if request.Turn != 1 {
		t.Errorf("request turn = %d, want 1", request.Turn)
	}
	if note.Turn != 1 {
		t.Errorf("notification turn = %d, want 1", note.Turn)
	}
	if response.ParentEventID != request.ID {
		t.Errorf("response parent = %q, want %q", response.ParentEventID, request.ID)
	}
	if response.Turn != 1 {
		t.Errorf("response turn = %d, want 1", response.Turn)
	}
	if response.Orphaned {
		t.Error("matched response flagged orphaned")
	}
	if second.Turn != 2 {
		t.Errorf("second request turn = %d, want 2", second.Turn)
	}
	if got := c.PendingCount(); got != 1 {
		t.Errorf("pending count = %d, want 1 (request 2 unanswered)", got)
	}
}

func TestCorrelator_OrphanedResponse(t *testing.T) {
	sink := &fakeSink{}
	c, _ := newTestCorrelator(t, Config{}, sink)

	ev := c.Observe(context.Background(), frame(`{"jsonrpc":"2.0","id":99,"result":{}}`), types.DirectionOutbound)
	if !ev.Orphaned {
		t.Error("unmatched response not flagged orphaned")
	}
	if ev.ParentEventID != "" {
		t.Errorf("orphan has parent %q", ev.ParentEventID)
	}
}

func TestCorrelator_SweptRequestOrphansLateResponse(t *testing.T) {
	now := int64(0)
	sink := &fakeSink{}
	c, _ := newTestCorrelator(t, Config{
		PendingTTL: time.Minute,
		Clock:      func() int64 { return now },
	}, sink)
	ctx := context.Background()

	now = 1
	c.Observe(ctx, frame(`{"jsonrpc":"2.0","id":7,"method":"tools/call"}`), types.DirectionInbound)

	// Two minutes later the unanswered request is past its TTL.
	now = 2 * time.Minute.Nanoseconds()
	if swept := c.sweepPending(now); swept != 1 {
		t.Fatalf("swept %d entries, want 1", swept)
	}

	ev := c.Observe(ctx, frame(`{"jsonrpc":"2.0","id":7,"result":{}}`), types.DirectionOutbound)
	if !ev.Orphaned {
		t.Error("response after sweep not flagged orphaned")
	}
}

func TestCorrelator_MalformedFrameStillCaptured(t *testing.T) {
	sink := &fakeSink{}
	c, _ := newTestCorrelator(t, Config{}, sink)

	raw := frame(`{"jsonrpc":"2.0", truncated`)
	ev := c.Observe(context.Background(), raw, types.DirectionInbound)

	if ev.Error == "" {
		t.Error("malformed frame has no error text")
	}
	if ev.Parsed != nil {
		t.Error("malformed frame has a parsed payload")
	}
	if string(ev.RawBytes) != string(raw) {
		t.Error("raw bytes not preserved verbatim")
	}
	if len(sink.captured()) != 1 {
		t.Error("malformed frame was not handed to the sink")
	}
}

func TestCorrelator_SinkFailureCountsLoss(t *testing.T) {
	sink := &fakeSink{fail: true}
	c, _ := newTestCorrelator(t, Config{}, sink)

	ev := c.Observe(context.Background(), frame(`{"jsonrpc":"2.0","method":"ping"}`), types.DirectionInbound)
	if ev == nil {
		t.Fatal("Observe returned nil on sink failure")
	}
	if got := c.CaptureLoss(); got != 1 {
		t.Errorf("capture loss = %d, want 1", got)
	}
	if got := c.EventCount(); got != 1 {
		t.Errorf("event count = %d, want 1", got)
	}
}

func TestCorrelator_SessionLifecycle(t *testing.T) {
	sessions := &fakeSessions{}
	c, err := NewCorrelator(Config{Platform: "test-platform"}, sessions, &fakeSink{})
	if err != nil {
		t.Fatalf("NewCorrelator: %v", err)
	}
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sessions.created == nil {
		t.Fatal("no session created")
	}
	if sessions.created.Platform != "test-platform" {
		t.Errorf("session platform = %q", sessions.created.Platform)
	}
	if sessions.created.Status != types.SessionActive {
		t.Errorf("session status = %q, want active", sessions.created.Status)
	}

	ev := c.Observe(ctx, frame(`{"jsonrpc":"2.0","method":"ping"}`), types.DirectionInbound)

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sessions.closed != sessions.created.ID {
		t.Errorf("closed session %q, want %q", sessions.closed, sessions.created.ID)
	}
	if sessions.endedNS < ev.TimestampNS {
		t.Errorf("ended_ns %d precedes last event %d", sessions.endedNS, ev.TimestampNS)
	}

	// Close again is a no-op.
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
