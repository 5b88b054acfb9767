// Package capture implements the synchronous capture path: a transparent
// byte-level interceptor between a client and its host process, and a
// correlator that turns each relayed frame into a CognitiveEvent.
//
// The capture path never waits on enrichment, embeddings, or storage
// failures. Its one hard job is lossless, in-order passthrough; everything
// else is best effort behind a loss counter.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scrypster/ucw/internal/engine"
	"github.com/scrypster/ucw/internal/protocol"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// Sink receives correlated events for persistence and async enrichment.
// *engine.Engine satisfies this.
type Sink interface {
	CaptureEvent(ctx context.Context, event *types.CognitiveEvent) error
}

// Config holds correlator settings.
type Config struct {
	Platform   string
	Protocol   string
	PendingTTL time.Duration // Unanswered requests older than this are swept

	// Clock returns the current time in nanoseconds. Defaults to
	// time.Now().UnixNano; overridable for tests.
	Clock func() int64
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Platform == "" {
		c.Platform = "claude-code"
	}
	if c.Protocol == "" {
		c.Protocol = "mcp"
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = func() int64 { return time.Now().UnixNano() }
	}
	return nil
}

// pendingRequest tracks an in-flight request awaiting its response.
type pendingRequest struct {
	eventID string
	turn    int
	seenNS  int64
}

// Correlator assigns each frame a strictly increasing per-session timestamp,
// links responses to their pending requests, tracks turns, and owns the
// session lifecycle. All per-frame work is O(1): one map lookup keyed by the
// JSON-RPC id.
type Correlator struct {
	config   Config
	sessions storage.SessionStore
	sink     Sink

	mu        sync.Mutex
	sessionID string
	lastNS    int64
	turn      int
	pending   map[string]pendingRequest

	eventCount  atomic.Int64
	captureLoss atomic.Int64

	gcStop chan struct{}
	gcDone chan struct{}
}

// NewCorrelator creates a correlator. Start must be called before Observe.
func NewCorrelator(config Config, sessions storage.SessionStore, sink Sink) (*Correlator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Correlator{
		config:   config,
		sessions: sessions,
		sink:     sink,
		pending:  make(map[string]pendingRequest),
	}, nil
}

// Start opens a new session and begins the pending-request sweeper.
func (c *Correlator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return fmt.Errorf("correlator already started")
	}

	session := &types.CognitiveSession{
		ID:        engine.GenerateSessionID(),
		StartedNS: c.config.Clock(),
		Platform:  c.config.Platform,
		Status:    types.SessionActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.sessions.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	c.sessionID = session.ID
	c.lastNS = session.StartedNS

	c.gcStop = make(chan struct{})
	c.gcDone = make(chan struct{})
	go c.sweepLoop()

	log.Printf("Capture session %s started (platform=%s)", session.ID, session.Platform)
	return nil
}

// SessionID returns the active session id, or "" before Start.
func (c *Correlator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// EventCount returns the number of frames observed so far.
func (c *Correlator) EventCount() int64 { return c.eventCount.Load() }

// CaptureLoss returns the number of frames that were forwarded but could not
// be recorded (sink rejected the event).
func (c *Correlator) CaptureLoss() int64 { return c.captureLoss.Load() }

// PendingCount returns the number of requests still awaiting a response.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Observe records one relayed frame. The frame has already been forwarded;
// nothing Observe does can affect the intercepted conversation, so every
// failure is absorbed into the capture-loss counter. The built event is
// returned for monitoring.
func (c *Correlator) Observe(ctx context.Context, raw []byte, direction types.Direction) *types.CognitiveEvent {
	event := c.correlate(raw, direction)
	c.eventCount.Add(1)

	if err := c.sink.CaptureEvent(ctx, event); err != nil {
		c.captureLoss.Add(1)
		log.Printf("ERROR: capture loss (total %d): %v", c.captureLoss.Load(), err)
	}
	return event
}

// correlate builds the event under the session lock. This is the single
// ordering source for the session: timestamps are forced strictly increasing
// even when the wall clock stalls or steps backwards.
func (c *Correlator) correlate(raw []byte, direction types.Direction) *types.CognitiveEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.config.Clock()
	if ts <= c.lastNS {
		ts = c.lastNS + 1
	}
	c.lastNS = ts

	event := &types.CognitiveEvent{
		ID:          engine.GenerateEventID(),
		SessionID:   c.sessionID,
		TimestampNS: ts,
		Direction:   direction,
		RawBytes:    raw,
		ByteLength:  len(raw),
		Platform:    c.config.Platform,
		Protocol:    c.config.Protocol,
		CreatedAt:   time.Now().UTC(),
	}

	body := bytes.TrimRight(raw, "\r\n")
	msg, err := protocol.Parse(body)
	if err != nil {
		event.Error = err.Error()
		event.Turn = c.turn
		return event
	}

	event.Parsed = body
	event.Stage = msg.Stage()
	event.Method = msg.Method
	event.RequestID = msg.CorrelationKey()
	if msg.Error != nil {
		event.Error = msg.ErrorText()
	}

	switch event.Stage {
	case types.StageRequest:
		if event.IsRequest() {
			c.turn++
		}
		event.Turn = c.turn
		c.pending[event.RequestID] = pendingRequest{
			eventID: event.ID,
			turn:    event.Turn,
			seenNS:  ts,
		}
	case types.StageResponse:
		if parent, ok := c.pending[event.RequestID]; ok {
			event.ParentEventID = parent.eventID
			event.Turn = parent.turn
			delete(c.pending, event.RequestID)
		} else {
			event.Orphaned = true
			event.Turn = c.turn
		}
	default:
		event.Turn = c.turn
	}

	return event
}

// sweepLoop garbage-collects requests that never got a response, so the
// pending map stays bounded over long sessions.
func (c *Correlator) sweepLoop() {
	defer close(c.gcDone)

	interval := c.config.PendingTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.gcStop:
			return
		case <-ticker.C:
			if swept := c.sweepPending(c.config.Clock()); swept > 0 {
				log.Printf("Swept %d unanswered requests past TTL", swept)
			}
		}
	}
}

// sweepPending drops pending entries older than PendingTTL and returns how
// many were removed. A response arriving afterwards is stored orphaned.
func (c *Correlator) sweepPending(nowNS int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := nowNS - c.config.PendingTTL.Nanoseconds()
	swept := 0
	for key, req := range c.pending {
		if req.seenNS < cutoff {
			delete(c.pending, key)
			swept++
		}
	}
	return swept
}

// Close stops the sweeper and finalizes the session. Idempotent.
func (c *Correlator) Close(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	endedNS := c.config.Clock()
	if endedNS < c.lastNS {
		endedNS = c.lastNS
	}
	gcStop, gcDone := c.gcStop, c.gcDone
	c.sessionID = ""
	c.gcStop = nil
	c.mu.Unlock()

	if sessionID == "" {
		return nil
	}

	if gcStop != nil {
		close(gcStop)
		<-gcDone
	}

	if err := c.sessions.CloseSession(ctx, sessionID, endedNS); err != nil {
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	log.Printf("Capture session %s closed (%d events, %d lost)",
		sessionID, c.eventCount.Load(), c.captureLoss.Load())
	return nil
}
