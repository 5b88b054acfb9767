// Package web implements the optional live capture monitor: a small
// loopback HTTP server exposing capture counters as JSON and a WebSocket
// feed of capture activity. The monitor is strictly observational; its
// failures never affect the capture path.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// CaptureProbe reports live counters from the capture correlator.
type CaptureProbe interface {
	SessionID() string
	EventCount() int64
	CaptureLoss() int64
	PendingCount() int
}

// QueueProbe reports the enrichment queue depth.
type QueueProbe interface {
	QueueLength() int
}

// Config holds the monitor server settings.
type Config struct {
	Addr       string  // Listen address, e.g. "127.0.0.1:6464"
	RatePerSec float64 // Sustained request rate for /api/stats (default: 5)
}

// Monitor serves live capture statistics over HTTP and WebSocket.
type Monitor struct {
	config  Config
	store   storage.Store
	capture CaptureProbe
	queue   QueueProbe
	hub     *Hub
	limiter *rate.Limiter
	server  *http.Server
}

// NewMonitor creates a monitor. Store is required; capture and queue
// probes are optional and their counters are omitted when nil.
func NewMonitor(config Config, store storage.Store, capture CaptureProbe, queue QueueProbe) (*Monitor, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("monitor: listen address is required")
	}
	if store == nil {
		return nil, fmt.Errorf("monitor: store is required")
	}
	if config.RatePerSec <= 0 {
		config.RatePerSec = 5
	}
	return &Monitor{
		config:  config,
		store:   store,
		capture: capture,
		queue:   queue,
		hub:     NewHub(),
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSec), int(config.RatePerSec)*2),
	}, nil
}

// StatsResponse is the payload of GET /api/stats.
type StatsResponse struct {
	SessionID       string                `json:"session_id,omitempty"`
	EventCount      int64                 `json:"event_count"`
	CaptureLoss     int64                 `json:"capture_loss"`
	PendingRequests int                   `json:"pending_requests"`
	QueueLength     int                   `json:"queue_length"`
	Store           *storage.CaptureStats `json:"store,omitempty"`
}

// EventMessage is broadcast to WebSocket clients for each captured frame.
type EventMessage struct {
	Type        string          `json:"type"`
	EventID     string          `json:"event_id"`
	SessionID   string          `json:"session_id"`
	Direction   types.Direction `json:"direction"`
	Stage       types.Stage     `json:"stage"`
	Method      string          `json:"method,omitempty"`
	Turn        int             `json:"turn"`
	TimestampNS int64           `json:"timestamp_ns"`
	ByteLength  int             `json:"byte_length"`
}

// EnrichmentMessage is broadcast when an event finishes enrichment.
type EnrichmentMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

// Start begins listening and returns the actual bound address, which is
// useful when the configured address uses port 0.
func (m *Monitor) Start(ctx context.Context) (string, error) {
	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return "", fmt.Errorf("monitor: listen %s: %w", m.config.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/stats", m.rateLimit(http.HandlerFunc(m.handleStats)))
	mux.Handle("/ws", m.hub)

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go m.hub.Run()
	go func() {
		if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("monitor: server error: %v", err)
		}
	}()

	addr := listener.Addr().String()
	log.Printf("monitor: listening on %s", addr)
	return addr, nil
}

// Stop shuts down the server and disconnects all WebSocket clients.
func (m *Monitor) Stop(ctx context.Context) error {
	m.hub.Stop()
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// BroadcastCapture publishes a captured event to WebSocket clients.
func (m *Monitor) BroadcastCapture(event *types.CognitiveEvent) {
	if event == nil {
		return
	}
	m.hub.Broadcast(EventMessage{
		Type:        "event_captured",
		EventID:     event.ID,
		SessionID:   event.SessionID,
		Direction:   event.Direction,
		Stage:       event.Stage,
		Method:      event.Method,
		Turn:        event.Turn,
		TimestampNS: event.TimestampNS,
		ByteLength:  event.ByteLength,
	})
}

// BroadcastEnrichment publishes an enrichment completion to WebSocket clients.
func (m *Monitor) BroadcastEnrichment(eventID string) {
	m.hub.Broadcast(EnrichmentMessage{
		Type:    "enrichment_complete",
		EventID: eventID,
	})
}

func (m *Monitor) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"rate limit exceeded","code":"RATE_LIMITED"}`,
				http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleStats handles GET /api/stats.
func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	resp := StatsResponse{}
	if m.capture != nil {
		resp.SessionID = m.capture.SessionID()
		resp.EventCount = m.capture.EventCount()
		resp.CaptureLoss = m.capture.CaptureLoss()
		resp.PendingRequests = m.capture.PendingCount()
	}
	if m.queue != nil {
		resp.QueueLength = m.queue.QueueLength()
	}

	// Store counters are best effort; the live counters still serve.
	stats, err := m.store.Stats(r.Context(), "")
	if err != nil {
		log.Printf("monitor: stats query failed: %v", err)
	} else {
		resp.Store = stats
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("monitor: encode stats: %v", err)
	}
}
