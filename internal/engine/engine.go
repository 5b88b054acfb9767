package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/ucw/internal/embedding"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// Engine orchestrates event persistence and async enrichment. CaptureEvent
// writes the raw frame synchronously and queues the rest; worker goroutines
// derive the layers, signature, and embedding in the background and update
// the stored event. A full queue degrades to raw-only capture rather than
// blocking the intercepted channel.
type Engine struct {
	config Config

	store    storage.Store
	embedder *embedding.Service

	queue        chan *EnrichmentJob
	workerWG     sync.WaitGroup
	workerCtx    context.Context
	workerCancel context.CancelFunc

	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	onEnrichmentComplete func(eventID string)
}

// NewEngine creates an enrichment engine. The embedder may be nil, in which
// case the embedding step is skipped and events top out at partial.
func NewEngine(store storage.Store, config Config, embedder *embedding.Service) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		config:   config,
		store:    store,
		embedder: embedder,
		queue:    make(chan *EnrichmentJob, config.QueueSize),
	}, nil
}

// SetOnEnrichmentComplete sets a callback fired after an event's enrichment
// lands, useful for pushing live updates over WebSocket.
func (e *Engine) SetOnEnrichmentComplete(callback func(eventID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnrichmentComplete = callback
}

// Start launches the worker pool. Must be called before CaptureEvent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	e.workerCtx, e.workerCancel = context.WithCancel(ctx)
	e.startWorkerPool(e.workerCtx)
	e.started = true
	log.Printf("Enrichment engine started (%d workers, queue %d)", e.config.NumWorkers, e.config.QueueSize)
	return nil
}

// CaptureEvent persists a raw event synchronously, then queues enrichment.
// When the queue is full the event is kept raw with its enrichment steps
// marked skipped; capture never waits for a worker.
func (e *Engine) CaptureEvent(ctx context.Context, event *types.CognitiveEvent) error {
	e.mu.RLock()
	started := e.started && !e.shuttingDown
	e.mu.RUnlock()
	if !started {
		return fmt.Errorf("engine not started")
	}

	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	event.Status = types.StatusRaw
	event.LayerStatus = types.EnrichmentPending
	event.EmbeddingStatus = types.EnrichmentPending

	if err := e.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if !e.queueJob(&EnrichmentJob{EventID: event.ID, Timestamp: time.Now()}) {
		update := storage.EnrichmentUpdate{
			Status:          types.StatusRaw,
			LayerStatus:     types.EnrichmentSkipped,
			EmbeddingStatus: types.EnrichmentSkipped,
			EnrichError:     "enrichment queue full",
		}
		if err := e.store.UpdateEnrichment(ctx, event.ID, update); err != nil {
			log.Printf("ERROR: failed to mark event %s as skipped: %v", event.ID, err)
		}
	}
	return nil
}

// QueueEnrichment queues an already-stored event for enrichment, used to
// re-enrich events whose earlier attempt was skipped or failed.
func (e *Engine) QueueEnrichment(eventID string) bool {
	e.mu.RLock()
	canQueue := e.started && !e.shuttingDown
	e.mu.RUnlock()
	if !canQueue {
		return false
	}
	return e.queueJob(&EnrichmentJob{EventID: eventID, Timestamp: time.Now()})
}

// QueueLength returns the current number of queued jobs.
func (e *Engine) QueueLength() int {
	return len(e.queue)
}

// Shutdown stops accepting new work and drains the queue, bounded by the
// configured shutdown timeout.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.shuttingDown {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true
	e.mu.Unlock()

	log.Println("Enrichment engine shutting down, draining queue...")

	// Cancel the worker context before closing the queue so in-flight jobs
	// stop requeueing instead of racing the close.
	e.workerCancel()
	err := e.stopWorkerPool(ctx)

	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	return err
}
