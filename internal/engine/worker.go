package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/scrypster/ucw/internal/embedding"
	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// worker processes enrichment jobs until the queue is closed.
func (e *Engine) worker(ctx context.Context, workerID int) {
	defer e.workerWG.Done()

	for job := range e.queue {
		e.processJob(ctx, workerID, job)
	}
}

// processJob runs the full enrichment of one event: layer extraction,
// coherence signature, and embedding. Layer extraction is deterministic and
// cannot fail; only the embedding step can leave the event partial.
func (e *Engine) processJob(ctx context.Context, workerID int, job *EnrichmentJob) {
	// Database writes use a background context so an in-flight enrichment
	// still lands during shutdown.
	dbCtx := context.Background()

	// Exponential backoff on retries.
	if job.Attempt > 0 {
		time.Sleep(time.Duration(job.Attempt*job.Attempt) * 100 * time.Millisecond)
	}

	event, err := e.store.GetEvent(dbCtx, job.EventID)
	if err != nil {
		log.Printf("ERROR: worker %d failed to load event %s: %v", workerID, job.EventID, err)
		return
	}

	data := ExtractData(event)
	light := ExtractLight(data)
	instinct := ExtractInstinct(data, light)
	signature := CoherenceSignature(event.TimestampNS, light, data.Content)

	update := storage.EnrichmentUpdate{
		Data:               data,
		Light:              light,
		Instinct:           instinct,
		CoherenceSignature: signature,
		LayerStatus:        types.EnrichmentCompleted,
	}

	var embedErr error
	if e.embedder == nil {
		update.EmbeddingStatus = types.EnrichmentSkipped
	} else {
		text := embedding.BuildText(data, light)
		vec, hash, err := e.embedder.Embed(ctx, text, event.ID)
		switch {
		case err == nil:
			update.Embedding = vec
			update.ContentHash = hash
			update.EmbeddingModel = e.embedder.Model()
			update.EmbeddingStatus = types.EnrichmentCompleted
		case errors.Is(err, embedding.ErrTextTooShort):
			update.EmbeddingStatus = types.EnrichmentSkipped
		default:
			embedErr = err
			update.EmbeddingStatus = types.EnrichmentFailed
			update.EnrichError = err.Error()
		}
	}

	// A transient embedding failure gets another attempt; layers are
	// deterministic so recomputing them on retry is free.
	if embedErr != nil && e.requeueJob(job) {
		return
	}

	if update.EmbeddingStatus == types.EnrichmentCompleted {
		update.Status = types.StatusEnriched
	} else {
		update.Status = types.StatusPartial
	}
	now := time.Now()
	update.EnrichedAt = &now

	if err := e.store.UpdateEnrichment(dbCtx, event.ID, update); err != nil {
		log.Printf("ERROR: worker %d failed to update enrichment for %s: %v", workerID, event.ID, err)
		return
	}

	e.mu.RLock()
	callback := e.onEnrichmentComplete
	e.mu.RUnlock()
	if callback != nil {
		callback(event.ID)
	}
}

// startWorkerPool launches the worker goroutines.
func (e *Engine) startWorkerPool(ctx context.Context) {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWG.Add(1)
		go e.worker(ctx, i)
	}
}

// stopWorkerPool closes the queue and waits for workers to drain, bounded
// by the shutdown timeout.
func (e *Engine) stopWorkerPool(ctx context.Context) error {
	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All enrichment workers finished gracefully")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		log.Printf("WARNING: shutdown timeout reached, %d enrichment jobs dropped", len(e.queue))
		return nil
	case <-ctx.Done():
		log.Printf("WARNING: context cancelled, %d enrichment jobs dropped", len(e.queue))
		return ctx.Err()
	}
}
