package engine

import (
	"log"
	"time"
)

// queueJob attempts to queue an enrichment job without blocking.
// Returns false if the queue is full or shutdown is in progress. The read
// lock is held across the send so Shutdown cannot close the queue under a
// sender that already passed the guard.
func (e *Engine) queueJob(job *EnrichmentJob) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started || e.shuttingDown {
		return false
	}

	select {
	case e.queue <- job:
		return true
	default:
		log.Printf("WARNING: enrichment queue full (size=%d), event %s stays raw",
			e.config.QueueSize, job.EventID)
		return false
	}
}

// requeueJob attempts to requeue a failed job. Returns false if shutdown
// started, max retries were exceeded, or the queue cannot accept it.
func (e *Engine) requeueJob(job *EnrichmentJob) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started || e.shuttingDown || e.workerCtx.Err() != nil {
		return false
	}

	if job.Attempt >= e.config.MaxRetries {
		log.Printf("Max retries (%d) exceeded for event %s, giving up",
			e.config.MaxRetries, job.EventID)
		return false
	}
	job.Attempt++

	select {
	case e.queue <- job:
		log.Printf("Requeued enrichment for event %s (attempt %d/%d)",
			job.EventID, job.Attempt, e.config.MaxRetries)
		return true
	case <-time.After(10 * time.Millisecond):
		log.Printf("WARNING: failed to requeue event %s, queue timeout", job.EventID)
		return false
	}
}
