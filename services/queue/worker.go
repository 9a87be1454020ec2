package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/docstack-rag/services"
	"github.com/docstack-rag/services/impl"
)

const (
	claimTimeout = 5 * time.Second
	reapInterval = 60 * time.Second
)

// DocumentFailer marks a document FAILED with a terminal message. The
// worker uses it when a job exhausts its attempts or overruns its
// deadline.
type DocumentFailer interface {
	FailDocument(ctx context.Context, documentID uuid.UUID, message string) error
}

// Worker is a single-job cooperative loop: at most one job in flight per
// worker, multiple workers process distinct jobs in parallel. Jobs are
// idempotent by document id, so a duplicate claim is a no-op inside
// ProcessDocument.
type Worker struct {
	queue       *RedisQueue
	documents   services.DocumentService
	failer      DocumentFailer
	maxAttempts int
	jobTimeout  time.Duration
}

func NewWorker(q *RedisQueue, documents services.DocumentService, failer DocumentFailer, maxAttempts, jobTimeoutSeconds int) *Worker {
	return &Worker{
		queue:       q,
		documents:   documents,
		failer:      failer,
		maxAttempts: maxAttempts,
		jobTimeout:  time.Duration(jobTimeoutSeconds) * time.Second,
	}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker: starting, max_attempts=%d job_timeout=%s", w.maxAttempts, w.jobTimeout)

	lastReap := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker: shutting down")
			return
		default:
		}

		if time.Since(lastReap) >= reapInterval {
			if n, err := w.queue.ReapExpired(ctx); err != nil {
				log.Printf("worker: reap failed: %v", err)
			} else if n > 0 {
				log.Printf("worker: requeued %d expired jobs", n)
			}
			lastReap = time.Now()
		}

		job, err := w.queue.Claim(ctx, claimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker: claim failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	log.Printf("worker: processing job=%s document=%s attempt=%d", job.ID, job.DocumentID, job.Attempt)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	err := w.documents.ProcessDocument(jobCtx, job.DocumentID)
	cancel()

	if err == nil {
		if ackErr := w.queue.Ack(ctx, job); ackErr != nil {
			log.Printf("worker: ack failed for job %s: %v", job.ID, ackErr)
		}
		return
	}

	// A blown per-job deadline is a terminal outcome, not a retry.
	if errors.Is(err, context.DeadlineExceeded) {
		w.fail(ctx, job, "processing deadline exceeded")
		return
	}

	if impl.IsTransient(err) && job.Attempt < w.maxAttempts {
		log.Printf("worker: transient failure for document %s, requeueing (attempt %d/%d): %v",
			job.DocumentID, job.Attempt, w.maxAttempts, err)
		if nackErr := w.queue.Nack(ctx, job, true); nackErr != nil {
			log.Printf("worker: nack failed for job %s: %v", job.ID, nackErr)
		}
		return
	}

	w.fail(ctx, job, err.Error())
}

// fail records the terminal FAILED outcome and acks the job so it never
// runs again.
func (w *Worker) fail(ctx context.Context, job *Job, message string) {
	log.Printf("worker: failing document %s: %s", job.DocumentID, message)
	if err := w.failer.FailDocument(ctx, job.DocumentID, message); err != nil {
		log.Printf("worker: failed to mark document %s FAILED: %v", job.DocumentID, err)
	}
	if err := w.queue.Ack(ctx, job); err != nil {
		log.Printf("worker: ack failed for job %s: %v", job.ID, err)
	}
}
