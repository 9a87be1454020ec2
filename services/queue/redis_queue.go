package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is one unit of ingestion work, keyed by document id. Payload keeps
// the exact bytes the job was claimed with so list removal matches.
type Job struct {
	ID         string    `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	payload []byte
}

// RedisQueue is an at-least-once job queue over Redis lists: pending and
// processing lists plus a per-job lease key carrying the visibility
// timeout. Jobs whose lease expired are swept back to pending.
type RedisQueue struct {
	client            *redis.Client
	name              string
	visibilityTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, name string, visibilityTimeoutSeconds int) *RedisQueue {
	return &RedisQueue{
		client:            client,
		name:              name,
		visibilityTimeout: time.Duration(visibilityTimeoutSeconds) * time.Second,
	}
}

func (q *RedisQueue) pendingKey() string    { return q.name + ":pending" }
func (q *RedisQueue) processingKey() string { return q.name + ":processing" }
func (q *RedisQueue) leaseKey(jobID string) string {
	return fmt.Sprintf("%s:lease:%s", q.name, jobID)
}

// Enqueue pushes a new job for the document.
func (q *RedisQueue) Enqueue(ctx context.Context, documentID uuid.UUID) error {
	job := Job{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim blocks up to timeout for a job, moving it to the processing list
// and opening its lease. Returns nil when no job arrived in time.
func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (*Job, error) {
	payload, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Poison payload: drop it rather than wedge the queue.
		q.client.LRem(ctx, q.processingKey(), 1, payload)
		return nil, fmt.Errorf("failed to decode claimed job, dropped: %w", err)
	}
	job.payload = []byte(payload)

	if err := q.client.Set(ctx, q.leaseKey(job.ID), payload, q.visibilityTimeout).Err(); err != nil {
		log.Printf("queue: failed to open lease for job %s: %v", job.ID, err)
	}
	return &job, nil
}

// Ack removes a completed job from the processing list and closes its
// lease.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, string(job.payload)).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	q.client.Del(ctx, q.leaseKey(job.ID))
	return nil
}

// Nack removes the job from processing and, when requeue is set, pushes
// it back to pending with the attempt counter incremented.
func (q *RedisQueue) Nack(ctx context.Context, job *Job, requeue bool) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, string(job.payload)).Err(); err != nil {
		return fmt.Errorf("failed to nack job %s: %w", job.ID, err)
	}
	q.client.Del(ctx, q.leaseKey(job.ID))

	if !requeue {
		return nil
	}

	retry := *job
	retry.Attempt++
	payload, err := json.Marshal(retry)
	if err != nil {
		return fmt.Errorf("failed to marshal requeued job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return nil
}

// ReapExpired sweeps processing entries whose lease is gone back to the
// pending list. Called periodically by the worker; crash recovery depends
// on it.
func (q *RedisQueue) ReapExpired(ctx context.Context) (int, error) {
	payloads, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan processing list: %w", err)
	}

	requeued := 0
	for _, payload := range payloads {
		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			q.client.LRem(ctx, q.processingKey(), 1, payload)
			continue
		}

		exists, err := q.client.Exists(ctx, q.leaseKey(job.ID)).Result()
		if err != nil || exists > 0 {
			continue
		}

		// Lease expired: the claiming worker died or overran. Move the
		// job back for another attempt.
		if err := q.client.LRem(ctx, q.processingKey(), 1, payload).Err(); err != nil {
			continue
		}
		job.Attempt++
		retried, err := json.Marshal(job)
		if err != nil {
			continue
		}
		if err := q.client.LPush(ctx, q.pendingKey(), retried).Err(); err != nil {
			log.Printf("queue: failed to requeue expired job %s: %v", job.ID, err)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// Depth reports the pending queue length.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}
