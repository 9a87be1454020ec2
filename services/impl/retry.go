package impl

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/docstack-rag/config"
)

// HTTPStatusError is attached by provider clients so the retry envelope
// can classify by status code before falling back to heuristics.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return e.Message
}

// RetryPolicy wraps external calls with bounded attempts and jittered
// exponential backoff. The last error is always returned after the final
// attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewRetryPolicy(cfg *config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay(),
		MaxDelay:    cfg.MaxDelay(),
	}
}

// Do executes op until it succeeds, a permanent error is classified, or
// attempts are exhausted. requestID ties the retry log lines to a request.
func (p *RetryPolicy) Do(ctx context.Context, requestID string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !IsTransient(lastErr) {
			log.Printf("retry: request_id=%s attempt=%d classification=permanent err=%v", requestID, attempt, lastErr)
			return lastErr
		}

		if attempt == attempts {
			break
		}

		delay := p.backoff(attempt)
		log.Printf("retry: request_id=%s attempt=%d classification=transient delay=%s err=%v", requestID, attempt, delay, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	log.Printf("retry: request_id=%s attempts=%d exhausted err=%v", requestID, attempts, lastErr)
	return lastErr
}

// backoff computes min(maxDelay, base * 2^(attempt-1)) with uniform jitter
// in [0, delay].
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt-1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

// transientTokens matches poorly-typed provider errors by message. The
// default for unmatched errors is permanent.
var transientTokens = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection",
	"unavailable",
	"rate limit",
	"too many requests",
	"temporar",
	"reset by peer",
	"unexpected eof",
	"broken pipe",
}

// IsTransient classifies an error for retry purposes. Order matters:
// explicit HTTP status first, then built-in timeout/connection errors,
// then the message heuristic.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 400, 401, 403, 404:
			return false
		case 408, 429, 500, 502, 503, 504:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, token := range transientTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}

	return false
}
