package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// LocalPublisher is the in-process queue for single-binary deployments. It
// keeps the same contract as the durable queue: messages become signed
// callbacks, retried a few times on transient failures.
type LocalPublisher struct {
	deliverer   Deliverer
	logger      *slog.Logger
	workers     int
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration

	ch   chan Message
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

var _ Publisher = (*LocalPublisher)(nil)

type LocalOption func(*LocalPublisher)

func WithWorkers(n int) LocalOption {
	return func(q *LocalPublisher) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) LocalOption {
	return func(q *LocalPublisher) {
		if n > 0 {
			q.ch = make(chan Message, n)
		}
	}
}

func WithDeliveryTimeout(d time.Duration) LocalOption {
	return func(q *LocalPublisher) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithRetry(attempts int, backoff time.Duration) LocalOption {
	return func(q *LocalPublisher) {
		if attempts > 0 {
			q.maxAttempts = attempts
		}
		if backoff >= 0 {
			q.backoff = backoff
		}
	}
}

func NewLocalPublisher(d Deliverer, logger *slog.Logger, opts ...LocalOption) *LocalPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	q := &LocalPublisher{
		deliverer:   d,
		logger:      logger,
		workers:     4,
		timeout:     6 * time.Minute,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		ch:          make(chan Message, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *LocalPublisher) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for msg := range q.ch {
					q.deliver(workerID, msg)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *LocalPublisher) deliver(workerID int, msg Message) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.deliverer.Deliver(ctx, msg)
		cancel()
		if err == nil {
			q.logger.Info("callback delivered", "worker_id", workerID, "job_id", msg.JobID, "attempt", attempt)
			return
		}

		var de *DeliveryError
		retryable := !errors.As(err, &de) || de.Retryable
		if !retryable || attempt >= q.maxAttempts {
			q.logger.Error("callback delivery failed", "worker_id", workerID, "job_id", msg.JobID,
				"attempt", attempt, "retryable", retryable, "error", err)
			return
		}
		q.logger.Warn("callback delivery retry", "worker_id", workerID, "job_id", msg.JobID, "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * q.backoff)
	}
}

func (q *LocalPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", msg.JobID)
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		q.logger.Info("queued job for processing", "job_id", msg.JobID)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "job_id", msg.JobID)
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalPublisher) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
