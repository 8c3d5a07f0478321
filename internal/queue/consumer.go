package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// deliverySource is the part of AMQPClient the consumer needs.
type deliverySource interface {
	Deliveries() (<-chan amqp.Delivery, error)
	PublishRetry(ctx context.Context, messageID string, body []byte, attempt int) error
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeReject
)

// Consumer drains the queue and turns each delivery into a signed callback.
type Consumer struct {
	source        deliverySource
	deliverer     Deliverer
	logger        *slog.Logger
	workers       int
	timeout       time.Duration
	maxDeliveries int
}

type ConsumerOption func(*Consumer)

func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithCallbackTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxDeliveries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxDeliveries = n
		}
	}
}

func NewConsumer(source deliverySource, deliverer Deliverer, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		source:        source,
		deliverer:     deliverer,
		logger:        logger,
		workers:       4,
		timeout:       6 * time.Minute,
		maxDeliveries: 5,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Deliveries()
	if err != nil {
		return err
	}
	c.logger.Info("queue.consumer.started", "concurrency", c.workers)

	var wg sync.WaitGroup
	wg.Add(c.workers)
	for i := 0; i < c.workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						c.logger.Warn("queue.consumer.channel_closed", "worker_id", workerID)
						return
					}
					c.settle(ctx, d)
				}
			}
		}(i + 1)
	}
	wg.Wait()
	c.logger.Info("queue.consumer.stopped")
	return ctx.Err()
}

func (c *Consumer) settle(ctx context.Context, d amqp.Delivery) {
	attempt := attemptOf(d.Headers)
	l := c.logger.With("message_id", d.MessageId, "attempt", attempt)

	switch c.handle(ctx, d.Body, attempt) {
	case outcomeAck:
		if err := d.Ack(false); err != nil {
			l.Error("queue.consumer.ack_error", "error", err)
		}
	case outcomeReject:
		// dead-lettered through the queue's DLX
		if err := d.Nack(false, false); err != nil {
			l.Error("queue.consumer.nack_error", "error", err)
		}
	case outcomeRetry:
		if err := c.source.PublishRetry(ctx, d.MessageId, d.Body, attempt+1); err != nil {
			l.Error("queue.consumer.retry_publish_error", "error", err)
			_ = d.Nack(false, true)
			return
		}
		if err := d.Ack(false); err != nil {
			l.Error("queue.consumer.ack_error", "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte, attempt int) outcome {
	msg, err := DecodeMessage(body)
	if err != nil {
		c.logger.Error("queue.consumer.bad_message", "error", err, "bytes", len(body))
		return outcomeReject
	}
	l := c.logger.With("job_id", msg.JobID, "attempt", attempt)

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	err = c.deliverer.Deliver(cctx, msg)
	cancel()
	if err == nil {
		return outcomeAck
	}

	var de *DeliveryError
	if errors.As(err, &de) && !de.Retryable {
		l.Error("queue.consumer.callback_rejected", "error", err)
		return outcomeReject
	}
	if attempt >= c.maxDeliveries {
		l.Error("queue.consumer.max_deliveries", "error", err, "max", c.maxDeliveries)
		return outcomeReject
	}
	l.Warn("queue.consumer.callback_retry", "error", err)
	return outcomeRetry
}
