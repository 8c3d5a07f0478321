package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

const attemptHeader = "x-attempt"

type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RetryDelay time.Duration
	Prefetch   int
}

// AMQPConfigFromApp maps the queue section of the application config.
func AMQPConfigFromApp(c common.QueueConfig) AMQPConfig {
	return AMQPConfig{
		URL:        c.URL,
		Exchange:   c.Exchange,
		Queue:      c.Name,
		RetryDelay: c.RetryDelay,
		Prefetch:   c.Concurrency,
	}
}

func (c AMQPConfig) dlx() string { return c.Exchange + ".dlx" }
func (c AMQPConfig) deadQueue() string { return c.Queue + ".dead" }
func (c AMQPConfig) retryQueue() string { return c.Queue + ".retry" }

// AMQPClient owns one connection and channel to RabbitMQ.
type AMQPClient struct {
	cfg    AMQPConfig
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.Mutex
	logger *slog.Logger
}

var _ Publisher = (*AMQPClient)(nil)

func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 4
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &AMQPClient{cfg: cfg, conn: conn, ch: ch, logger: logger}, nil
}

// SetupTopology declares the exchanges and queues. Idempotent.
func (c *AMQPClient) SetupTopology() error {
	if err := c.ch.ExchangeDeclare(c.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := c.ch.ExchangeDeclare(c.cfg.dlx(), "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}

	if _, err := c.ch.QueueDeclare(c.cfg.deadQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := c.ch.QueueBind(c.cfg.deadQueue(), "", c.cfg.dlx(), false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	_, err := c.ch.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": c.cfg.dlx(),
	})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := c.ch.QueueBind(c.cfg.Queue, c.cfg.Queue, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// Parked deliveries go back to the main exchange once the TTL expires.
	_, err = c.ch.QueueDeclare(c.cfg.retryQueue(), true, false, false, false, amqp.Table{
		"x-message-ttl":             c.cfg.RetryDelay.Milliseconds(),
		"x-dead-letter-exchange":    c.cfg.Exchange,
		"x-dead-letter-routing-key": c.cfg.Queue,
	})
	if err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}
	return nil
}

func (c *AMQPClient) Publish(ctx context.Context, msg Message) error {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.publish(ctx, c.cfg.Exchange, c.cfg.Queue, msg.JobID.String(), body, 1)
}

// PublishRetry parks body on the retry queue with the next attempt number.
func (c *AMQPClient) PublishRetry(ctx context.Context, messageID string, body []byte, attempt int) error {
	return c.publish(ctx, "", c.cfg.retryQueue(), messageID, body, attempt)
}

func (c *AMQPClient) publish(ctx context.Context, exchange, key, messageID string, body []byte, attempt int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.ch.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{attemptHeader: int32(attempt)},
			Body:         body,
		})
	if err != nil {
		c.logger.Error("queue.amqp.publish_error", "exchange", exchange, "key", key, "message_id", messageID, "error", err)
		return fmt.Errorf("publish: %w", err)
	}
	c.logger.Info("queue.amqp.published", "exchange", exchange, "key", key, "message_id", messageID, "attempt", attempt)
	return nil
}

func (c *AMQPClient) Deliveries() (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return c.ch.Consume(
		c.cfg.Queue,
		"",    // consumer
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
}

func (c *AMQPClient) Close() error {
	if err := c.ch.Close(); err != nil && err != amqp.ErrClosed {
		_ = c.conn.Close()
		return err
	}
	return c.conn.Close()
}

func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}
