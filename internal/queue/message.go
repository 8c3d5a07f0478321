// Package queue moves processing messages from the dispatcher to the worker's
// callback endpoint: a durable AMQP queue (or an in-process pool) in front,
// signed HTTP callbacks behind.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is published once per uploaded document.
type Message struct {
	JobID       uuid.UUID `json:"job_id"`
	Focus       string    `json:"focus,omitempty"`
	CallbackURL string    `json:"callback_url"`
	PublishedAt time.Time `json:"published_at"`
}

// CallbackBody is the JSON document posted to the callback endpoint.
type CallbackBody struct {
	JobID uuid.UUID `json:"job_id"`
	Focus string    `json:"focus,omitempty"`
}

// Publisher hands a message to the queue. It does not retry; redelivery is
// the queue's job.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Deliverer turns a queued message into a callback.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

var ErrQueueClosed = errors.New("queue is shutting down")

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.JobID == uuid.Nil {
		return Message{}, errors.New("decode message: missing job_id")
	}
	if m.CallbackURL == "" {
		return Message{}, errors.New("decode message: missing callback_url")
	}
	return m, nil
}
