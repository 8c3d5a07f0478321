package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DeliveryError is a failed callback. Retryable failures are left to the
// queue's redelivery.
type DeliveryError struct {
	Status    int
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("callback status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("callback failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// CallbackClient posts signed callbacks to the worker endpoint.
type CallbackClient struct {
	signer *Signer
	http   *http.Client
	logger *slog.Logger
}

var _ Deliverer = (*CallbackClient)(nil)

func NewCallbackClient(signer *Signer, client *http.Client, logger *slog.Logger) *CallbackClient {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 6 * time.Minute}
	}
	return &CallbackClient{signer: signer, http: client, logger: logger}
}

func (c *CallbackClient) Deliver(ctx context.Context, msg Message) error {
	start := time.Now()
	body, err := json.Marshal(CallbackBody{JobID: msg.JobID, Focus: msg.Focus})
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("encode callback: %w", err)}
	}
	token, err := c.signer.Sign(msg.JobID.String(), body)
	if err != nil {
		return &DeliveryError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("build callback request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("queue.callback.send_error", "job_id", msg.JobID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return &DeliveryError{Retryable: true, Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("queue.callback.body_close_error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Info("queue.callback.ok", "job_id", msg.JobID, "status", resp.StatusCode,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	derr := &DeliveryError{
		Status:    resp.StatusCode,
		Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Err:       errors.New(string(bytes.TrimSpace(snippet))),
	}
	c.logger.Warn("queue.callback.rejected", "job_id", msg.JobID, "status", resp.StatusCode,
		"retryable", derr.Retryable, "elapsed_ms", time.Since(start).Milliseconds())
	return derr
}
