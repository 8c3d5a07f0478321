package openai

import (
	"context"
	"errors"
	"time"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
)

const maxRetryWait = 30 * time.Second

// send posts body and retries answers the provider marks as transient (429
// and 5xx). A Retry-After hint replaces the exponential delay. Other errors
// and an ended ctx return the last error as is.
func (c *Client) send(ctx context.Context, event, rid, endpoint string, body any, headers map[string]string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		raw, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
		var he *llm.HTTPError
		if err == nil || attempt >= c.cfg.MaxAttempts || !errors.As(err, &he) || !he.Transient() {
			return raw, err
		}

		wait := c.retryWait(attempt, he)
		c.logger.Warn(event+".retry",
			"req_id", rid,
			"attempt", attempt,
			"status", he.Status,
			"wait_ms", wait.Milliseconds(),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return raw, err
		case <-t.C:
		}
	}
}

func (c *Client) retryWait(attempt int, he *llm.HTTPError) time.Duration {
	if he.RetryAfter > 0 {
		return min(he.RetryAfter, maxRetryWait)
	}
	return min(c.cfg.RetryBackoff<<(attempt-1), maxRetryWait)
}
