package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
)

// Summarize extracts the structured planning summary from a document.
func (c *Client) Summarize(ctx context.Context, content llm.Content, fileName string) (llm.PlanningSummary, []byte, error) {
	var out llm.PlanningSummary
	raw, err := c.complete(ctx, llm.ModeSummary, content, fileName, &out)
	if err != nil {
		return llm.PlanningSummary{}, raw, err
	}
	return out, raw, nil
}

// Analyze produces the planning risk analysis. content.Summary should carry
// the summary JSON produced earlier for the same document.
func (c *Client) Analyze(ctx context.Context, content llm.Content, fileName string) (llm.PlanningAnalysis, []byte, error) {
	var out llm.PlanningAnalysis
	raw, err := c.complete(ctx, llm.ModeAnalysis, content, fileName, &out)
	if err != nil {
		return llm.PlanningAnalysis{}, raw, err
	}
	return out, raw, nil
}

func (c *Client) complete(ctx context.Context, mode llm.Mode, content llm.Content, fileName string, out any) ([]byte, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := c.ModelName(mode)
	event := "llm." + string(mode)

	c.logger.Info(event+".start",
		"req_id", rid,
		"model", model,
		"temp", c.cfg.Temperature,
		"text_len", len(content.Text),
		"image_bytes", len(content.Image),
		"has_focus", content.Focus != "",
		"file", fileName,
	)

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(mode)},
			{"role": "user", "content": userContent(mode, content, fileName)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(llm.SchemaFor(mode))},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, err := c.send(ctx, event, rid, endpoint, body, headers)
	if err != nil {
		c.logger.Error(event+".http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, common.UpstreamError(upstreamMessage(err), err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error(event+".decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return raw, common.UpstreamError("decode openai response", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error(event+".no_choices",
			"req_id", rid, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return raw, common.UpstreamError("no choices in openai response", nil)
	}

	doc, err := llm.DecodeStructured(cc.Choices[0].Message.Content, mode, out, c.logger.With("req_id", rid))
	if err != nil {
		return doc, err
	}

	c.logger.Info(event+".ok",
		"req_id", rid,
		"model", model,
		"bytes", len(doc),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// userContent is plain text for text documents and a multi-part message with
// an inline data URL for images.
func userContent(mode llm.Mode, content llm.Content, fileName string) any {
	prompt := llm.BuildUserPrompt(mode, content, fileName) + "\n\nReturn ONLY JSON that matches the provided schema."
	if !content.IsImage() {
		return prompt
	}
	return []map[string]any{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]any{"url": llm.ImageDataURL(content.Image, content.ImageMIME)}},
	}
}

func upstreamMessage(err error) string {
	var he *llm.HTTPError
	if errors.As(err, &he) {
		return fmt.Sprintf("openai returned status %d", he.Status)
	}
	return "openai request failed"
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
