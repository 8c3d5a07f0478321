package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
)

// Config for the OpenAI-compatible chat/completions client.
type Config struct {
	APIKey        string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL       string        // default https://api.openai.com/v1
	SummaryModel  string        // model used for ModeSummary
	AnalysisModel string        // model used for ModeAnalysis; defaults to SummaryModel
	Temperature   float32       // 0..2
	Timeout       time.Duration // http client timeout
	MaxAttempts   int           // calls per request on 429/5xx; default 3
	RetryBackoff  time.Duration // first retry delay, doubled per attempt; default 1s
}

// ConfigFromApp maps the application LLM section onto a client config.
func ConfigFromApp(c common.LLMConfig) Config {
	return Config{
		APIKey:        c.APIKey,
		BaseURL:       c.BaseURL,
		SummaryModel:  c.SummaryModel,
		AnalysisModel: c.AnalysisModel,
		Temperature:   c.Temperature,
		Timeout:       c.Timeout,
		MaxAttempts:   c.MaxAttempts,
	}
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ llm.Extractor = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = "gpt-4o-mini"
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = cfg.SummaryModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// ModelName reports the model configured for mode.
func (c *Client) ModelName(mode llm.Mode) string {
	if mode == llm.ModeAnalysis {
		return c.cfg.AnalysisModel
	}
	return c.cfg.SummaryModel
}
