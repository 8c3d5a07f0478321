package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

// New builds the process logger. Format "json" emits one object per line,
// anything else uses the text handler.
func New(cfg common.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns logger annotated with request_id and job_id from ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		logger = logger.With("request_id", rid)
	}
	if jid := common.JobIDFromContext(ctx); jid != "" {
		logger = logger.With("job_id", jid)
	}
	return logger
}
