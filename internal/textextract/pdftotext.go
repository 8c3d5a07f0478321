package textextract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type PdftotextConfig struct {
	Binary  string // binary name or absolute path; if empty -> "pdftotext"
	TempDir string
}

// PdftotextExtractor shells out to poppler's pdftotext.
type PdftotextExtractor struct {
	cfg    PdftotextConfig
	runner Runner
	logger *slog.Logger
}

func NewPdftotextExtractor(cfg PdftotextConfig, logger *slog.Logger) *PdftotextExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "pdftotext"
	}
	return &PdftotextExtractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner, mostly for tests.
func (e *PdftotextExtractor) WithRunner(r Runner) *PdftotextExtractor {
	e.runner = r
	return e
}

func (e *PdftotextExtractor) ExtractPDF(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()

	f, err := os.CreateTemp(e.cfg.TempDir, "planning-*.pdf")
	if err != nil {
		return Result{Method: MethodPdftotext}, fmt.Errorf("create temp pdf: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("textextract.pdftotext.cleanup_error", "path", path, "error", err)
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return Result{Method: MethodPdftotext}, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{Method: MethodPdftotext}, fmt.Errorf("close temp pdf: %w", err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Binary, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return Result{Method: MethodPdftotext, Warnings: []string{string(errb)}}, fmt.Errorf("pdftotext: %w", err)
	}
	text := strings.TrimRight(string(out), "\f")
	// A form-feed \f is used as page separator by default
	pages := 1 + strings.Count(text, "\f")

	return Result{
		Text:     text,
		Pages:    pages,
		Method:   MethodPdftotext,
		Duration: time.Since(start),
	}, nil
}
