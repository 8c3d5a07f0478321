package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/textextract"
)

// Adapter prepares stored document bytes for the model and runs the two
// structured extraction calls. It never touches the job store.
type Adapter struct {
	model        llm.Extractor
	text         textextract.Extractor
	minTextChars int
	logger       *slog.Logger
}

type Option func(*Adapter)

// WithMinTextChars sets the threshold below which a PDF counts as image-only.
func WithMinTextChars(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.minTextChars = n
		}
	}
}

func NewAdapter(model llm.Extractor, text textextract.Extractor, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		model:        model,
		text:         text,
		minTextChars: constants.DefaultMinTextChars,
		logger:       logger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Prepare picks the extraction path from the MIME type: PDFs go through the
// text layer, images are passed to the model as they are. Anything else, or a
// PDF with too little text, is a content error.
func (a *Adapter) Prepare(ctx context.Context, data []byte, mimeType, focus string) (llm.Content, error) {
	mimeType = constants.NormalizeMIME(mimeType)
	focus = strings.TrimSpace(focus)

	switch constants.MapMIMEToFormat(mimeType) {
	case constants.PDF:
		start := time.Now()
		res, err := a.text.ExtractPDF(ctx, data)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("extract.pdf.text_interrupted", "error", err, "method", res.Method)
			return llm.Content{}, common.UpstreamError("could not read PDF text in time", err)
		}
		if err != nil {
			a.logger.Warn("extract.pdf.text_failed", "error", err, "method", res.Method)
			return llm.Content{}, common.ContentError(fmt.Sprintf("could not read PDF text: %v", err))
		}
		chars := textextract.CountChars(res.Text)
		a.logger.Info("extract.pdf.text_ok",
			"method", res.Method,
			"pages", res.Pages,
			"chars", chars,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if chars < a.minTextChars {
			return llm.Content{}, common.ContentError(fmt.Sprintf(
				"document appears to be image-only: extracted %d characters, need at least %d", chars, a.minTextChars))
		}
		return llm.Content{Text: res.Text, Focus: focus}, nil

	case constants.IMAGE:
		if len(data) == 0 {
			return llm.Content{}, common.ContentError("image document is empty")
		}
		return llm.Content{Image: data, ImageMIME: mimeType, Focus: focus}, nil
	}
	return llm.Content{}, common.ContentError(fmt.Sprintf("unsupported document type %q", mimeType))
}

func (a *Adapter) Summarize(ctx context.Context, content llm.Content, fileName string) (llm.PlanningSummary, []byte, error) {
	out, raw, err := a.model.Summarize(ctx, content, fileName)
	if err != nil {
		a.logFailure(llm.ModeSummary, fileName, err)
		return llm.PlanningSummary{}, raw, err
	}
	return out, raw, nil
}

func (a *Adapter) Analyze(ctx context.Context, content llm.Content, fileName string) (llm.PlanningAnalysis, []byte, error) {
	out, raw, err := a.model.Analyze(ctx, content, fileName)
	if err != nil {
		a.logFailure(llm.ModeAnalysis, fileName, err)
		return llm.PlanningAnalysis{}, raw, err
	}
	return out, raw, nil
}

// ModelName reports the model that serves mode.
func (a *Adapter) ModelName(mode llm.Mode) string {
	return a.model.ModelName(mode)
}

// logFailure keeps schema drift apart from provider trouble in the logs.
func (a *Adapter) logFailure(mode llm.Mode, fileName string, err error) {
	switch common.KindOf(err) {
	case common.KindSchema:
		a.logger.Error("extract.schema_error", "mode", mode, "file", fileName, "error", err)
	case common.KindUpstream:
		a.logger.Warn("extract.upstream_error", "mode", mode, "file", fileName, "error", err)
	default:
		a.logger.Error("extract.failed", "mode", mode, "file", fileName, "error", err)
	}
}
