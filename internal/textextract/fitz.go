package textextract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
)

// FitzExtractor reads the text layer in-process with MuPDF.
type FitzExtractor struct {
	MaxPages int // 0 = no limit
	logger   *slog.Logger
}

func NewFitzExtractor(logger *slog.Logger) *FitzExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FitzExtractor{logger: logger}
}

func (e *FitzExtractor) ExtractPDF(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return Result{Method: MethodFitz}, fmt.Errorf("open pdf: %w", err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			e.logger.Warn("textextract.fitz.close_error", "error", err)
		}
	}()

	pages := doc.NumPage()
	if e.MaxPages > 0 && pages > e.MaxPages {
		pages = e.MaxPages
	}

	var b strings.Builder
	var warns []string
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return Result{Method: MethodFitz}, err
		}
		txt, err := doc.Text(i)
		if err != nil {
			warns = append(warns, fmt.Sprintf("page %d: %v", i+1, err))
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\f")
		}
		b.WriteString(txt)
	}

	res := Result{
		Text:     b.String(),
		Pages:    pages,
		Method:   MethodFitz,
		Duration: time.Since(start),
		Warnings: warns,
	}
	e.logger.Debug("textextract.fitz.ok",
		"pages", res.Pages,
		"chars", len(res.Text),
		"warnings", len(warns),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
