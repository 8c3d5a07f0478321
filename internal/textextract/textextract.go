// Package textextract pulls the embedded text layer out of PDF documents.
package textextract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	MethodFitz      = "fitz"
	MethodPdftotext = "pdftotext"
)

// Extractor turns PDF bytes into text. Scanned PDFs without a text layer
// return an empty Text and no error; the caller decides what is enough.
type Extractor interface {
	ExtractPDF(ctx context.Context, data []byte) (Result, error)
}

type Result struct {
	Text     string
	Pages    int
	Method   string
	Duration time.Duration
	Warnings []string
}

// New returns the extractor named by method ("fitz" or "pdftotext").
func New(method string, logger *slog.Logger) (Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", MethodFitz:
		return NewFitzExtractor(logger), nil
	case MethodPdftotext:
		return NewPdftotextExtractor(PdftotextConfig{}, logger), nil
	}
	return nil, fmt.Errorf("unknown text extractor %q", method)
}

// CountChars counts non-whitespace runes, which is what the minimum text
// threshold is measured in.
func CountChars(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\v':
		default:
			n++
		}
	}
	return n
}
