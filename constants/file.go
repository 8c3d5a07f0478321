package constants

import (
	"path/filepath"
	"strings"
)

const (
	MIMEPDF         = "application/pdf"
	MIMEOctetStream = "application/octet-stream"
)

// Format is the extraction path a document takes.
type Format string

const (
	PDF   Format = "PDF"
	IMAGE Format = "IMAGE"
)

// AllowedImageMIMEs holds the image types the vision model accepts.
var AllowedImageMIMEs = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

var extToMIME = map[string]string{
	"pdf":  MIMEPDF,
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
}

const (
	DefaultMaxUploadBytes = 20 << 20
	DefaultMinTextChars   = 200
	// MaxPromptTextChars bounds how much extracted text is sent to the model.
	MaxPromptTextChars = 24000
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeMIME strips parameters (e.g. "; charset=binary") and lowercases.
func NormalizeMIME(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// MIMEFromFileName maps a file extension onto a supported MIME type, or "".
func MIMEFromFileName(name string) string {
	return extToMIME[NormalizeExt(filepath.Ext(name))]
}

// MapMIMEToFormat picks the extraction path for a MIME type. Unsupported types map to "".
func MapMIMEToFormat(mt string) Format {
	mt = NormalizeMIME(mt)
	switch {
	case mt == MIMEPDF:
		return PDF
	case strings.HasPrefix(mt, "image/"):
		return IMAGE
	default:
		return ""
	}
}

// IsSupportedUpload reports whether the dispatcher accepts this MIME type.
func IsSupportedUpload(mt string) bool {
	mt = NormalizeMIME(mt)
	if mt == MIMEPDF {
		return true
	}
	_, ok := AllowedImageMIMEs[mt]
	return ok
}
