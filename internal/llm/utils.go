package llm

import (
	"encoding/base64"
	"net/http"
)

// ImageDataURL encodes an image for the chat/completions image_url part.
// An empty mimeType is sniffed from the bytes.
func ImageDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
