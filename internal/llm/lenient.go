package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object found in model output")

// ParseModelJSON returns the JSON object in a model answer. Clean JSON is
// returned as is; otherwise the first balanced top-level object embedded in
// prose or a ```json fence is used.
func ParseModelJSON(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	if s == "" {
		return nil, errors.New("empty model output")
	}
	if strings.HasPrefix(s, "{") && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	if obj, ok := FirstJSONObject(s); ok {
		return obj, nil
	}
	return nil, errNoJSONObject
}

// FirstJSONObject scans s for the first balanced {...} that is valid JSON.
func FirstJSONObject(s string) ([]byte, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end := matchBrace(s, start); end > 0 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return []byte(candidate), true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
