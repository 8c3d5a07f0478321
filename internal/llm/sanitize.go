package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
)

// SanitizeToSchema reshapes a model answer toward schemaMap so that a nearly
// right document can still validate:
//   - unknown keys are dropped (additionalProperties = false)
//   - missing keys become null, or [] for arrays
//   - money strings like "£578.00" become numbers; numbers become strings where a string is expected
//   - placeholder strings ("", "N/A", "unknown") become null
//   - risk enums are canonicalised ("high" -> "HIGH", "severe" -> "EXTREME")
//
// It returns the cleaned JSON and a list of the changes made.
func SanitizeToSchema(schemaMap map[string]any, raw []byte) ([]byte, []string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}
	var changes []string
	out := sanitizeValue(schemaMap, doc, "$", &changes)
	b, err := json.Marshal(out)
	if err != nil {
		return nil, nil, fmt.Errorf("sanitize: encode: %w", err)
	}
	return b, changes, nil
}

func sanitizeValue(schema map[string]any, v any, path string, changes *[]string) any {
	types := schemaTypes(schema)
	allows := func(t string) bool { return slices.Contains(types, t) }
	note := func(what string) { *changes = append(*changes, path+": "+what) }

	if enum, ok := schema["enum"].([]any); ok {
		return sanitizeEnum(enum, allows("null"), v, note)
	}

	switch t := v.(type) {
	case nil:
		switch {
		case allows("null"):
			return nil
		case allows("array"):
			note("null -> []")
			return []any{}
		case allows("object"):
			note("null -> {}")
			return sanitizeValue(schema, map[string]any{}, path, changes)
		}
		return nil

	case map[string]any:
		if !allows("object") {
			note("unexpected object dropped")
			return emptyFor(types)
		}
		props, _ := schema["properties"].(map[string]any)
		for k := range t {
			if _, ok := props[k]; !ok {
				delete(t, k)
				note("dropped " + k)
			}
		}
		for k, ps := range props {
			propSchema, _ := ps.(map[string]any)
			child, present := t[k]
			if !present {
				note("filled " + k)
			}
			t[k] = sanitizeValue(propSchema, child, path+"."+k, changes)
		}
		return t

	case []any:
		if !allows("array") {
			note("unexpected array dropped")
			return emptyFor(types)
		}
		items, _ := schema["items"].(map[string]any)
		out := make([]any, 0, len(t))
		for i, item := range t {
			out = append(out, sanitizeValue(items, item, fmt.Sprintf("%s[%d]", path, i), changes))
		}
		return out

	case string:
		s := strings.TrimSpace(t)
		switch {
		case allows("array"):
			note("wrapped scalar in array")
			items, _ := schema["items"].(map[string]any)
			return []any{sanitizeValue(items, s, path+"[0]", changes)}
		case allows("string"):
			if allows("null") && isPlaceholder(s) {
				note("placeholder -> null")
				return nil
			}
			return s
		case allows("number"), allows("integer"):
			if f, ok := parseAmount(s); ok {
				note("string -> number")
				if allows("integer") && !allows("number") {
					return math.Round(f)
				}
				return f
			}
		case allows("boolean"):
			switch strings.ToLower(s) {
			case "true", "yes", "y", "required", "mandatory":
				note("string -> bool")
				return true
			case "false", "no", "n", "optional":
				note("string -> bool")
				return false
			}
		}
		note("unparseable string dropped")
		return emptyFor(types)

	case float64:
		switch {
		case allows("integer") && !allows("number"):
			if t != math.Trunc(t) {
				note("rounded to integer")
				return math.Round(t)
			}
			return t
		case allows("number"):
			return t
		case allows("string"):
			note("number -> string")
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
		note("unexpected number dropped")
		return emptyFor(types)

	case bool:
		switch {
		case allows("boolean"):
			return t
		case allows("string"):
			note("bool -> string")
			return strconv.FormatBool(t)
		}
		note("unexpected bool dropped")
		return emptyFor(types)
	}
	return v
}

func sanitizeEnum(enum []any, nullable bool, v any, note func(string)) any {
	s, ok := v.(string)
	if !ok {
		if v != nil {
			note("non-string enum dropped")
		}
		return nil
	}
	for _, e := range enum {
		if e == s {
			return s
		}
	}
	if lvl, ok := constants.CanonicalizeRisk(s); ok && slices.Contains(enum, any(string(lvl))) {
		note("enum " + s + " -> " + string(lvl))
		return string(lvl)
	}
	if nullable {
		note("enum " + s + " -> null")
	}
	return nil
}

func schemaTypes(schema map[string]any) []string {
	switch t := schema["type"].(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}

func emptyFor(types []string) any {
	if slices.Contains(types, "array") {
		return []any{}
	}
	return nil
}

func isPlaceholder(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "n/a", "na", "none", "unknown", "not stated", "not specified", "-":
		return true
	}
	return false
}

// parseAmount accepts "578", "£578.00", "1,234.5" and "GBP 462".
func parseAmount(s string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
