package llm

import (
	"encoding/json"
	"log/slog"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

// DecodeStructured turns a model answer into out. Validation is strict
// first; on failure a lenient sanitize pass is applied and the result
// re-validated. Anything still off is a SchemaError. The returned bytes are
// the validated JSON document.
func DecodeStructured(content string, mode Mode, out any, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := SchemaForMode(mode)
	if err != nil {
		return nil, common.SchemaError("load output schema", err)
	}

	raw, err := ParseModelJSON(content)
	if err != nil {
		logger.Error("llm.decode.not_json", "mode", mode, "error", err, "content_len", len(content))
		return nil, common.SchemaError("model output is not JSON", err)
	}

	if err := schema.Validate(raw); err != nil {
		cleaned, changes, sErr := SanitizeToSchema(schema.Map(), raw)
		if sErr != nil {
			logger.Error("llm.decode.sanitize_failed", "mode", mode, "error", sErr)
			return raw, common.SchemaError("sanitize model output", sErr)
		}
		if vErr := schema.Validate(cleaned); vErr != nil {
			logger.Error("llm.decode.schema_validation_failed", "mode", mode, "error", vErr)
			return cleaned, common.SchemaError("model output does not match the "+string(mode)+" schema", vErr)
		}
		logger.Warn("llm.decode.lenient_sanitize_applied", "mode", mode, "changes", changes)
		raw = cleaned
	}

	if err := json.Unmarshal(raw, out); err != nil {
		logger.Error("llm.decode.unmarshal_failed", "mode", mode, "error", err)
		return raw, common.SchemaError("decode model output", err)
	}
	return raw, nil
}
