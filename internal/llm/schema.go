package llm

import "github.com/PlanSureAI/plansureai-risk-web-sub001/constants"

// BuildSummaryJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as the output contract and also use it locally to validate.
// Every key is required; unknown values must be null or an empty array.
func BuildSummaryJSONSchema() map[string]any {
	fee := object(map[string]any{
		"amount":   nullable("number"),
		"currency": nullable("string"),
		"basis":    nullable("string"),
	})
	otherFee := object(map[string]any{
		"name":     nullable("string"),
		"amount":   nullable("number"),
		"currency": nullable("string"),
		"notes":    nullable("string"),
	})
	return object(map[string]any{
		"site": object(map[string]any{
			"address":        nullable("string"),
			"localAuthority": nullable("string"),
			"postcode":       nullable("string"),
			"siteArea":       nullable("string"),
			"uprn":           nullable("string"),
		}),
		"proposal": object(map[string]any{
			"description":     nullable("string"),
			"developmentType": nullable("string"),
			"numberOfUnits":   nullable("integer"),
			"useClass":        nullable("string"),
		}),
		"process": object(map[string]any{
			"stage":                 nullable("string"),
			"applicationReference":  nullable("string"),
			"validationDate":        nullable("string"),
			"determinationDeadline": nullable("string"),
			"decision":              nullable("string"),
		}),
		"fees": object(map[string]any{
			"planningAuthorityFee": fee,
			"otherFees":            array(otherFee),
			"totalEstimated":       nullable("number"),
		}),
		"requiredDocuments": array(object(map[string]any{
			"name":      nullable("string"),
			"mandatory": nullable("boolean"),
			"notes":     nullable("string"),
		})),
		"keyDates": array(object(map[string]any{
			"label": nullable("string"),
			"date":  nullable("string"),
		})),
		"confidence": map[string]any{"type": []any{"number", "null"}, "minimum": 0, "maximum": 1},
	})
}

// BuildAnalysisJSONSchema returns the risk-analysis contract. riskLevel and
// severity are limited to the risk enum or null.
func BuildAnalysisJSONSchema() map[string]any {
	return object(map[string]any{
		"headline":  nullable("string"),
		"riskLevel": riskEnum(),
		"keyIssues": array(object(map[string]any{
			"title":    nullable("string"),
			"detail":   nullable("string"),
			"severity": riskEnum(),
		})),
		"policyReferences": array(object(map[string]any{
			"reference": nullable("string"),
			"title":     nullable("string"),
			"relevance": nullable("string"),
		})),
		"recommendedActions": array(object(map[string]any{
			"action":   nullable("string"),
			"priority": nullable("string"),
			"owner":    nullable("string"),
		})),
		"timelineNotes": array(map[string]any{"type": "string"}),
	})
}

// SchemaFor returns the output schema for a mode.
func SchemaFor(mode Mode) map[string]any {
	if mode == ModeAnalysis {
		return BuildAnalysisJSONSchema()
	}
	return BuildSummaryJSONSchema()
}

func object(props map[string]any) map[string]any {
	required := make([]any, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func array(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func nullable(t string) map[string]any {
	return map[string]any{"type": []any{t, "null"}}
}

func riskEnum() map[string]any {
	enum := make([]any, 0, 5)
	for _, s := range constants.RiskLevelStrings() {
		enum = append(enum, s)
	}
	enum = append(enum, nil)
	return map[string]any{"type": []any{"string", "null"}, "enum": enum}
}
