package llm

import (
	"strings"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
)

// BuildSystemPrompt composes the system message for a mode. The output schema
// itself is sent as a separate system message.
func BuildSystemPrompt(mode Mode) string {
	rules := []string{
		"Return ONLY a JSON object that matches the provided JSON Schema.",
		"Every key in the schema must be present.",
		"If a value is not stated in the document use null, or an empty array for lists. Never invent values.",
		"Use ISO-8601 dates (YYYY-MM-DD) where a date is known.",
	}
	if mode == ModeAnalysis {
		parts := []string{
			"You are a UK planning consultant assessing development risk for a site.",
			"riskLevel and severity must be one of " + strings.Join(constants.RiskLevelStrings(), ", ") + ", or null.",
			"Cite policy references (NPPF paragraphs, local plan policies) only when they appear in or are clearly implied by the document.",
			"Recommended actions should be concrete next steps for the applicant.",
		}
		return strings.Join(append(parts, rules...), " ")
	}
	parts := []string{
		"You are a UK planning document analyst extracting structured facts from planning applications, decision notices and pre-application advice.",
		"Monetary amounts are numbers in pounds sterling (e.g. 578.0), with currency \"GBP\" unless stated otherwise.",
		"requiredDocuments lists the plans and reports the authority asks for; mark mandatory when the document says so.",
		"confidence is your overall confidence in the extraction between 0 and 1.",
	}
	return strings.Join(append(parts, rules...), " ")
}

// BuildUserPrompt describes the document to the model. Text input is
// truncated to constants.MaxPromptTextChars.
func BuildUserPrompt(mode Mode, c Content, fileName string) string {
	var b strings.Builder
	b.WriteString("File name: ")
	b.WriteString(fileName)
	b.WriteString("\n")
	if f := strings.TrimSpace(c.Focus); f != "" {
		b.WriteString("Focus: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	if mode == ModeAnalysis && len(c.Summary) > 0 {
		b.WriteString("\nExtracted planning summary (JSON):\n")
		b.Write(c.Summary)
		b.WriteString("\n")
	}
	if c.IsImage() {
		b.WriteString("\nThe planning document is attached as an image.")
	} else {
		b.WriteString("\nDocument text:\n")
		b.WriteString(truncateRunes(c.Text, constants.MaxPromptTextChars))
	}
	if mode == ModeAnalysis {
		b.WriteString("\n\nProduce the planning risk analysis.")
	} else {
		b.WriteString("\n\nProduce the planning document summary.")
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
