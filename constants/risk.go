package constants

import "strings"

type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskExtreme RiskLevel = "EXTREME"
)

var allRiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskExtreme}

func RiskLevelStrings() []string {
	result := make([]string, len(allRiskLevels))
	for i, lvl := range allRiskLevels {
		result[i] = string(lvl)
	}
	return result
}

// CanonicalizeRisk maps model output such as "high", "Very High" or "severe" onto the enum.
func CanonicalizeRisk(input string) (RiskLevel, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]RiskLevel{
		"MODERATE":  RiskMedium,
		"MED":       RiskMedium,
		"VERY HIGH": RiskExtreme,
		"SEVERE":    RiskExtreme,
		"CRITICAL":  RiskExtreme,
		"VERY LOW":  RiskLow,
		"MINIMAL":   RiskLow,
	}
	if lvl, ok := synonyms[normalized]; ok {
		return lvl, true
	}
	for _, lvl := range allRiskLevels {
		if normalized == string(lvl) {
			return lvl, true
		}
	}
	return "", false
}
