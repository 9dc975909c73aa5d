package forensics

import (
	"fmt"
	"strings"
)

const reportBanner = "============================================================"

// Report renders an aggregated analysis as a fixed-format text report.
// Probabilities are shown as percentages with two decimals; scores above 0.5
// get a warning line. Absent or unexpectedly shaped keys are skipped.
func Report(analysis *Analysis) string {
	var lines []string
	lines = append(lines, "", reportBanner, "IMAGE DETECTION REPORT", reportBanner)
	lines = append(lines, fmt.Sprintf("\nImage Source: %s\n", analysis.ImageSource))

	if prob, ok := nestedFloat(analysis.Deepfake, "type", "deepfake"); ok {
		lines = append(lines, fmt.Sprintf("Deepfake Probability: %.2f%%", prob*100))
		if prob > 0.5 {
			lines = append(lines, "WARNING: High deepfake probability detected!")
		}
	}

	if prob, ok := nestedFloat(analysis.AIGenerated, "type", "ai_generated"); ok {
		lines = append(lines, fmt.Sprintf("AI-Generated Probability: %.2f%%", prob*100))
		if prob > 0.5 {
			lines = append(lines, "WARNING: AI-generated content detected!")
		}
	}

	if score, ok := nestedFloat(analysis.Quality, "quality", "score"); ok {
		lines = append(lines, fmt.Sprintf("Image Quality Score: %.2f%%", score*100))
	}

	if prob, ok := nestedFloat(analysis.Scammer, "scam", "prob"); ok {
		lines = append(lines, fmt.Sprintf("Scammer Detection Probability: %.2f%%", prob*100))
		if prob > 0.5 {
			lines = append(lines, "WARNING: Scammer indicators detected!")
		}
	}

	lines = append(lines, "\n"+reportBanner)
	return strings.Join(lines, "\n")
}

// nestedFloat walks a result map along the given keys and returns the float
// at the end of the path, if every step is present and correctly typed.
func nestedFloat(result ModelResult, keys ...string) (float64, bool) {
	if result == nil || len(keys) == 0 {
		return 0, false
	}
	var current interface{} = map[string]interface{}(result)
	for _, key := range keys {
		node, ok := current.(map[string]interface{})
		if !ok {
			return 0, false
		}
		current, ok = node[key]
		if !ok {
			return 0, false
		}
	}
	switch v := current.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
