package verification

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/utils"
)

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseVerdict normalizes oracle text into a Verdict. Text without a valid
// JSON object falls back to a substring check for "fire_detected": true.
func ParseVerdict(text string) database.Verdict {
	match := jsonObjectPattern.FindString(text)

	var raw map[string]interface{}
	if match == "" || json.Unmarshal([]byte(match), &raw) != nil {
		return heuristicVerdict(text)
	}

	isFire := boolField(raw, "fire_detected") || boolField(raw, "isFire")

	v := database.Verdict{
		IsFire:          isFire,
		Score:           confidenceScore(raw["confidence"], isFire),
		Reason:          firstString(raw, "reason", "reasoning"),
		Action:          firstString(raw, "action"),
		Sensitive:       boolField(raw, "sensitive"),
		SensitiveReason: firstString(raw, "sensitive_reason", "sensitiveReason"),
	}
	if v.Reason == "" {
		v.Reason = "Fire detection completed"
	}
	if v.Action == "" {
		v.Action = actionFor(isFire)
	}
	return v
}

// confidenceScore maps a qualitative label (or a number) to a score in [0,1].
func confidenceScore(value interface{}, isFire bool) float64 {
	switch c := value.(type) {
	case string:
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "high":
			return 0.9
		case "medium":
			return 0.6
		case "low":
			return 0.3
		}
		if isFire {
			return 0.7
		}
		return 0.3
	case float64:
		if c < 0 {
			return 0
		}
		if c > 1 {
			return 1
		}
		return c
	}
	if isFire {
		return 0.85
	}
	return 0.15
}

func heuristicVerdict(text string) database.Verdict {
	lower := strings.ToLower(text)
	isFire := strings.Contains(lower, `"fire_detected": true`) ||
		strings.Contains(lower, `"fire_detected":true`)

	score := 0.3
	if isFire {
		score = 0.7
	}
	return database.Verdict{
		IsFire:          isFire,
		Score:           score,
		Reason:          utils.Truncate(text, 500),
		Action:          actionFor(isFire),
		SensitiveReason: "Could not parse sensitivity check",
	}
}

func actionFor(isFire bool) string {
	if isFire {
		return "trigger_alert"
	}
	return "ignore"
}

func boolField(raw map[string]interface{}, key string) bool {
	b, ok := raw[key].(bool)
	return ok && b
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
