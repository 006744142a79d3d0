package analysis

import (
	"regexp"
	"strings"

	"mcp-calorie-log/internal/models"
)

// Classification is a provider failure mapped to an actionable category.
type Classification struct {
	Category models.ErrorCategory `json:"category"`
	Message  string               `json:"message"`
}

type errorRule struct {
	category models.ErrorCategory
	markers  []string
	status   *regexp.Regexp
	message  string
}

// statusCode matches code as a standalone number, so "429" matches
// "HTTP 429" but not "4290 calories".
func statusCode(code string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^0-9])` + code + `([^0-9]|$)`)
}

// Checked in order; credential problems win over anything a quota or
// permission message might also mention.
var errorRules = []errorRule{
	{
		category: models.CategoryInvalidCredential,
		markers:  []string{"api_key_invalid", "api key not valid", "invalid api key", "unauthenticated"},
		message:  "The analysis service rejected its API key. Ask the bot owner to check the configured key.",
	},
	{
		category: models.CategoryPermissionDenied,
		markers:  []string{"permission_denied", "permission denied"},
		status:   statusCode("403"),
		message:  "The analysis service denied access. The API key may not have access to this model.",
	},
	{
		category: models.CategoryQuotaExceeded,
		markers:  []string{"resource_exhausted", "quota", "rate limit"},
		status:   statusCode("429"),
		message:  "The analysis service quota is used up. Try again later.",
	},
}

// ClassifyError maps provider error text to a category. Unknown errors keep
// the original text as their message.
func ClassifyError(text string) Classification {
	lower := strings.ToLower(text)
	for _, rule := range errorRules {
		for _, marker := range rule.markers {
			if strings.Contains(lower, marker) {
				return Classification{Category: rule.category, Message: rule.message}
			}
		}
		if rule.status != nil && rule.status.MatchString(lower) {
			return Classification{Category: rule.category, Message: rule.message}
		}
	}
	return Classification{Category: models.CategoryUnknown, Message: text}
}
