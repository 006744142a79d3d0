package analysis

import (
	"fmt"
	"strings"

	"mcp-calorie-log/internal/models"
)

// IngestInput is one analysis attempt as seen by the bot: either the raw
// model text, or the failure that prevented getting it.
type IngestInput struct {
	ResponseText    string `json:"response_text"`
	Unavailable     bool   `json:"unavailable,omitempty"`
	DownloadError   string `json:"download_error,omitempty"`
	ProviderError   string `json:"provider_error,omitempty"`
	AnalysisError   string `json:"analysis_error,omitempty"`
	UserDescription string `json:"user_description,omitempty"`
}

// UnavailableMessage is reported when no analysis model is configured.
const UnavailableMessage = "Image analysis is not available. Gemini API key not configured."

// Ingest normalizes an analysis attempt into a NutritionRecord. Download
// failures are surfaced verbatim, provider failures are classified first
// and any other failure is reported as a failed analysis.
func Ingest(in IngestInput) models.NutritionRecord {
	switch {
	case in.Unavailable:
		return failedRecord(UnavailableMessage, models.CategoryUnavailable)
	case in.DownloadError != "":
		return failedRecord(fmt.Sprintf("Could not download image: %s", in.DownloadError), "")
	case in.ProviderError != "":
		c := ClassifyError(in.ProviderError)
		return failedRecord(c.Message, c.Category)
	case in.AnalysisError != "":
		return failedRecord(fmt.Sprintf("Analysis failed: %s", in.AnalysisError), models.CategoryUnknown)
	}

	rec := ParseResponse(in.ResponseText)
	if d := strings.TrimSpace(in.UserDescription); d != "" {
		rec.OriginalDescription = d
	}
	return rec
}

func failedRecord(msg string, category models.ErrorCategory) models.NutritionRecord {
	return models.NutritionRecord{
		Kind:      models.KindFailed,
		FoodName:  "Unknown",
		Nutrients: map[string]string{},
		Error:     &msg,
		Category:  category,
	}
}
