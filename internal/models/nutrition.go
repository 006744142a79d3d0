// internal/models/nutrition.go
package models

// RecordKind tags how a NutritionRecord was produced.
type RecordKind string

const (
	// KindParsed means the model output decoded as structured JSON.
	KindParsed RecordKind = "parsed"
	// KindDegraded means decoding failed and a numeric scan filled in calories.
	KindDegraded RecordKind = "degraded"
	// KindFailed means no analysis happened (unavailable, download, provider
	// or other analysis failure).
	KindFailed RecordKind = "failed"
)

// ErrorCategory is the classified cause of a provider failure.
type ErrorCategory string

const (
	CategoryInvalidCredential ErrorCategory = "invalid_credential"
	CategoryPermissionDenied  ErrorCategory = "permission_denied"
	CategoryQuotaExceeded     ErrorCategory = "quota_exceeded"
	CategoryUnavailable       ErrorCategory = "unavailable"
	CategoryUnknown           ErrorCategory = "unknown"
)

// NutritionRecord is the normalized analysis envelope handed to the
// presentation layer. It is never persisted as-is.
type NutritionRecord struct {
	Kind        RecordKind        `json:"kind"`
	Calories    int               `json:"calories"`
	FoodName    string            `json:"food_name"`
	Confidence  int               `json:"confidence"`
	PortionSize string            `json:"portion_size"`
	Nutrients   map[string]string `json:"nutritional_info"`
	HealthNotes string            `json:"health_notes"`
	Error       *string           `json:"error"`

	// Set only for provider failures.
	Category ErrorCategory `json:"error_category,omitempty"`

	// Enhanced mode, when the user supplied a description alongside the image.
	DescriptionUsed     *bool  `json:"user_description_used,omitempty"`
	DescriptionAccuracy string `json:"description_accuracy,omitempty"`
	Interpretation      string `json:"interpretation,omitempty"`
	OriginalDescription string `json:"original_description,omitempty"`
}

// Degraded reports whether the record should be shown with a low-confidence
// warning.
func (r NutritionRecord) Degraded() bool {
	return r.Kind == KindDegraded
}

// ErrorText returns the error marker or "".
func (r NutritionRecord) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}
