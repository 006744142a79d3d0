package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-calorie-log/internal/models"
)

func TestParseFencedBlock(t *testing.T) {
	raw := "Here you go:\n```json\n{\"estimated_calories\": 300, \"food_name\": \"Apple\"}\n```\nEnjoy!"
	rec := ParseResponse(raw)

	assert.Equal(t, models.KindParsed, rec.Kind)
	assert.Equal(t, 300, rec.Calories)
	assert.Equal(t, "Apple", rec.FoodName)
	assert.Nil(t, rec.Error)
	assert.Equal(t, defaultConfidence, rec.Confidence)
	assert.Equal(t, defaultPortionSize, rec.PortionSize)
	assert.Empty(t, rec.Nutrients)
	assert.NotNil(t, rec.Nutrients)
	assert.Equal(t, "", rec.HealthNotes)
}

func TestParseBraceSpan(t *testing.T) {
	raw := `Sure! {"food_name": "Rice bowl", "estimated_calories": 612.6, "confidence": 85,
"portion_size": "1 bowl", "nutritional_info": {"protein": "20g", "fat": 12},
"health_notes": "Balanced"} Let me know if you need more.`
	rec := ParseResponse(raw)

	require.Equal(t, models.KindParsed, rec.Kind)
	assert.Equal(t, 613, rec.Calories)
	assert.Equal(t, "Rice bowl", rec.FoodName)
	assert.Equal(t, 85, rec.Confidence)
	assert.Equal(t, "1 bowl", rec.PortionSize)
	assert.Equal(t, map[string]string{"protein": "20g", "fat": "12"}, rec.Nutrients)
	assert.Equal(t, "Balanced", rec.HealthNotes)
}

func TestParseDefaultsForMissingKeys(t *testing.T) {
	rec := ParseResponse(`{}`)

	assert.Equal(t, models.KindParsed, rec.Kind)
	assert.Equal(t, 0, rec.Calories)
	assert.Equal(t, "Unknown food", rec.FoodName)
	assert.Equal(t, 50, rec.Confidence)
	assert.Equal(t, "Unknown portion", rec.PortionSize)
	assert.Nil(t, rec.Error)
}

func TestParseNumericFallback(t *testing.T) {
	rec := ParseResponse("We estimate this meal at 450 calories total.")

	assert.Equal(t, models.KindDegraded, rec.Kind)
	assert.Equal(t, 450, rec.Calories)
	assert.Equal(t, 30, rec.Confidence)
	assert.Equal(t, "Food item (analysis incomplete)", rec.FoodName)
	require.NotNil(t, rec.Error)
	assert.NotEmpty(t, *rec.Error)
	assert.True(t, rec.Degraded())
	assert.Equal(t, "We estimate this meal at 450 calories total.", rec.HealthNotes)
}

func TestParseFallbackIsCaseInsensitive(t *testing.T) {
	rec := ParseResponse("Roughly 220 CALORIES, maybe 300 calories with sauce")
	assert.Equal(t, 220, rec.Calories)
}

func TestParseEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   \n\t"} {
		rec := ParseResponse(raw)
		assert.Equal(t, models.KindDegraded, rec.Kind)
		assert.Equal(t, 0, rec.Calories)
		assert.NotNil(t, rec.Error)
	}
}

func TestParseBrokenJSONFallsBack(t *testing.T) {
	rec := ParseResponse(`{"food_name": "Pizza", "estimated_calories": 800 calories`)
	// No closing brace: the whole text is the candidate and fails to decode.
	assert.Equal(t, models.KindDegraded, rec.Kind)
	assert.Equal(t, 800, rec.Calories)
}

func TestParseTruncatesNotes(t *testing.T) {
	raw := strings.Repeat("a", 250)
	rec := ParseResponse(raw)

	assert.Equal(t, strings.Repeat("a", 200)+"...", rec.HealthNotes)
}

func TestParseIdempotent(t *testing.T) {
	raw := `{"food_name": "Toast", "estimated_calories": 150, "nutritional_info": {"fiber": "2g"}}`
	assert.Equal(t, ParseResponse(raw), ParseResponse(raw))
}

func TestParseClampsValues(t *testing.T) {
	rec := ParseResponse(`{"estimated_calories": -40, "confidence": 140}`)
	assert.Equal(t, 0, rec.Calories)
	assert.Equal(t, 100, rec.Confidence)
}

func TestParseNumericStrings(t *testing.T) {
	rec := ParseResponse(`{"estimated_calories": "350 kcal", "confidence": "70"}`)
	assert.Equal(t, 350, rec.Calories)
	assert.Equal(t, 70, rec.Confidence)
}

func TestParseEnhancedFields(t *testing.T) {
	raw := "```json\n" + `{"food_name": "Burrito", "estimated_calories": 700,
"user_description_match": false, "description_accuracy": "low",
"interpretation": "Photo shows a burrito, not a salad"}` + "\n```"
	rec := ParseResponse(raw)

	require.NotNil(t, rec.DescriptionUsed)
	assert.False(t, *rec.DescriptionUsed)
	assert.Equal(t, "low", rec.DescriptionAccuracy)
	assert.Equal(t, "Photo shows a burrito, not a salad", rec.Interpretation)
}

func TestParseOnlyFirstFencedBlock(t *testing.T) {
	raw := "```json\n{\"estimated_calories\": 100}\n```\n```json\n{\"estimated_calories\": 900}\n```"
	assert.Equal(t, 100, ParseResponse(raw).Calories)
}
