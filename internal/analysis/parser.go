// Package analysis turns free-form model output into NutritionRecords and
// classifies provider failures.
package analysis

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"mcp-calorie-log/internal/models"
)

const (
	defaultFoodName    = "Unknown food"
	defaultConfidence  = 50
	defaultPortionSize = "Unknown portion"

	degradedFoodName   = "Food item (analysis incomplete)"
	degradedConfidence = 30
	degradedPortion    = "Unknown"
	degradedError      = "Could not parse detailed analysis"

	notesLimit = 200
	jsonFence  = "```json"
	fence      = "```"
)

var calorieRe = regexp.MustCompile(`(\d+)\s*calorie`)

// ParseResponse extracts a NutritionRecord from raw model text. It never
// fails: undecodable input yields a degraded record with Error set.
func ParseResponse(raw string) models.NutritionRecord {
	text := strings.TrimSpace(raw)
	if text == "" {
		return degradedRecord(text)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractCandidate(text)), &fields); err != nil || fields == nil {
		return degradedRecord(text)
	}
	return parsedRecord(fields)
}

// extractCandidate picks the substring most likely to hold the JSON object.
func extractCandidate(text string) string {
	if start := strings.Index(text, jsonFence); start != -1 {
		body := text[start+len(jsonFence):]
		if end := strings.Index(body, fence); end != -1 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		return text[start : end+1]
	}
	return text
}

func parsedRecord(fields map[string]json.RawMessage) models.NutritionRecord {
	rec := models.NutritionRecord{
		Kind:        models.KindParsed,
		FoodName:    defaultFoodName,
		Confidence:  defaultConfidence,
		PortionSize: defaultPortionSize,
		Nutrients:   map[string]string{},
	}

	if v, ok := fields["estimated_calories"]; ok {
		rec.Calories = max(intValue(v, 0), 0)
	} else if v, ok := fields["calories"]; ok {
		rec.Calories = max(intValue(v, 0), 0)
	}
	if v, ok := fields["food_name"]; ok {
		rec.FoodName = stringValue(v, defaultFoodName)
	}
	if v, ok := fields["confidence"]; ok {
		rec.Confidence = min(max(intValue(v, defaultConfidence), 0), 100)
	}
	if v, ok := fields["portion_size"]; ok {
		rec.PortionSize = stringValue(v, defaultPortionSize)
	}
	if v, ok := fields["nutritional_info"]; ok {
		rec.Nutrients = nutrientValues(v)
	}
	if v, ok := fields["health_notes"]; ok {
		rec.HealthNotes = stringValue(v, "")
	}

	if v, ok := fields["user_description_match"]; ok {
		var used bool
		if json.Unmarshal(v, &used) == nil {
			rec.DescriptionUsed = &used
		}
	}
	if v, ok := fields["description_accuracy"]; ok {
		rec.DescriptionAccuracy = stringValue(v, "")
	}
	if v, ok := fields["interpretation"]; ok {
		rec.Interpretation = stringValue(v, "")
	}
	return rec
}

func degradedRecord(text string) models.NutritionRecord {
	calories := 0
	if m := calorieRe.FindStringSubmatch(strings.ToLower(text)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			calories = n
		}
	}

	notes := text
	if r := []rune(text); len(r) > notesLimit {
		notes = string(r[:notesLimit]) + "..."
	}

	msg := degradedError
	return models.NutritionRecord{
		Kind:        models.KindDegraded,
		Calories:    calories,
		FoodName:    degradedFoodName,
		Confidence:  degradedConfidence,
		PortionSize: degradedPortion,
		Nutrients:   map[string]string{},
		HealthNotes: notes,
		Error:       &msg,
	}
}

// intValue accepts JSON numbers and numeric strings such as "450" or "450 kcal".
func intValue(raw json.RawMessage, def int) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(math.Round(f))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		fields := strings.Fields(s)
		if len(fields) > 0 {
			if f, err := strconv.ParseFloat(fields[0], 64); err == nil {
				return int(math.Round(f))
			}
		}
	}
	return def
}

func stringValue(raw json.RawMessage, def string) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return def
	}
	// Numbers and other scalars keep their JSON text.
	return strings.TrimSpace(string(raw))
}

func nutrientValues(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		out[k] = stringValue(v, "")
	}
	return out
}
