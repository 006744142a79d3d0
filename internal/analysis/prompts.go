package analysis

import (
	"fmt"
	"strings"
)

const responseFormat = `{
    "food_name": "specific name of the food item(s)",
    "estimated_calories": number (total calories for the portion shown),
    "confidence": number between 0-100 (how confident you are in the identification),
    "portion_size": "description of the portion size (e.g., '1 medium apple', '200g rice')",
    "nutritional_info": {
        "protein": "amount in grams",
        "carbohydrates": "amount in grams",
        "fat": "amount in grams",
        "fiber": "amount in grams",
        "sugar": "amount in grams"
    },
    "health_notes": "brief note about nutritional value or health benefits"%s
}`

const enhancedFields = `,
    "user_description_match": true or false (whether the image matches the user's description),
    "description_accuracy": "high", "medium" or "low",
    "interpretation": "how the description and the image were combined"`

const guidelines = `Important guidelines:
- Be as accurate as possible with calorie estimation
- Consider the visible portion size
- If multiple food items, provide total calories and list main items
- If unclear, indicate lower confidence score
- Base estimates on standard nutritional databases`

// ImagePrompt returns the prompt sent with a food photo. A non-empty
// description switches to enhanced mode, which asks the model to reconcile
// the photo with what the user said they ate.
func ImagePrompt(description string) string {
	description = strings.TrimSpace(description)
	var sb strings.Builder
	sb.WriteString("Analyze this food image and provide a detailed nutritional breakdown. ")
	if description != "" {
		fmt.Fprintf(&sb, "The user describes it as: %q. Use the description to refine portion and ingredients, "+
			"but trust the image where they disagree. ", description)
	}
	sb.WriteString("Please respond in this exact JSON format:\n\n")
	if description != "" {
		fmt.Fprintf(&sb, responseFormat, enhancedFields)
	} else {
		fmt.Fprintf(&sb, responseFormat, "")
	}
	sb.WriteString("\n\n")
	sb.WriteString(guidelines)
	return sb.String()
}

// TextPrompt returns the prompt for estimating a meal from text only.
func TextPrompt(food string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Estimate the nutrition of this meal: %q.\n", strings.TrimSpace(food))
	sb.WriteString("Please respond in this exact JSON format:\n\n")
	fmt.Fprintf(&sb, responseFormat, "")
	sb.WriteString("\n\n")
	sb.WriteString(guidelines)
	return sb.String()
}
