package schema

import "strings"

// LowConfidence is the confidence assigned to placeholder food descriptions
const LowConfidence = 0.1

// UnrecognizedFood is the description used when the vision model cannot identify the meal
const UnrecognizedFood = "unidentified food item"

// FoodDescription vision model output for a meal photo
type FoodDescription struct {
	Recognized       bool     `json:"recognized" jsonschema:"title=recognized,description=false when no food can be identified in the image"`
	Description      string   `json:"description" jsonschema:"title=description,description=Detailed description of the visible food and cooking method"`
	Items            []string `json:"items,omitempty" validate:"dive,notblank" jsonschema:"title=items,description=Visible food items"`
	QuantityEstimate string   `json:"quantity_estimate,omitempty" jsonschema:"title=quantity_estimate,description=Estimated portion such as 200g"`
	Confidence       float64  `json:"confidence" validate:"gte=0,lte=1" jsonschema:"title=confidence,minimum=0,maximum=1"`
}

// FoodDescriptionSchema validates vision output into a FoodDescription
var FoodDescriptionSchema = NewObject[FoodDescription]("FoodDescription")

// Unrecognized reports whether the description carries the unrecognized-food signal
func (f FoodDescription) Unrecognized() bool {
	if !f.Recognized {
		return true
	}
	d := strings.ToLower(strings.TrimSpace(f.Description))
	return d == "" || strings.Contains(d, "unrecognized") || strings.Contains(d, "no food")
}

// Placeholder returns the low confidence description used for unrecognized food
func Placeholder(hint string) FoodDescription {
	desc := UnrecognizedFood
	if hint = strings.TrimSpace(hint); hint != "" {
		desc += ": " + hint
	}
	return FoodDescription{
		Recognized:  false,
		Description: desc,
		Confidence:  LowConfidence,
	}
}

// Prompt renders the description with an optional user stated portion
func (f FoodDescription) Prompt(portion string) string {
	var b strings.Builder
	b.WriteString(f.Description)
	if len(f.Items) > 0 {
		b.WriteString("\nItems: ")
		b.WriteString(strings.Join(f.Items, ", "))
	}
	if f.QuantityEstimate != "" {
		b.WriteString("\nEstimated quantity: ")
		b.WriteString(f.QuantityEstimate)
	}
	if portion = strings.TrimSpace(portion); portion != "" {
		b.WriteString("\nUser stated portion: ")
		b.WriteString(portion)
	}
	return b.String()
}
