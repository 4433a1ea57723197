package schema

import (
	"fmt"
	"strings"
)

// Intent classified purpose of a chat message
type Intent string

const (
	IntentNutritionQuestion  Intent = "nutrition_question"
	IntentHealthAssessment   Intent = "health_assessment"
	IntentFoodIdentification Intent = "food_identification"
	IntentExerciseGuidance   Intent = "exercise_guidance"
)

// Intents lists every intent in routing order
var Intents = []Intent{
	IntentNutritionQuestion,
	IntentHealthAssessment,
	IntentFoodIdentification,
	IntentExerciseGuidance,
}

// Valid reports whether i is a known intent
func (i Intent) Valid() bool {
	for _, v := range Intents {
		if v == i {
			return true
		}
	}
	return false
}

// IntentFromSessionType maps the session types 1..4 of a chat session to an intent
func IntentFromSessionType(t int) (Intent, bool) {
	if t < 1 || t > len(Intents) {
		return "", false
	}
	return Intents[t-1], true
}

// ParseIntent normalizes model or caller supplied intent names
func ParseIntent(s string) (Intent, error) {
	v := Intent(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if !v.Valid() {
		return "", fmt.Errorf("unknown intent %q", s)
	}
	return v, nil
}

// IntentClassification model output of the context analysis step
type IntentClassification struct {
	Intent     Intent  `json:"intent" validate:"intent" jsonschema:"title=intent,enum=nutrition_question,enum=health_assessment,enum=food_identification,enum=exercise_guidance"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1" jsonschema:"title=confidence,minimum=0,maximum=1"`
	// Keywords food or topic keywords mentioned in the message
	Keywords []string `json:"keywords,omitempty" jsonschema:"title=keywords,description=Food or topic keywords mentioned in the message"`
}

// IntentSchema validates model output into an IntentClassification
var IntentSchema = NewObject("IntentClassification", WithPostProcess(func(c *IntentClassification) error {
	c.Keywords = trimAll(c.Keywords)
	return nil
}))
