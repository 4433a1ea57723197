package schema

import "strings"

const (
	// MinRecommendations lower bound of NutritionAdvice.Recommendations
	MinRecommendations = 3
	// MaxRecommendations upper bound of NutritionAdvice.Recommendations
	MaxRecommendations = 5
)

// NutritionAdvice personalized advice for one meal
type NutritionAdvice struct {
	Recommendations  []string `json:"recommendations" validate:"required,min=3,max=5,dive,notblank" jsonschema:"title=recommendations,minItems=3,maxItems=5,description=3 to 5 short concrete recommendations for this meal"`
	DietaryTips      []string `json:"dietary_tips" validate:"dive,notblank" jsonschema:"title=dietary_tips,description=Practical eating tips"`
	Warnings         []string `json:"warnings" validate:"dive,notblank" jsonschema:"title=warnings,description=Health warnings, empty when none apply"`
	AlternativeFoods []string `json:"alternative_foods" validate:"dive,notblank" jsonschema:"title=alternative_foods,description=Healthier alternative foods"`
}

// NutritionAdviceSchema validates model output into a NutritionAdvice
var NutritionAdviceSchema = NewObject("NutritionAdvice", WithPostProcess(func(a *NutritionAdvice) error {
	a.Normalize()
	return nil
}))

// Normalize trims entries and replaces nil lists with empty ones
func (a *NutritionAdvice) Normalize() {
	a.Recommendations = trimAll(a.Recommendations)
	a.DietaryTips = trimAll(a.DietaryTips)
	a.Warnings = trimAll(a.Warnings)
	a.AlternativeFoods = trimAll(a.AlternativeFoods)
}

// AdviceDependencies knowledge distilled for advice generation
type AdviceDependencies struct {
	NutritionFacts   []string `json:"nutrition_facts"`
	HealthGuidelines []string `json:"health_guidelines"`
	FoodInteractions []string `json:"food_interactions"`
}

// Empty reports whether no knowledge was distilled
func (d AdviceDependencies) Empty() bool {
	return len(d.NutritionFacts) == 0 && len(d.HealthGuidelines) == 0 && len(d.FoodInteractions) == 0
}

func trimAll(list []string) []string {
	ret := make([]string, 0, len(list))
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			ret = append(ret, v)
		}
	}
	return ret
}
