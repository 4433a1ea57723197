package schema

// Macros energy and macronutrient amounts
type Macros struct {
	Calories      float64 `json:"calories"`
	Protein       float64 `json:"protein"`
	Carbohydrates float64 `json:"carbohydrates"`
	Fat           float64 `json:"fat"`
}

// Sub returns m - o
func (m Macros) Sub(o Macros) Macros {
	return Macros{
		Calories:      m.Calories - o.Calories,
		Protein:       m.Protein - o.Protein,
		Carbohydrates: m.Carbohydrates - o.Carbohydrates,
		Fat:           m.Fat - o.Fat,
	}
}

// MacrosOf returns the energy and macros of an analysed meal
func MacrosOf(a NutritionAnalysis) Macros {
	return Macros{
		Calories:      a.TotalCalories,
		Protein:       a.Macronutrients.Protein,
		Carbohydrates: a.Macronutrients.Carbohydrates,
		Fat:           a.Macronutrients.Fat,
	}
}

// DailyTargets energy expenditure and intake targets for a user
type DailyTargets struct {
	BMR               float64  `json:"bmr"`
	TDEE              float64  `json:"tdee"`
	ActivityFactor    float64  `json:"activity_factor"`
	CalorieAdjustment float64  `json:"calorie_adjustment"`
	Goal              GoalType `json:"goal"`
	Targets           Macros   `json:"targets"`
}

// GoalImpact effect of a meal on the user's daily budget
type GoalImpact struct {
	Targets         Macros  `json:"daily_targets"`
	RemainingBefore Macros  `json:"remaining_before"`
	RemainingAfter  Macros  `json:"remaining_after"`
	MealPercentage  float64 `json:"meal_percentage"`
	FitsBudget      bool    `json:"fits_budget"`
	ExceededBy      float64 `json:"exceeded_by"`
}

// NutritionResult finalized payload of a nutrition run
type NutritionResult struct {
	Food         FoodDescription    `json:"food"`
	Analysis     NutritionAnalysis  `json:"analysis"`
	HealthGrade  string             `json:"health_grade"`
	Advice       NutritionAdvice    `json:"advice"`
	Dependencies AdviceDependencies `json:"dependencies"`
	Sources      []string           `json:"sources"`
	GoalImpact   *GoalImpact        `json:"goal_impact,omitempty"`
}

// ChatResult finalized payload of a conversational run
type ChatResult struct {
	SessionID       string       `json:"session_id"`
	TurnID          string       `json:"turn_id"`
	Intent          Intent       `json:"intent"`
	Reply           string       `json:"reply"`
	ReferencedMeals []MealRecord `json:"referenced_meals"`
	Sources         []string     `json:"sources"`
}
