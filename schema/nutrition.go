package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// HealthLevel is the ordinal health grade of a meal, 1 (worst) to 5 (best)
type HealthLevel int

const (
	HealthLevelE HealthLevel = iota + 1
	HealthLevelD
	HealthLevelC
	HealthLevelB
	HealthLevelA
)

var healthGrades = [...]string{"", "E", "D", "C", "B", "A"}

// Valid reports whether l is one of the five grades
func (l HealthLevel) Valid() bool {
	return l >= HealthLevelE && l <= HealthLevelA
}

// Grade returns the letter grade, C for an unknown level
func (l HealthLevel) Grade() string {
	if !l.Valid() {
		return "C"
	}
	return healthGrades[l]
}

func (l HealthLevel) String() string {
	return l.Grade()
}

// ParseHealthLevel accepts a letter grade or an ordinal string
func ParseHealthLevel(s string) (HealthLevel, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i := 1; i < len(healthGrades); i++ {
		if healthGrades[i] == s || fmt.Sprint(i) == s {
			return HealthLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown health level %q", s)
}

// Macronutrients of a meal in grams
type Macronutrients struct {
	Protein       float64 `json:"protein" validate:"gte=0" jsonschema:"title=protein,description=Protein in grams"`
	Fat           float64 `json:"fat" validate:"gte=0" jsonschema:"title=fat,description=Fat in grams"`
	Carbohydrates float64 `json:"carbohydrates" validate:"gte=0" jsonschema:"title=carbohydrates,description=Carbohydrates in grams"`
	DietaryFiber  float64 `json:"dietary_fiber" validate:"gte=0" jsonschema:"title=dietary_fiber,description=Dietary fiber in grams"`
	Sugar         float64 `json:"sugar" validate:"gte=0" jsonschema:"title=sugar,description=Sugar in grams"`
}

// CalorieCheck records how far the macro-derived energy is from the stated total
type CalorieCheck struct {
	DerivedCalories float64 `json:"derived_calories"`
	// Deviation is |derived-total|/total, 0 when total is 0
	Deviation float64 `json:"deviation"`
	Flagged   bool    `json:"flagged"`
}

const (
	// CalorieTolerance is the accepted relative deviation between derived and stated calories
	CalorieTolerance = 0.15
	// CalorieToleranceFloor is the accepted absolute deviation for small meals
	CalorieToleranceFloor = 40.0
)

// NutritionAnalysis structured nutrition breakdown of one meal
type NutritionAnalysis struct {
	FoodItems        []string           `json:"food_items" validate:"required,min=1,dive,notblank" jsonschema:"title=food_items,description=Identified food items in display order"`
	TotalCalories    float64            `json:"total_calories" validate:"gte=0" jsonschema:"title=total_calories,description=Total energy in kcal"`
	Macronutrients   Macronutrients     `json:"macronutrients" jsonschema:"title=macronutrients"`
	VitaminsMinerals map[string]float64 `json:"vitamins_minerals,omitempty" validate:"omitempty,dive,keys,notblank,endkeys,gte=0" jsonschema:"title=vitamins_minerals,description=Named micronutrient quantities such as vitamin_c (mg) or sodium (mg)"`
	HealthLevel      HealthLevel        `json:"health_level" validate:"healthlevel" jsonschema:"title=health_level,enum=1,enum=2,enum=3,enum=4,enum=5,description=Health grade 1=E (poor) to 5=A (best)"`
	CalorieCheck     *CalorieCheck      `json:"calorie_check,omitempty" jsonschema:"-"`
}

// DerivedCalories returns protein*4 + carbohydrates*4 + fat*9
func (a NutritionAnalysis) DerivedCalories() float64 {
	m := a.Macronutrients
	return m.Protein*4 + m.Carbohydrates*4 + m.Fat*9
}

// CheckCalories compares derived and stated energy and records the result on a
func (a *NutritionAnalysis) CheckCalories() *CalorieCheck {
	derived := a.DerivedCalories()
	diff := math.Abs(derived - a.TotalCalories)
	check := &CalorieCheck{DerivedCalories: math.Round(derived*10) / 10}
	if a.TotalCalories > 0 {
		check.Deviation = math.Round(diff/a.TotalCalories*1000) / 1000
	}
	check.Flagged = diff > math.Max(a.TotalCalories*CalorieTolerance, CalorieToleranceFloor)
	a.CalorieCheck = check
	return check
}

// Micronutrient returns a named vitamin or mineral quantity
func (a NutritionAnalysis) Micronutrient(name string) float64 {
	if a.VitaminsMinerals == nil {
		return 0
	}
	if v, ok := a.VitaminsMinerals[name]; ok {
		return v
	}
	for k, v := range a.VitaminsMinerals {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return 0
}

// NutritionAnalysisSchema validates model output into a NutritionAnalysis
var NutritionAnalysisSchema = NewObject("NutritionAnalysis", WithPostProcess(func(a *NutritionAnalysis) error {
	a.CheckCalories()
	return nil
}))

// MarshalJSON keeps health_level numeric and adds its letter grade
func (a NutritionAnalysis) MarshalJSON() ([]byte, error) {
	type alias NutritionAnalysis
	return json.Marshal(struct {
		alias
		HealthGrade string `json:"health_grade,omitempty"`
	}{
		alias:       alias(a),
		HealthGrade: gradeOrEmpty(a.HealthLevel),
	})
}

func gradeOrEmpty(l HealthLevel) string {
	if !l.Valid() {
		return ""
	}
	return l.Grade()
}
