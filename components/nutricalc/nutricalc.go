// Package nutricalc estimates energy expenditure and daily intake targets,
// and measures how a meal fits the remaining daily budget.
package nutricalc

import (
	"math"
	"time"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/schema"
)

// Energy per gram of macronutrient
const (
	KcalPerGramProtein = 4
	KcalPerGramCarbs   = 4
	KcalPerGramFat     = 9
)

// DefaultActivityFactor used for unknown activity levels
const DefaultActivityFactor = 1.375

var activityFactors = map[int]float64{
	1: 1.2,
	2: 1.375,
	3: 1.55,
	4: 1.725,
	5: 1.9,
}

var calorieAdjustments = map[schema.GoalType]float64{
	schema.GoalLoseWeight:  -500,
	schema.GoalGainWeight:  300,
	schema.GoalMaintain:    0,
	schema.GoalBuildMuscle: 200,
	schema.GoalLoseFat:     -400,
}

// MacroRatio energy share of each macronutrient
type MacroRatio struct {
	Protein       float64 `json:"protein"`
	Carbohydrates float64 `json:"carbohydrates"`
	Fat           float64 `json:"fat"`
}

var macroRatios = map[schema.GoalType]MacroRatio{
	schema.GoalLoseWeight:  {Protein: 0.30, Carbohydrates: 0.35, Fat: 0.35},
	schema.GoalGainWeight:  {Protein: 0.25, Carbohydrates: 0.50, Fat: 0.25},
	schema.GoalMaintain:    {Protein: 0.25, Carbohydrates: 0.50, Fat: 0.25},
	schema.GoalBuildMuscle: {Protein: 0.35, Carbohydrates: 0.40, Fat: 0.25},
	schema.GoalLoseFat:     {Protein: 0.30, Carbohydrates: 0.35, Fat: 0.35},
}

// Ratio returns the macro ratio for goal, maintenance ratios for unknown goals
func Ratio(goal schema.GoalType) MacroRatio {
	if r, ok := macroRatios[goal]; ok {
		return r
	}
	return macroRatios[schema.GoalMaintain]
}

// BMR basal metabolic rate in kcal/day by the Mifflin-St Jeor equation.
// Anything but male uses the female constant.
func BMR(p schema.Profile) float64 {
	bmr := 10*p.WeightKG + 6.25*p.HeightCM - 5*float64(p.Age)
	if p.Gender == schema.GenderMale {
		bmr += 5
	} else {
		bmr -= 161
	}
	return round(bmr, 1)
}

// ActivityFactor multiplier for activity level 1..5
func ActivityFactor(level int) float64 {
	if f, ok := activityFactors[level]; ok {
		return f
	}
	return DefaultActivityFactor
}

// TDEE total daily energy expenditure
func TDEE(bmr float64, activityLevel int) float64 {
	return round(bmr*ActivityFactor(activityLevel), 1)
}

// Targets daily intake targets for a tdee and goal, with the applied calorie adjustment
func Targets(tdee float64, goal schema.GoalType) (schema.Macros, float64) {
	adjustment := calorieAdjustments[goal]
	calories := tdee + adjustment
	ratio := Ratio(goal)
	return schema.Macros{
		Calories:      math.Round(calories),
		Protein:       math.Round(calories * ratio.Protein / KcalPerGramProtein),
		Carbohydrates: math.Round(calories * ratio.Carbohydrates / KcalPerGramCarbs),
		Fat:           math.Round(calories * ratio.Fat / KcalPerGramFat),
	}, adjustment
}

// DailyTargets computes BMR, TDEE and intake targets for a user
func DailyTargets(uc schema.UserContext) (*schema.DailyTargets, error) {
	if !uc.Profile.HasBodyMetrics() {
		return nil, &components.InputError{Field: "profile", Reason: "age, height and weight are required"}
	}
	bmr := BMR(uc.Profile)
	tdee := TDEE(bmr, uc.Profile.ActivityLevel)
	targets, adjustment := Targets(tdee, uc.Goal)
	return &schema.DailyTargets{
		BMR:               bmr,
		TDEE:              tdee,
		ActivityFactor:    ActivityFactor(uc.Profile.ActivityLevel),
		CalorieAdjustment: adjustment,
		Goal:              uc.Goal,
		Targets:           targets,
	}, nil
}

// Remaining budget left after consumed
func Remaining(targets, consumed schema.Macros) schema.Macros {
	return roundMacros(targets.Sub(consumed))
}

// MealImpact effect of meal on the daily budget
func MealImpact(meal, targets, remainingBefore schema.Macros) schema.GoalImpact {
	var pct float64
	if targets.Calories > 0 {
		pct = round(meal.Calories/targets.Calories*100, 1)
	}
	after := remainingBefore.Sub(meal)
	ret := schema.GoalImpact{
		Targets:         targets,
		RemainingBefore: remainingBefore,
		RemainingAfter:  roundMacros(after),
		MealPercentage:  pct,
		FitsBudget:      after.Calories >= 0,
	}
	if !ret.FitsBudget {
		ret.ExceededBy = math.Round(-after.Calories)
	}
	return ret
}

// GoalImpact of an analysed meal for a user eating it at now.
// It returns nil when the profile lacks body metrics.
func GoalImpact(uc schema.UserContext, analysis schema.NutritionAnalysis, now time.Time) *schema.GoalImpact {
	daily, err := DailyTargets(uc)
	if err != nil {
		return nil
	}
	before := Remaining(daily.Targets, uc.ConsumedOn(now))
	impact := MealImpact(schema.MacrosOf(analysis), daily.Targets, before)
	return &impact
}

// Trend direction of weight change relative to the goal
type Trend string

const (
	TrendStable   Trend = "stable"
	TrendOnTrack  Trend = "on_track"
	TrendOffTrack Trend = "off_track"
)

// StableThresholdKG weight changes below it are stable
const StableThresholdKG = 0.5

// Progress toward a weight goal
type Progress struct {
	StartingWeight float64 `json:"starting_weight"`
	CurrentWeight  float64 `json:"current_weight"`
	TargetWeight   float64 `json:"target_weight"`
	WeightChange   float64 `json:"weight_change"`
	Remaining      float64 `json:"remaining"`
	// Percentage of the required change achieved, clamped to 0..100
	Percentage float64 `json:"progress_percentage"`
	Trend      Trend   `json:"trend"`
}

// GoalProgress measures the move from starting toward target weight.
// Moving away from a loss or gain goal counts as no progress.
func GoalProgress(starting, current, target float64, goal schema.GoalType) Progress {
	change := current - starting
	needed := math.Abs(target - starting)
	losing := goal == schema.GoalLoseWeight || goal == schema.GoalLoseFat
	gaining := goal == schema.GoalGainWeight
	var pct float64
	switch {
	case needed > 0:
		pct = math.Abs(change) / needed * 100
		if (losing && change > 0) || (gaining && change < 0) {
			pct = -pct
		}
	case current == target:
		pct = 100
	}
	trend := TrendOffTrack
	switch {
	case math.Abs(change) < StableThresholdKG:
		trend = TrendStable
	case (losing && change < 0) || (gaining && change > 0):
		trend = TrendOnTrack
	}
	return Progress{
		StartingWeight: starting,
		CurrentWeight:  current,
		TargetWeight:   target,
		WeightChange:   round(change, 2),
		Remaining:      round(math.Abs(target-current), 2),
		Percentage:     round(min(100, max(0, pct)), 1),
		Trend:          trend,
	}
}

func roundMacros(m schema.Macros) schema.Macros {
	return schema.Macros{
		Calories:      math.Round(m.Calories),
		Protein:       math.Round(m.Protein),
		Carbohydrates: math.Round(m.Carbohydrates),
		Fat:           math.Round(m.Fat),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
