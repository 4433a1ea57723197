// Package guideline evaluates configurable dietary rules against an analysed meal
// and produces deterministic warnings.
package guideline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/bububa/nutrition-agents/schema"
)

// Rule raises Warning when the boolean expression When holds.
// Warning may reference variables as {name}, e.g. "{sugar} g of sugar".
type Rule struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	When    string `json:"when" yaml:"when" validate:"required"`
	Warning string `json:"warning" yaml:"warning" validate:"required"`
}

// DefaultRules thresholds applied when no rules are configured
func DefaultRules() []Rule {
	return []Rule{
		{Name: "high_calories", When: "calories > 1000", Warning: "This meal provides {calories} kcal, more than half of a typical daily energy need."},
		{Name: "high_fat", When: "fat > 35", Warning: "High fat content ({fat} g); balance the rest of the day with lean foods."},
		{Name: "high_sugar", When: "sugar > 25", Warning: "Sugar ({sugar} g) exceeds the recommended daily limit for free sugars."},
		{Name: "high_sodium", When: "sodium > 1500", Warning: "Sodium ({sodium} mg) is close to the daily limit of 2000 mg."},
		{Name: "diabetes_carbs", When: "diabetes && (sugar > 10 || carbohydrates > 60)", Warning: "With diabetes, the sugar ({sugar} g) and carbohydrate ({carbohydrates} g) load of this meal may raise blood glucose; consider a smaller portion."},
		{Name: "hypertension_sodium", When: "hypertension && sodium > 600", Warning: "With hypertension, the sodium in this meal ({sodium} mg) is high; prefer low-salt options."},
	}
}

type compiledRule struct {
	Rule
	expr *govaluate.EvaluableExpression
}

// Engine holds compiled rules, safe for concurrent use
type Engine struct {
	rules []compiledRule
}

// New compiles rules, an empty list uses DefaultRules
func New(rules ...Rule) (*Engine, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	ret := &Engine{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(r.When, Functions)
		if err != nil {
			return nil, fmt.Errorf("guideline %s: %w", r.Name, err)
		}
		ret.rules = append(ret.rules, compiledRule{Rule: r, expr: expr})
	}
	return ret, nil
}

// MustNew is New that panics on invalid rules
func MustNew(rules ...Rule) *Engine {
	ret, err := New(rules...)
	if err != nil {
		panic(err)
	}
	return ret
}

// Rules returns the configured rules
func (e *Engine) Rules() []Rule {
	ret := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		ret = append(ret, r.Rule)
	}
	return ret
}

// Variables exposes a meal and its eater to rule expressions
func Variables(a schema.NutritionAnalysis, uc schema.UserContext) map[string]any {
	m := a.Macronutrients
	return map[string]any{
		"calories":      a.TotalCalories,
		"protein":       m.Protein,
		"fat":           m.Fat,
		"carbohydrates": m.Carbohydrates,
		"sugar":         m.Sugar,
		"fiber":         m.DietaryFiber,
		"sodium":        a.Micronutrient("sodium"),
		"health_level":  float64(a.HealthLevel),
		"goal":          uc.Goal.String(),
		"diabetes":      uc.HasDisease("diabet"),
		"hypertension":  uc.HasDisease("hypertension") || uc.HasDisease("high blood pressure"),
	}
}

// Evaluate returns the warnings of every matching rule in rule order
func (e *Engine) Evaluate(a schema.NutritionAnalysis, uc schema.UserContext) ([]string, error) {
	vars := Variables(a, uc)
	ret := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		res, err := r.expr.Evaluate(vars)
		if err != nil {
			return nil, fmt.Errorf("guideline %s: %w", r.Name, err)
		}
		hit, ok := res.(bool)
		if !ok {
			return nil, fmt.Errorf("guideline %s: expression is not boolean", r.Name)
		}
		if hit {
			ret = append(ret, render(r.Warning, vars))
		}
	}
	return ret, nil
}

// Apply appends new warnings to existing ones, skipping duplicates
func Apply(warnings []string, extra []string) []string {
	seen := make(map[string]struct{}, len(warnings)+len(extra))
	ret := make([]string, 0, len(warnings)+len(extra))
	for _, w := range append(append([]string{}, warnings...), extra...) {
		key := strings.ToLower(strings.TrimSpace(w))
		if _, ok := seen[key]; ok || key == "" {
			continue
		}
		seen[key] = struct{}{}
		ret = append(ret, w)
	}
	return ret
}

func render(tpl string, vars map[string]any) string {
	if !strings.Contains(tpl, "{") {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		var s string
		switch t := v.(type) {
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			s = fmt.Sprint(t)
		}
		pairs = append(pairs, "{"+k+"}", s)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
