package nutrition

import (
	"slices"
	"strings"
	"time"

	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/nutricalc"
	"github.com/bububa/nutrition-agents/schema"
)

// Dependencies buckets passages by category. Uncategorized passages count as nutrition facts.
func Dependencies(docs []schema.KnowledgeDocument) schema.AdviceDependencies {
	ret := schema.AdviceDependencies{
		NutritionFacts:   []string{},
		HealthGuidelines: []string{},
		FoodInteractions: []string{},
	}
	for _, doc := range docs {
		text := strings.TrimSpace(doc.Text)
		if text == "" {
			continue
		}
		switch doc.Metadata.Category {
		case schema.CategoryHealthGuideline:
			ret.HealthGuidelines = appendUnique(ret.HealthGuidelines, text)
		case schema.CategoryFoodInteraction:
			ret.FoodInteractions = appendUnique(ret.FoodInteractions, text)
		default:
			ret.NutritionFacts = appendUnique(ret.NutritionFacts, text)
		}
	}
	return ret
}

// FilterAllergens strips alternative foods matching a declared allergen and backfills the
// removed slots from safe, skipping allergens and duplicates. Slots that cannot be filled are dropped.
func FilterAllergens(advice schema.NutritionAdvice, uc schema.UserContext, safe []string) schema.NutritionAdvice {
	ret := advice
	ret.Recommendations = slices.Clone(advice.Recommendations)
	ret.DietaryTips = slices.Clone(advice.DietaryTips)
	ret.Warnings = slices.Clone(advice.Warnings)
	ret.AlternativeFoods = make([]string, 0, len(advice.AlternativeFoods))
	seen := make(map[string]struct{}, len(advice.AlternativeFoods))
	var removed int
	for _, food := range advice.AlternativeFoods {
		key := strings.ToLower(strings.TrimSpace(food))
		if _, ok := seen[key]; ok {
			continue
		}
		if _, ok := uc.MatchAllergen(food); ok {
			removed++
			continue
		}
		seen[key] = struct{}{}
		ret.AlternativeFoods = append(ret.AlternativeFoods, food)
	}
	for _, food := range safe {
		if removed == 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(food))
		if _, ok := seen[key]; ok || key == "" {
			continue
		}
		if _, ok := uc.MatchAllergen(food); ok {
			continue
		}
		seen[key] = struct{}{}
		ret.AlternativeFoods = append(ret.AlternativeFoods, food)
		removed--
	}
	return ret
}

// BuildResult assembles the final result. It is pure: equal inputs give equal results.
func BuildResult(uc schema.UserContext, food schema.FoodDescription, analysis schema.NutritionAnalysis, docs []schema.KnowledgeDocument, deps schema.AdviceDependencies, advice schema.NutritionAdvice, now time.Time) schema.NutritionResult {
	return schema.NutritionResult{
		Food:         food,
		Analysis:     analysis,
		HealthGrade:  analysis.HealthLevel.Grade(),
		Advice:       advice,
		Dependencies: deps,
		Sources:      knowledge.Sources(docs),
		GoalImpact:   nutricalc.GoalImpact(uc, analysis, now),
	}
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
