package chat

import (
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/bububa/nutrition-agents/schema"
)

// intent classification methods
const (
	MethodSessionType = "session_type"
	MethodModel       = "model"
	MethodHeuristic   = "heuristic"
)

// heuristic keywords, checked in order
var intentKeywords = []struct {
	intent   schema.Intent
	keywords []string
}{
	{schema.IntentExerciseGuidance, []string{"exercise", "workout", "training", "gym", "cardio", "running", "lift", "burn"}},
	{schema.IntentFoodIdentification, []string{"what is this", "what food", "identify", "recognize", "what's in", "ingredients of"}},
	{schema.IntentHealthAssessment, []string{"healthy", "assess", "evaluate", "my diet", "my weight", "bmi", "progress", "blood"}},
}

// ClassifyHeuristic picks an intent from keywords, nutrition_question by default
func ClassifyHeuristic(message string) schema.Intent {
	msg := strings.ToLower(message)
	for _, v := range intentKeywords {
		for _, kw := range v.keywords {
			if strings.Contains(msg, kw) {
				return v.intent
			}
		}
	}
	return schema.IntentNutritionQuestion
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "what": {}, "how": {}, "much": {}, "many": {},
	"are": {}, "is": {}, "can": {}, "should": {}, "this": {}, "that": {}, "does": {}, "have": {},
	"about": {}, "eat": {}, "ate": {}, "my": {}, "from": {}, "there": {}, "any": {}, "good": {},
}

// Keywords returns the distinct lower case words of message worth matching against meals
func Keywords(message string) []string {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	ret := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, ok := stopWords[w]; ok {
			continue
		}
		if !slices.Contains(ret, w) {
			ret = append(ret, w)
		}
	}
	return ret
}

// DefaultLookback window of meals considered relevant
const DefaultLookback = 7 * 24 * time.Hour

// MaxReferencedMeals cap of meals attached to a reply
const MaxReferencedMeals = 5

// RelevantMeals returns up to MaxReferencedMeals meals eaten within lookback before now,
// best keyword overlap first, then newest.
// A meal is relevant when one of its food items overlaps a keyword; a health assessment
// considers every meal of the window.
func RelevantMeals(meals []schema.MealRecord, keywords []string, intent schema.Intent, now time.Time, lookback time.Duration) []schema.MealRecord {
	type scored struct {
		meal  schema.MealRecord
		score int
	}
	since := now.Add(-lookback)
	candidates := make([]scored, 0, len(meals))
	for _, m := range meals {
		if m.EatenAt.Before(since) || m.EatenAt.After(now) {
			continue
		}
		score := overlap(m.FoodItems, keywords)
		if score == 0 && intent != schema.IntentHealthAssessment {
			continue
		}
		candidates = append(candidates, scored{meal: m, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].meal.EatenAt.After(candidates[j].meal.EatenAt)
	})
	if len(candidates) > MaxReferencedMeals {
		candidates = candidates[:MaxReferencedMeals]
	}
	ret := make([]schema.MealRecord, 0, len(candidates))
	for _, c := range candidates {
		ret = append(ret, c.meal)
	}
	return ret
}

func overlap(items []string, keywords []string) int {
	var n int
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for _, item := range items {
			if strings.Contains(strings.ToLower(item), kw) {
				n++
				break
			}
		}
	}
	return n
}
