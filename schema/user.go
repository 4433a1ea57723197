package schema

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/clipperhouse/uax29/iterators/filter"
	"github.com/clipperhouse/uax29/words"
)

// GoalType is the user's health goal
type GoalType int

const (
	GoalUnknown GoalType = iota
	GoalLoseWeight
	GoalGainWeight
	GoalMaintain
	GoalBuildMuscle
	GoalLoseFat
)

var goalNames = map[GoalType]string{
	GoalLoseWeight:  "lose_weight",
	GoalGainWeight:  "gain_weight",
	GoalMaintain:    "maintain",
	GoalBuildMuscle: "build_muscle",
	GoalLoseFat:     "lose_fat",
}

var goalAliases = map[string]GoalType{
	"lose weight":  GoalLoseWeight,
	"weight loss":  GoalLoseWeight,
	"gain weight":  GoalGainWeight,
	"weight gain":  GoalGainWeight,
	"maintenance":  GoalMaintain,
	"muscle gain":  GoalBuildMuscle,
	"build muscle": GoalBuildMuscle,
	"gain muscle":  GoalBuildMuscle,
	"fat loss":     GoalLoseFat,
	"lose fat":     GoalLoseFat,
}

func (g GoalType) String() string {
	if name, ok := goalNames[g]; ok {
		return name
	}
	return "unknown"
}

// ParseGoal maps a goal name or alias to a GoalType
func ParseGoal(s string) (GoalType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for g, name := range goalNames {
		if name == key || fmt.Sprint(int(g)) == key {
			return g, nil
		}
	}
	if g, ok := goalAliases[strings.ReplaceAll(key, "_", " ")]; ok {
		return g, nil
	}
	return GoalUnknown, fmt.Errorf("unknown goal %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (g GoalType) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (g *GoalType) UnmarshalText(bs []byte) error {
	if len(bs) == 0 {
		*g = GoalUnknown
		return nil
	}
	v, err := ParseGoal(string(bs))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// Gender for BMR estimation
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Profile body metrics of the user
type Profile struct {
	Gender           Gender  `json:"gender,omitempty" yaml:"gender,omitempty" validate:"omitempty,oneof=male female"`
	Age              int     `json:"age,omitempty" yaml:"age,omitempty" validate:"gte=0,lte=130"`
	HeightCM         float64 `json:"height_cm,omitempty" yaml:"height_cm,omitempty" validate:"gte=0"`
	WeightKG         float64 `json:"weight_kg,omitempty" yaml:"weight_kg,omitempty" validate:"gte=0"`
	StartingWeightKG float64 `json:"starting_weight_kg,omitempty" yaml:"starting_weight_kg,omitempty" validate:"gte=0"`
	TargetWeightKG   float64 `json:"target_weight_kg,omitempty" yaml:"target_weight_kg,omitempty" validate:"gte=0"`
	// ActivityLevel 1 (sedentary) to 5 (very active)
	ActivityLevel int `json:"activity_level,omitempty" yaml:"activity_level,omitempty" validate:"gte=0,lte=5"`
}

// HasBodyMetrics reports whether energy targets can be estimated
func (p Profile) HasBodyMetrics() bool {
	return p.Age > 0 && p.HeightCM > 0 && p.WeightKG > 0
}

// MealRecord summary of a previously logged meal
type MealRecord struct {
	EatenAt       time.Time   `json:"eaten_at" yaml:"eaten_at"`
	FoodItems     []string    `json:"food_items" yaml:"food_items"`
	Calories      float64     `json:"calories" yaml:"calories"`
	Protein       float64     `json:"protein,omitempty" yaml:"protein,omitempty"`
	Carbohydrates float64     `json:"carbohydrates,omitempty" yaml:"carbohydrates,omitempty"`
	Fat           float64     `json:"fat,omitempty" yaml:"fat,omitempty"`
	HealthLevel   HealthLevel `json:"health_level,omitempty" yaml:"health_level,omitempty"`
}

// UserContext immutable snapshot of the user supplied at run start
type UserContext struct {
	UserID        string       `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Profile       Profile      `json:"profile" yaml:"profile"`
	Goal          GoalType     `json:"goal,omitempty" yaml:"goal,omitempty"`
	Allergies     []string     `json:"allergies,omitempty" yaml:"allergies,omitempty"`
	Diseases      []string     `json:"diseases,omitempty" yaml:"diseases,omitempty"`
	LikedFoods    []string     `json:"liked_foods,omitempty" yaml:"liked_foods,omitempty"`
	DislikedFoods []string     `json:"disliked_foods,omitempty" yaml:"disliked_foods,omitempty"`
	RecentMeals   []MealRecord `json:"recent_meals,omitempty" yaml:"recent_meals,omitempty"`
	// MemoryNotes free form long term memory rendered by the caller
	MemoryNotes string `json:"memory_notes,omitempty" yaml:"memory_notes,omitempty"`
}

// Clone returns a deep copy
func (u UserContext) Clone() UserContext {
	ret := u
	ret.Allergies = slices.Clone(u.Allergies)
	ret.Diseases = slices.Clone(u.Diseases)
	ret.LikedFoods = slices.Clone(u.LikedFoods)
	ret.DislikedFoods = slices.Clone(u.DislikedFoods)
	if u.RecentMeals != nil {
		ret.RecentMeals = make([]MealRecord, len(u.RecentMeals))
		for i, m := range u.RecentMeals {
			m.FoodItems = slices.Clone(m.FoodItems)
			ret.RecentMeals[i] = m
		}
	}
	return ret
}

// MatchAllergen returns the declared allergen matching food, if any.
// Both sides are split into lower case words with simple plurals folded ("peanuts" is "peanut");
// they match when every word of one side occurs in the other.
func (u UserContext) MatchAllergen(food string) (string, bool) {
	f := foodWords(food)
	if len(f) == 0 {
		return "", false
	}
	for _, a := range u.Allergies {
		al := foodWords(a)
		if len(al) == 0 {
			continue
		}
		if coveredBy(al, f) || coveredBy(f, al) {
			return a, true
		}
	}
	return "", false
}

// foodWords lower cased unicode words of text, each with its singular candidates
func foodWords(text string) [][]string {
	seg := words.NewSegmenter([]byte(strings.ToLower(text)))
	seg.Filter(filter.AlphaNumeric)
	var ret [][]string
	for seg.Next() {
		ret = append(ret, singulars(seg.Text()))
	}
	return ret
}

// singulars the word itself plus the forms left by stripping a plural suffix
func singulars(w string) []string {
	ret := []string{w}
	if strings.HasSuffix(w, "ies") && len(w) > 4 {
		ret = append(ret, strings.TrimSuffix(w, "ies")+"y")
	}
	if strings.HasSuffix(w, "es") && len(w) > 3 {
		ret = append(ret, strings.TrimSuffix(w, "es"))
	}
	if strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 2 {
		ret = append(ret, strings.TrimSuffix(w, "s"))
	}
	return ret
}

// coveredBy reports whether every word of sub shares a form with some word of text
func coveredBy(sub, text [][]string) bool {
	for _, a := range sub {
		found := false
		for _, b := range text {
			if sameWord(a, b) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sameWord(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

// HasDisease reports whether name is among the declared conditions
func (u UserContext) HasDisease(name string) bool {
	n := strings.ToLower(name)
	for _, d := range u.Diseases {
		if strings.Contains(strings.ToLower(d), n) {
			return true
		}
	}
	return false
}

// ConsumedOn sums the meals eaten on the calendar day of t
func (u UserContext) ConsumedOn(t time.Time) Macros {
	var ret Macros
	y, m, d := t.Date()
	for _, meal := range u.RecentMeals {
		my, mm, md := meal.EatenAt.In(t.Location()).Date()
		if my != y || mm != m || md != d {
			continue
		}
		ret.Calories += meal.Calories
		ret.Protein += meal.Protein
		ret.Carbohydrates += meal.Carbohydrates
		ret.Fat += meal.Fat
	}
	return ret
}

// RecentMealSummary renders the recent meals as prompt lines
func (u UserContext) RecentMealSummary(limit int) string {
	meals := u.RecentMeals
	if limit > 0 && len(meals) > limit {
		meals = meals[len(meals)-limit:]
	}
	if len(meals) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range meals {
		fmt.Fprintf(&b, "- %s: %s (%.0f kcal", m.EatenAt.Format("2006-01-02 15:04"), strings.Join(m.FoodItems, ", "), m.Calories)
		if m.HealthLevel.Valid() {
			fmt.Fprintf(&b, ", grade %s", m.HealthLevel.Grade())
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
