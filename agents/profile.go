package agents

import (
	"fmt"
	"strings"

	"github.com/bububa/nutrition-agents/schema"
)

// RenderProfile formats the user context as prompt lines, empty fields are skipped
func RenderProfile(uc schema.UserContext) string {
	var lines []string
	add := func(label string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, value))
		}
	}
	p := uc.Profile
	if uc.Goal != schema.GoalUnknown {
		add("Goal", strings.ReplaceAll(uc.Goal.String(), "_", " "))
	}
	add("Gender", string(p.Gender))
	if p.Age > 0 {
		add("Age", fmt.Sprint(p.Age))
	}
	if p.HeightCM > 0 {
		add("Height", fmt.Sprintf("%.0f cm", p.HeightCM))
	}
	if p.WeightKG > 0 {
		add("Weight", fmt.Sprintf("%.1f kg", p.WeightKG))
	}
	if p.TargetWeightKG > 0 {
		add("Target weight", fmt.Sprintf("%.1f kg", p.TargetWeightKG))
	}
	if p.ActivityLevel > 0 {
		add("Activity level", fmt.Sprintf("%d of 5", p.ActivityLevel))
	}
	add("Allergies", strings.Join(uc.Allergies, ", "))
	add("Health conditions", strings.Join(uc.Diseases, ", "))
	add("Liked foods", strings.Join(uc.LikedFoods, ", "))
	add("Disliked foods", strings.Join(uc.DislikedFoods, ", "))
	add("Notes", uc.MemoryNotes)
	return strings.Join(lines, "\n")
}
