package nutrition

import (
	"strings"

	"github.com/bububa/nutrition-agents/agents"
	"github.com/bububa/nutrition-agents/components/systemprompt"
	"github.com/bububa/nutrition-agents/components/systemprompt/cot"
	"github.com/bububa/nutrition-agents/schema"
)

func visionPrompt() systemprompt.Generator {
	return cot.New(
		cot.WithBackground([]string{
			"- You are a food recognition expert analysing meal photos for a nutrition assistant.",
		}),
		cot.WithSteps([]string{
			"- Identify every visible food item and drink.",
			"- Note the cooking method (grilled, fried, steamed, raw...).",
			"- Estimate the quantity of the whole meal from plate size and visual cues.",
			"- Set recognized to false when the photo does not show food.",
		}),
		cot.WithOutputInstructs([]string{
			"- Describe only what is visible, never guess hidden ingredients.",
			"- confidence is your certainty between 0 and 1.",
		}),
	)
}

func extractionPrompt() systemprompt.Generator {
	return cot.New(
		cot.WithBackground([]string{
			"- You are a registered dietitian estimating the nutrition of a described meal.",
		}),
		cot.WithSteps([]string{
			"- List the food items in the order they are described.",
			"- Estimate grams of protein, fat, carbohydrates, dietary fiber and sugar for the stated portion.",
			"- total_calories should match protein*4 + carbohydrates*4 + fat*9.",
			"- Estimate notable vitamins and minerals, sodium in mg.",
			"- Grade the meal with health_level: 5=A (excellent), 4=B, 3=C, 2=D, 1=E (poor).",
		}),
		cot.WithOutputInstructs([]string{
			"- All quantities are non negative numbers.",
		}),
	)
}

func advicePrompt() systemprompt.Generator {
	return cot.New(
		cot.WithBackground([]string{
			"- You are a nutrition coach giving personalized advice about one meal.",
		}),
		cot.WithSteps([]string{
			"- Review the meal analysis against the user's goal and health conditions.",
			"- Ground your advice on the nutrition knowledge provided.",
			"- Give 3 to 5 concrete recommendations.",
			"- Suggest alternative foods the user can eat, never one they are allergic to.",
			"- Add warnings only for real health concerns; leave the list empty otherwise.",
		}),
		cot.WithOutputInstructs([]string{
			"- Keep every entry to one sentence.",
		}),
	)
}

// profileProvider renders the user's profile, goal and restrictions
func profileProvider(uc schema.UserContext) systemprompt.ContextProvider {
	return systemprompt.NewFunc("USER PROFILE", func() string {
		return agents.RenderProfile(uc)
	})
}

func renderDependencies(d schema.AdviceDependencies) string {
	var b strings.Builder
	section := func(title string, list []string) {
		if len(list) == 0 {
			return
		}
		b.WriteString(title)
		b.WriteString(":\n")
		for _, v := range list {
			b.WriteString("- ")
			b.WriteString(v)
			b.WriteString("\n")
		}
	}
	section("Nutrition facts", d.NutritionFacts)
	section("Health guidelines", d.HealthGuidelines)
	section("Food interactions", d.FoodInteractions)
	return strings.TrimRight(b.String(), "\n")
}
