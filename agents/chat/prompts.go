package chat

import (
	"github.com/bububa/nutrition-agents/components/systemprompt"
	"github.com/bububa/nutrition-agents/components/systemprompt/crispe"
	"github.com/bububa/nutrition-agents/schema"
)

var capacities = []string{
	"- You are a friendly nutrition and health assistant.",
}

var personalities = []string{
	"- Answer in the language of the user.",
	"- Be concise, warm and practical.",
	"- Never diagnose diseases; suggest seeing a professional for medical concerns.",
}

var statements = map[schema.Intent][]string{
	schema.IntentNutritionQuestion: {
		"- Answer the user's nutrition question with concrete numbers where possible.",
		"- Relate the answer to the user's goal and recent meals when relevant.",
	},
	schema.IntentHealthAssessment: {
		"- Assess the user's recent eating against their goal and health conditions.",
		"- Point out one thing going well and one thing to improve.",
	},
	schema.IntentFoodIdentification: {
		"- Help the user identify the food they describe and estimate its nutrition.",
		"- Ask for a photo or more detail when the description is ambiguous.",
	},
	schema.IntentExerciseGuidance: {
		"- Give exercise guidance that fits the user's goal and activity level.",
		"- Pair the advice with matching eating habits around training.",
	},
}

var experiments = []string{
	"- Offer at most two short follow up questions the user may ask next.",
}

// promptFor returns the system prompt factory of intent, a general prompt for an unknown intent
func promptFor(intent schema.Intent) func() systemprompt.Generator {
	statement, ok := statements[intent]
	if !ok {
		statement = []string{"- Help the user with their nutrition and health question."}
	}
	return func() systemprompt.Generator {
		return crispe.New(
			crispe.WithCapacities(capacities),
			crispe.WithStatements(statement),
			crispe.WithPersonalities(personalities),
			crispe.WithExperiments(experiments),
		)
	}
}

func classifierPrompt() systemprompt.Generator {
	return crispe.New(
		crispe.WithCapacities([]string{"- You classify messages sent to a nutrition assistant."}),
		crispe.WithStatements([]string{
			"- nutrition_question: questions about foods, nutrients or diets.",
			"- health_assessment: requests to evaluate the user's eating, weight or health.",
			"- food_identification: the user wants to know what a food is or what it contains.",
			"- exercise_guidance: questions about training, workouts or activity.",
			"- Extract the food or topic keywords mentioned in the message.",
		}),
		crispe.WithPersonalities([]string{"- Respond with the JSON object only."}),
	)
}
