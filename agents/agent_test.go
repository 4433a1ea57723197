package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/systemprompt"
	"github.com/bububa/nutrition-agents/schema"
)

type portion struct {
	Name  string  `json:"name" validate:"required"`
	Grams float64 `json:"grams" validate:"gt=0"`
}

type replayGateway struct {
	replies  []string
	err      error
	requests []*provider.Request
}

func (g *replayGateway) Invoke(_ context.Context, _ provider.ModelConfig, req *provider.Request) (*provider.Response, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	text := g.replies[0]
	g.replies = g.replies[1:]
	return &provider.Response{Text: text, Usage: &components.LLMUsage{InputTokens: 3, OutputTokens: 2}}, nil
}

func TestAgentValidOutput(t *testing.T) {
	gw := &replayGateway{replies: []string{"```json\n{\"name\":\"rice\",\"grams\":150}\n```"}}
	agent := NewAgent(schema.NewObject[portion]("portion"), WithGateway(gw))
	assert.Equal(t, "portion", agent.Name())

	var started, ended int
	agent.SetStartHook(func(context.Context, *Agent[portion], *Input) { started++ })
	agent.SetEndHook(func(_ context.Context, _ *Agent[portion], _ *Input, out *portion, _ *components.LLMUsage) {
		ended++
		assert.Equal(t, "rice", out.Name)
	})

	out, usage, err := agent.Run(context.Background(), &Input{
		Prompt:  "How much rice is on the plate?",
		Context: []systemprompt.ContextProvider{systemprompt.NewStatic("MEAL", "one bowl")},
	})
	require.NoError(t, err)
	assert.Equal(t, &portion{Name: "rice", Grams: 150}, out)
	assert.EqualValues(t, 3, usage.InputTokens)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, ended)
	require.Len(t, gw.requests, 1)
	assert.Contains(t, gw.requests[0].System, "## MEAL")
	assert.NotNil(t, gw.requests[0].Schema)
}

func TestAgentRepromptsOnce(t *testing.T) {
	gw := &replayGateway{replies: []string{`{"name":"rice","grams":0}`, `{"name":"rice","grams":120}`}}
	agent := NewAgent(schema.NewObject[portion]("portion"), WithGateway(gw))

	out, usage, err := agent.Run(context.Background(), &Input{Prompt: "Estimate the portion."})
	require.NoError(t, err)
	assert.InDelta(t, 120, out.Grams, 1e-9)
	assert.EqualValues(t, 6, usage.InputTokens)

	require.Len(t, gw.requests, 2)
	retry := gw.requests[1]
	assert.Contains(t, retry.Prompt, "Your previous response was rejected")
	require.Len(t, retry.History, 2)
	assert.Equal(t, "Estimate the portion.", retry.History[0].Content())
	assert.Equal(t, `{"name":"rice","grams":0}`, retry.History[1].Content())
	assert.Equal(t, gw.requests[0].System, retry.System)
	assert.NotNil(t, retry.Schema)
	assert.Contains(t, retry.UserPrompt(), "conforming to this JSON schema")
	assert.NotContains(t, retry.History[0].Content(), "JSON schema")
}

func TestAgentEscalates(t *testing.T) {
	gw := &replayGateway{replies: []string{"not json", `{"grams":5}`}}
	agent := NewAgent(schema.NewObject[portion]("portion"), WithGateway(gw))
	var hooked error
	agent.SetErrorHook(func(_ context.Context, _ *Agent[portion], _ *Input, err error) { hooked = err })

	_, _, err := agent.Run(context.Background(), &Input{Prompt: "Estimate the portion."})
	var verr *components.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Escalated)
	assert.Equal(t, "portion", verr.Schema)
	assert.Equal(t, err, hooked)
	assert.Len(t, gw.requests, 2)
}

func TestAgentProviderErrorNotReprompted(t *testing.T) {
	gw := &replayGateway{err: &components.ProviderError{Provider: "openai", Model: "gpt-4o", StatusCode: 503, Transient: true}}
	agent := NewAgent(schema.NewObject[portion]("portion"), WithGateway(gw))
	_, _, err := agent.Run(context.Background(), &Input{Prompt: "Estimate the portion."})
	var perr *components.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, gw.requests, 1)
}

func TestAgentWithoutGateway(t *testing.T) {
	_, _, err := NewAgent(schema.NewObject[portion]("portion")).Run(context.Background(), &Input{Prompt: "x"})
	require.Error(t, err)
	_, _, err = NewTextAgent().Run(context.Background(), &Input{Prompt: "x"})
	require.Error(t, err)
}

func TestCorrectionKeepsOriginal(t *testing.T) {
	req := &provider.Request{System: "sys", Prompt: "first"}
	retry := Correction(req, &components.ValidationError{Schema: "portion", Raw: "{}", Err: errors.New("grams missing")})
	assert.Equal(t, "first", req.Prompt)
	assert.Empty(t, req.History)
	assert.Equal(t, "sys", retry.System)
	assert.Len(t, retry.History, 2)
}

func TestTextAgentRemembersTurns(t *testing.T) {
	gw := &replayGateway{replies: []string{"Hello!", "About 130 kcal."}}
	mem := components.NewMemory(0)
	agent := NewTextAgent(WithGateway(gw), WithMemory(mem), WithName("chat"))

	reply, _, err := agent.Run(context.Background(), &Input{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply)
	firstTurn := mem.TurnID()

	_, _, err = agent.Run(context.Background(), &Input{Prompt: "calories in 100 g of rice?"})
	require.NoError(t, err)

	assert.Empty(t, gw.requests[0].History)
	assert.Len(t, gw.requests[1].History, 2)
	assert.Nil(t, gw.requests[1].Schema)
	assert.Equal(t, 4, mem.MessageCount())
	assert.NotEqual(t, firstTurn, mem.TurnID())
	assert.Equal(t, "", agent.SystemPrompt())
}

func TestRenderProfile(t *testing.T) {
	uc := schema.UserContext{
		Profile:   schema.Profile{Gender: schema.GenderFemale, Age: 41, HeightCM: 165, WeightKG: 62.5, ActivityLevel: 2},
		Goal:      schema.GoalLoseWeight,
		Allergies: []string{"shellfish", "milk"},
	}
	got := RenderProfile(uc)
	assert.Contains(t, got, "- Goal: lose weight")
	assert.Contains(t, got, "- Height: 165 cm")
	assert.Contains(t, got, "- Weight: 62.5 kg")
	assert.Contains(t, got, "- Activity level: 2 of 5")
	assert.Contains(t, got, "- Allergies: shellfish, milk")
	assert.NotContains(t, got, "Target weight")
	assert.Empty(t, RenderProfile(schema.UserContext{}))
}
