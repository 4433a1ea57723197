package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/schema"
)

type chatReply struct {
	status  int
	content string
}

func newOpenAIServer(t *testing.T, replies ...chatReply) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)
		if len(requests) > len(replies) {
			t.Errorf("unexpected request %d", len(requests))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		reply := replies[len(requests)-1]
		w.Header().Set("Content-Type", "application/json")
		if reply.status != 0 && reply.status != http.StatusOK {
			w.WriteHeader(reply.status)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply.content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestOpenAIStructuredOutput(t *testing.T) {
	srv, requests := newOpenAIServer(t,
		chatReply{content: `{"intent":"exercise_guidance","confidence":0.9}`},
		chatReply{content: `{"recognized":true,"description":"oatmeal with berries","confidence":0.8}`},
	)
	tr := NewOpenAIFromKey("test-key", srv.URL+"/v1")
	cfg := textConfig(t)

	resp, err := tr.Call(context.Background(), cfg, &Request{
		System: "Classify the message.",
		Prompt: "how far should I run",
		Schema: schema.IntentSchema,
	})
	require.NoError(t, err)
	intent, err := schema.IntentSchema.Parse([]byte(resp.Text))
	require.NoError(t, err)
	assert.Equal(t, schema.IntentExerciseGuidance, intent.Intent)
	assert.EqualValues(t, 12, resp.Usage.InputTokens)
	assert.EqualValues(t, 5, resp.Usage.OutputTokens)

	// a second output type on the same transport gets its own schema
	resp, err = tr.Call(context.Background(), cfg, &Request{
		System: "Describe the food.",
		Prompt: "what is this",
		Schema: schema.FoodDescriptionSchema,
	})
	require.NoError(t, err)
	food, err := schema.FoodDescriptionSchema.Parse([]byte(resp.Text))
	require.NoError(t, err)
	assert.Equal(t, "oatmeal with berries", food.Description)

	require.Len(t, *requests, 2)
	// foreign holds a word of the other output schema
	for i, foreign := range []string{"recognized", "exercise_guidance"} {
		req := (*requests)[i]
		format, _ := req["response_format"].(map[string]any)
		assert.Equal(t, "json_object", format["type"])
		messages, _ := req["messages"].([]any)
		require.NotEmpty(t, messages)
		system, _ := messages[0].(map[string]any)
		assert.Equal(t, "system", system["role"])
		content, _ := system["content"].(string)
		assert.Contains(t, content, "#OUTPUT SCHEMA")
		assert.NotContains(t, content, foreign)
	}
}

func TestOpenAIStructuredDecodeFailure(t *testing.T) {
	srv, requests := newOpenAIServer(t, chatReply{content: "I cannot tell"})
	tr := NewOpenAIFromKey("test-key", srv.URL+"/v1")
	_, err := tr.Call(context.Background(), textConfig(t), &Request{
		System: "Classify the message.",
		Prompt: "hello",
		Schema: schema.IntentSchema,
	})
	var verr *components.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "IntentClassification", verr.Schema)
	assert.Len(t, *requests, 1)
}

func TestOpenAIStructuredTransportFailure(t *testing.T) {
	srv, _ := newOpenAIServer(t, chatReply{status: http.StatusServiceUnavailable})
	tr := NewOpenAIFromKey("test-key", srv.URL+"/v1")
	_, err := tr.Call(context.Background(), textConfig(t), &Request{
		System: "Classify the message.",
		Prompt: "hello",
		Schema: schema.IntentSchema,
	})
	require.Error(t, err)
	var verr *components.ValidationError
	assert.False(t, errors.As(err, &verr))
	code, ok := StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
