package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bububa/instructor-go"
	"github.com/bububa/instructor-go/instructors"
	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereClient "github.com/cohere-ai/cohere-go/v2/client"
	cohereOption "github.com/cohere-ai/cohere-go/v2/option"

	"github.com/bububa/nutrition-agents/components"
)

// Cohere transport backed by cohere-go, structured output through instructor
type Cohere struct {
	client *cohereClient.Client
	opts   []instructor.Option
}

var _ Transport = (*Cohere)(nil)

// NewCohere returns a cohere transport
func NewCohere(client *cohereClient.Client) *Cohere {
	return &Cohere{
		client: client,
		opts:   structuredOptions(),
	}
}

// NewCohereFromKey returns a cohere transport for an api key and optional base url
func NewCohereFromKey(apiKey string, baseURL string) *Cohere {
	opts := make([]cohereOption.RequestOption, 0, 2)
	opts = append(opts, cohereOption.WithToken(apiKey))
	if baseURL != "" {
		opts = append(opts, cohereOption.WithBaseURL(baseURL))
	}
	return NewCohere(cohereClient.NewClient(opts...))
}

// Provider implements Transport
func (t *Cohere) Provider() Provider {
	return ProviderCohere
}

// Call implements Transport
func (t *Cohere) Call(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	switch cfg.Role {
	case RoleEmbedding:
		return t.embed(ctx, cfg, req)
	case RoleVision:
		return nil, fmt.Errorf("cohere %s: %w", cfg.Role, components.ErrUnsupportedRole)
	}
	model := cfg.Model
	temperature := float64(cfg.Temperature)
	maxTokens := cfg.MaxTokens
	chatReq := cohere.ChatRequest{
		Model:       &model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	if req.System != "" {
		system := req.System
		chatReq.Preamble = &system
	}
	for _, msg := range req.History {
		v := new(cohere.Message)
		msg.ToCohere(v)
		chatReq.ChatHistory = append(chatReq.ChatHistory, v)
	}
	if req.Schema != nil {
		chatReq.Message = req.UserPrompt()
		out := req.Schema.Prototype()
		res := new(cohere.NonStreamedChatResponse)
		if err := instructors.FromCohere(t.client, t.opts...).Chat(ctx, &chatReq, out, res); err != nil {
			return nil, structuredErr(req.Schema, err)
		}
		bs, err := json.Marshal(out)
		if err != nil {
			return nil, structuredErr(req.Schema, err)
		}
		return &Response{
			Text:  string(bs),
			Usage: components.UsageFromCohere(res.Meta),
		}, nil
	}
	chatReq.Message = req.Prompt
	res, err := t.client.Chat(ctx, &chatReq)
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:  res.Text,
		Usage: components.UsageFromCohere(res.Meta),
	}, nil
}

func (t *Cohere) embed(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	model := cfg.Model
	res, err := t.client.Embed(ctx, &cohere.EmbedRequest{
		Texts: req.Texts,
		Model: &model,
	})
	if err != nil {
		return nil, err
	}
	floats := res.GetEmbeddingsFloats()
	if floats == nil {
		return nil, fmt.Errorf("cohere: no float embeddings returned")
	}
	ret := &Response{
		Embeddings: make([][]float32, 0, len(floats.Embeddings)),
		Usage:      components.UsageFromCohere(floats.Meta),
	}
	for _, v := range floats.Embeddings {
		vec := make([]float32, len(v))
		for i, f := range v {
			vec[i] = float32(f)
		}
		ret.Embeddings = append(ret.Embeddings, vec)
	}
	return ret, nil
}
