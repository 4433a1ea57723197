package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/bububa/nutrition-agents/components"
)

// Gemini transport backed by generative-ai-go
type Gemini struct {
	client *genai.Client
}

var _ Transport = (*Gemini)(nil)

// NewGemini returns a gemini transport
func NewGemini(client *genai.Client) *Gemini {
	return &Gemini{client: client}
}

// NewGeminiFromKey dials a gemini client for an api key
func NewGeminiFromKey(ctx context.Context, apiKey string) (*Gemini, error) {
	clt, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return NewGemini(clt), nil
}

// Close closes the underlying client
func (t *Gemini) Close() error {
	return t.client.Close()
}

// Provider implements Transport
func (t *Gemini) Provider() Provider {
	return ProviderGemini
}

// Call implements Transport
func (t *Gemini) Call(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	if cfg.Role == RoleEmbedding {
		return t.embed(ctx, cfg, req)
	}
	model := t.client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.Schema != nil {
		model.ResponseMIMEType = "application/json"
	}
	session := model.StartChat()
	for _, msg := range req.History {
		role := "user"
		switch msg.Role() {
		case components.SystemRole:
			continue
		case components.AssistantRole:
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content())},
		})
	}
	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData(img.Format(), img.Data))
	}
	parts = append(parts, genai.Text(req.UserPrompt()))
	res, err := session.SendMessage(ctx, parts...)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				b.WriteString(string(txt))
			}
		}
		break
	}
	if b.Len() == 0 {
		return nil, errors.New("gemini: empty candidate")
	}
	ret := &Response{Text: b.String()}
	if meta := res.UsageMetadata; meta != nil {
		ret.Usage = &components.LLMUsage{
			InputTokens:  int64(meta.PromptTokenCount),
			OutputTokens: int64(meta.CandidatesTokenCount),
		}
	}
	return ret, nil
}

func (t *Gemini) embed(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	model := t.client.EmbeddingModel(cfg.Model)
	batch := model.NewBatch()
	for _, text := range req.Texts {
		batch.AddContent(genai.Text(text))
	}
	res, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("gemini: %d embeddings for %d texts", len(res.Embeddings), len(req.Texts))
	}
	ret := &Response{Embeddings: make([][]float32, 0, len(res.Embeddings))}
	for _, v := range res.Embeddings {
		ret.Embeddings = append(ret.Embeddings, v.Values)
	}
	return ret, nil
}
