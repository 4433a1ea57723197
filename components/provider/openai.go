package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bububa/instructor-go"
	"github.com/bububa/instructor-go/instructors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bububa/nutrition-agents/components"
)

// OpenAI transport backed by go-openai, structured output through instructor
type OpenAI struct {
	client *openai.Client
	opts   []instructor.Option
}

var _ Transport = (*OpenAI)(nil)

// NewOpenAI returns an openai transport
func NewOpenAI(client *openai.Client) *OpenAI {
	return &OpenAI{
		client: client,
		opts:   structuredOptions(),
	}
}

// NewOpenAIFromKey returns an openai transport for an api key and optional base url
func NewOpenAIFromKey(apiKey string, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAI(openai.NewClientWithConfig(cfg))
}

// Provider implements Transport
func (t *OpenAI) Provider() Provider {
	return ProviderOpenAI
}

// Call implements Transport
func (t *OpenAI) Call(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	if cfg.Role == RoleEmbedding {
		return t.embed(ctx, cfg, req)
	}
	chatReq := openai.ChatCompletionRequest{
		Model:               cfg.Model,
		Temperature:         cfg.Temperature,
		MaxCompletionTokens: cfg.MaxTokens,
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.History {
		v := new(openai.ChatCompletionMessage)
		msg.ToOpenAI(v)
		chatReq.Messages = append(chatReq.Messages, *v)
	}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		user.Content = req.Prompt
	} else {
		user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: req.Prompt,
		})
		for _, img := range req.Images {
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    img.DataURL(),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	chatReq.Messages = append(chatReq.Messages, user)

	if req.Schema != nil {
		out := req.Schema.Prototype()
		res := new(openai.ChatCompletionResponse)
		// the instructor keeps the encoder of its first output type, one per call
		if err := instructors.FromOpenAI(t.client, t.opts...).Chat(ctx, &chatReq, out, res); err != nil {
			return nil, structuredErr(req.Schema, err)
		}
		bs, err := json.Marshal(out)
		if err != nil {
			return nil, structuredErr(req.Schema, err)
		}
		return &Response{
			Model: res.Model,
			Text:  string(bs),
			Usage: components.UsageFromOpenAI(res.Usage),
		}, nil
	}
	res, err := t.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(res.Choices) == 0 {
		return nil, errors.New("openai: no choices returned")
	}
	return &Response{
		Model: res.Model,
		Text:  res.Choices[0].Message.Content,
		Usage: components.UsageFromOpenAI(res.Usage),
	}, nil
}

func (t *OpenAI) embed(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	res, err := t.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: req.Texts,
		Model: openai.EmbeddingModel(cfg.Model),
	})
	if err != nil {
		return nil, err
	}
	ret := &Response{
		Model:      string(res.Model),
		Embeddings: make([][]float32, len(req.Texts)),
		Usage:      &components.LLMUsage{InputTokens: int64(res.Usage.PromptTokens)},
	}
	for _, v := range res.Data {
		if v.Index >= 0 && v.Index < len(ret.Embeddings) {
			ret.Embeddings[v.Index] = v.Embedding
		}
	}
	return ret, nil
}

// structuredOptions instructor settings of structured calls. Decode failures are not retried
// by instructor; the agent re-prompts with the validation error instead.
func structuredOptions() []instructor.Option {
	return []instructor.Option{
		instructor.WithMode(instructor.ModeJSON),
		instructor.WithMaxRetries(0),
	}
}

// structuredErr keeps transport failures as they are and turns decode failures into validation errors
func structuredErr(s OutputSchema, err error) error {
	if isTransportFailure(err) {
		return err
	}
	return &components.ValidationError{
		Schema: s.Name(),
		Err:    err,
	}
}
