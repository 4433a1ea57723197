package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bububa/instructor-go"
	"github.com/bububa/instructor-go/instructors"
	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/bububa/nutrition-agents/components"
)

// Anthropic transport backed by go-anthropic, structured output through instructor
type Anthropic struct {
	client *anthropic.Client
	opts   []instructor.Option
}

var _ Transport = (*Anthropic)(nil)

// NewAnthropic returns an anthropic transport
func NewAnthropic(client *anthropic.Client) *Anthropic {
	return &Anthropic{
		client: client,
		opts:   structuredOptions(),
	}
}

// NewAnthropicFromKey returns an anthropic transport for an api key and optional base url
func NewAnthropicFromKey(apiKey string, baseURL string) *Anthropic {
	opts := make([]anthropic.ClientOption, 0, 1)
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return NewAnthropic(anthropic.NewClient(apiKey, opts...))
}

// Provider implements Transport
func (t *Anthropic) Provider() Provider {
	return ProviderAnthropic
}

// Call implements Transport
func (t *Anthropic) Call(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	if cfg.Role == RoleEmbedding {
		return nil, fmt.Errorf("anthropic %s: %w", cfg.Role, components.ErrUnsupportedRole)
	}
	temperature := cfg.Temperature
	msgReq := anthropic.MessagesRequest{
		Model:       anthropic.Model(cfg.Model),
		System:      req.System,
		Temperature: &temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	for _, msg := range req.History {
		if msg.Role() == components.SystemRole {
			continue
		}
		v := new(anthropic.Message)
		msg.ToAnthropic(v)
		msgReq.Messages = append(msgReq.Messages, *v)
	}
	user := anthropic.Message{Role: anthropic.RoleUser}
	for _, img := range req.Images {
		user.Content = append(user.Content, anthropic.NewImageMessageContent(
			anthropic.NewMessageContentSource(anthropic.MessagesContentSourceTypeBase64, img.MIME, img.Base64()),
		))
	}
	user.Content = append(user.Content, anthropic.NewTextMessageContent(req.Prompt))
	msgReq.Messages = append(msgReq.Messages, user)

	if req.Schema != nil {
		out := req.Schema.Prototype()
		res := new(anthropic.MessagesResponse)
		if err := instructors.FromAnthropic(t.client, t.opts...).Chat(ctx, &msgReq, out, res); err != nil {
			return nil, structuredErr(req.Schema, err)
		}
		bs, err := json.Marshal(out)
		if err != nil {
			return nil, structuredErr(req.Schema, err)
		}
		return &Response{
			Model: string(res.Model),
			Text:  string(bs),
			Usage: components.UsageFromAnthropic(res.Usage),
		}, nil
	}
	res, err := t.client.CreateMessages(ctx, msgReq)
	if err != nil {
		return nil, err
	}
	return &Response{
		Model: string(res.Model),
		Text:  res.GetFirstContentText(),
		Usage: components.UsageFromAnthropic(res.Usage),
	}, nil
}
