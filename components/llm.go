package components

import (
	cohere "github.com/cohere-ai/cohere-go/v2"
	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
)

// LLMUsage token usage reported by a provider
type LLMUsage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

// Merge adds v into u
func (u *LLMUsage) Merge(v *LLMUsage) {
	if v == nil {
		return
	}
	u.InputTokens += v.InputTokens
	u.OutputTokens += v.OutputTokens
}

// Total returns input plus output tokens
func (u *LLMUsage) Total() int64 {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// UsageFromOpenAI converts openai usage
func UsageFromOpenAI(v openai.Usage) *LLMUsage {
	return &LLMUsage{
		InputTokens:  int64(v.PromptTokens),
		OutputTokens: int64(v.CompletionTokens),
	}
}

// UsageFromAnthropic converts anthropic usage
func UsageFromAnthropic(v anthropic.MessagesUsage) *LLMUsage {
	return &LLMUsage{
		InputTokens:  int64(v.InputTokens),
		OutputTokens: int64(v.OutputTokens),
	}
}

// UsageFromCohere converts cohere response meta
func UsageFromCohere(meta *cohere.ApiMeta) *LLMUsage {
	ret := new(LLMUsage)
	if meta == nil || meta.Tokens == nil {
		return ret
	}
	if v := meta.Tokens.InputTokens; v != nil {
		ret.InputTokens = int64(*v)
	}
	if v := meta.Tokens.OutputTokens; v != nil {
		ret.OutputTokens = int64(*v)
	}
	return ret
}
