package provider

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bububa/nutrition-agents/components"
)

// Image inline image payload
type Image struct {
	Data []byte
	MIME string
}

// NewImage wraps raw bytes, detecting the MIME type
func NewImage(data []byte) Image {
	return Image{
		Data: data,
		MIME: mimetype.Detect(data).String(),
	}
}

// DataURL returns the image as a base64 data URL
func (i Image) DataURL() string {
	return "data:" + i.MIME + ";base64," + i.Base64()
}

// Base64 returns base64 encoded image data
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Format returns the MIME subtype, e.g. jpeg
func (i Image) Format() string {
	if idx := strings.IndexByte(i.MIME, '/'); idx >= 0 {
		return i.MIME[idx+1:]
	}
	return i.MIME
}

// OutputSchema is implemented by schema objects a request expects the output to match
type OutputSchema interface {
	Name() string
	Describe() string
	Prototype() any
	Check(raw []byte) error
}

// Request payload of one gateway invocation
type Request struct {
	// System prompt
	System string
	// Prompt is the user turn
	Prompt string
	// History prior conversation turns
	History []components.Message
	// Images attached to the user turn (vision role)
	Images []Image
	// Texts inputs of the embedding role
	Texts []string
	// Schema expected structure of the output, nil for free text
	Schema OutputSchema
}

// Response output of one gateway invocation
type Response struct {
	Provider   Provider
	Model      string
	Text       string
	Embeddings [][]float32
	Usage      *components.LLMUsage
	Latency    time.Duration
	// Cached marks a response served from the cache
	Cached bool
}

func (r *Response) clone() *Response {
	ret := *r
	return &ret
}

type keyMessage struct {
	Role    string `json:"r"`
	Content string `json:"c"`
}

type keyImage struct {
	Hash string `json:"h"`
	MIME string `json:"m"`
}

type keyPayload struct {
	Role    Role         `json:"role"`
	Model   string       `json:"model"`
	System  string       `json:"system,omitempty"`
	Prompt  string       `json:"prompt,omitempty"`
	History []keyMessage `json:"history,omitempty"`
	Images  []keyImage   `json:"images,omitempty"`
	Texts   []string     `json:"texts,omitempty"`
	Schema  string       `json:"schema,omitempty"`
}

// CacheKey returns the deterministic hash of (role, model, normalized payload)
func (r *Request) CacheKey(cfg ModelConfig) string {
	p := keyPayload{
		Role:   cfg.Role,
		Model:  cfg.Key(),
		System: Normalize(r.System),
		Prompt: Normalize(r.Prompt),
	}
	for _, m := range r.History {
		p.History = append(p.History, keyMessage{Role: m.Role(), Content: Normalize(m.Content())})
	}
	for _, img := range r.Images {
		sum := sha256.Sum256(img.Data)
		p.Images = append(p.Images, keyImage{Hash: hex.EncodeToString(sum[:]), MIME: img.MIME})
	}
	for _, t := range r.Texts {
		p.Texts = append(p.Texts, Normalize(t))
	}
	if r.Schema != nil {
		p.Schema = r.Schema.Name()
	}
	bs, _ := json.Marshal(p)
	sum := sha256.Sum256(bs)
	return hex.EncodeToString(sum[:])
}

// Normalize trims and collapses whitespace
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// UserPrompt returns the prompt with the schema instructions appended for providers
// without native structured output
func (r *Request) UserPrompt() string {
	if r.Schema == nil {
		return r.Prompt
	}
	var b strings.Builder
	b.WriteString(r.Prompt)
	b.WriteString("\n\nRespond with a single JSON object only, no prose, conforming to this JSON schema:\n")
	b.WriteString(r.Schema.Describe())
	return b.String()
}
