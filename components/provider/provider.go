// Package provider is the model provider gateway: a single entry point to vision,
// text-generation and embedding models with retry, circuit breaking and response caching.
package provider

import (
	"fmt"
	"strings"
)

// Provider model vendor
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderCohere    Provider = "cohere"
	ProviderGemini    Provider = "gemini"
)

// Providers lists the supported providers
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderCohere, ProviderGemini}

// Valid reports whether p is a known provider
func (p Provider) Valid() bool {
	for _, v := range Providers {
		if v == p {
			return true
		}
	}
	return false
}

// ParseProvider maps a provider name to a Provider, rejecting unknown names
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Provider) UnmarshalText(bs []byte) error {
	v, err := ParseProvider(string(bs))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Role what a model is used for
type Role string

const (
	RoleVision         Role = "vision"
	RoleTextGeneration Role = "text-generation"
	RoleEmbedding      Role = "embedding"
)

// Roles lists the supported roles
var Roles = []Role{RoleVision, RoleTextGeneration, RoleEmbedding}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// ParseRole maps a role name to a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "text" || r == "text_generation" {
		r = RoleTextGeneration
	}
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(bs []byte) error {
	v, err := ParseRole(string(bs))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// capabilities roles each provider can serve
var capabilities = map[Provider][]Role{
	ProviderOpenAI:    {RoleVision, RoleTextGeneration, RoleEmbedding},
	ProviderAnthropic: {RoleVision, RoleTextGeneration},
	ProviderCohere:    {RoleTextGeneration, RoleEmbedding},
	ProviderGemini:    {RoleVision, RoleTextGeneration, RoleEmbedding},
}

// Supports reports whether p can serve r
func (p Provider) Supports(r Role) bool {
	for _, v := range capabilities[p] {
		if v == r {
			return true
		}
	}
	return false
}
