// Package systemprompt assembles sectioned system prompts with optional context providers.
package systemprompt

import (
	"fmt"
	"strings"
)

// Generator is system prompt generator framework
type Generator interface {
	Generate() string
	// ContextProvider retrieves a context provider by name.
	// If the context provider is not found returns not found error
	ContextProvider(title string) (ContextProvider, error)
	// AddContextProviders registers new context providers
	AddContextProviders(providers ...ContextProvider)
	// RemoveContextProviders Unregisters an existing context provider.
	RemoveContextProviders(titles ...string)
}

type BaseGenerator struct {
	contextProviders []ContextProvider
}

func (g *BaseGenerator) ContextProviders() []ContextProvider {
	return g.contextProviders
}

// ContextProvider retrieves a context provider by name.
// If the context provider is not found returns not found error
func (g *BaseGenerator) ContextProvider(title string) (ContextProvider, error) {
	for _, p := range g.contextProviders {
		if p.Title() == title {
			return p, nil
		}
	}
	return nil, fmt.Errorf("context provider '%s' not found", title)
}

// AddContextProviders registers new context providers, a title already registered is skipped
func (g *BaseGenerator) AddContextProviders(providers ...ContextProvider) {
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		if _, err := g.ContextProvider(provider.Title()); err != nil {
			g.contextProviders = append(g.contextProviders, provider)
		}
	}
}

// RemoveContextProviders Unregisters an existing context provider.
func (g *BaseGenerator) RemoveContextProviders(titles ...string) {
	mp := make(map[string]struct{}, len(titles))
	for _, v := range titles {
		mp[v] = struct{}{}
	}
	providers := make([]ContextProvider, 0, len(g.contextProviders))
	for _, p := range g.contextProviders {
		if _, found := mp[p.Title()]; found {
			continue
		}
		providers = append(providers, p)
	}
	g.contextProviders = providers
}

// Section a titled block of prompt lines
type Section struct {
	Title string
	Lines []string
}

// Compose renders non empty sections in order followed by the context providers with info
func Compose(sections []Section, providers []ContextProvider) string {
	var promptParts []string
	for _, s := range sections {
		if len(s.Lines) > 0 {
			promptParts = append(promptParts, fmt.Sprintf("# %s", s.Title))
			promptParts = append(promptParts, s.Lines...)
			promptParts = append(promptParts, "")
		}
	}
	var extra []string
	for _, provider := range providers {
		if info := strings.TrimSpace(provider.Info()); info != "" {
			extra = append(extra, fmt.Sprintf("## %s", provider.Title()), info, "")
		}
	}
	if len(extra) > 0 {
		promptParts = append(promptParts, "# EXTRA INFORMATION AND CONTEXT")
		promptParts = append(promptParts, extra...)
	}
	return strings.TrimSpace(strings.Join(promptParts, "\n"))
}
