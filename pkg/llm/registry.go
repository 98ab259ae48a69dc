// Package llm resolves configured text generation providers for the digest
// feature.
package llm

import (
	"fmt"
	"sort"
	"strings"

	"tgview/pkg/tgview"
)

// Registry resolves configured LLM providers by profile key.
//
// The provider map is copied on construction and never mutated, so Resolve is
// safe to call from concurrent HTTP handlers.
type Registry struct {
	providers map[string]tgview.LLMProvider
}

// NewRegistry constructs one immutable provider registry.
func NewRegistry(providers map[string]tgview.LLMProvider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("new llm registry: no providers")
	}

	cloned := make(map[string]tgview.LLMProvider, len(providers))
	for key, provider := range providers {
		profile := strings.TrimSpace(key)
		if profile == "" {
			return nil, fmt.Errorf("new llm registry: empty provider key")
		}
		if provider == nil {
			return nil, fmt.Errorf("new llm registry: provider %s is nil", profile)
		}
		if _, exists := cloned[profile]; exists {
			return nil, fmt.Errorf("new llm registry: duplicate provider key %s", profile)
		}
		cloned[profile] = provider
	}

	return &Registry{providers: cloned}, nil
}

// Resolve returns one configured provider by key.
func (r *Registry) Resolve(provider string) (tgview.LLMProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve llm provider: nil registry")
	}

	profile := strings.TrimSpace(provider)
	if profile == "" {
		return nil, fmt.Errorf("resolve llm provider: empty provider key")
	}

	resolved, exists := r.providers[profile]
	if !exists {
		return nil, fmt.Errorf("resolve llm provider: %s is not configured", profile)
	}

	return resolved, nil
}

// Keys lists the configured profile keys in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}

	keys := make([]string, 0, len(r.providers))
	for key := range r.providers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

var _ tgview.LLMProviderRegistry = (*Registry)(nil)
