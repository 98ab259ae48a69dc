// Package config parses the "llm" section of the tgview configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode"
)

const (
	defaultRequestTimeout  = 60 * time.Second
	defaultMaxOutputTokens = 800

	// ProviderTypeOpenAI selects the OpenAI Responses API provider.
	ProviderTypeOpenAI = "openai"
	// ProviderTypeGemini selects the Gemini Developer API provider.
	ProviderTypeGemini = "gemini"

	defaultGeminiAPIVersion = "v1beta"
)

// Config is the digest LLM configuration.
//
// A zero Config (no provider selected) disables the digest feature.
type Config struct {
	// Provider is the profile key used for digests.
	Provider string
	// Model is the provider model name.
	Model string
	// SystemPrompt optionally replaces the built-in digest instructions.
	SystemPrompt string
	// MaxOutputTokens bounds the digest length.
	MaxOutputTokens int
	// Temperature optionally controls output randomness.
	Temperature float64
	// RequestTimeout bounds one digest request.
	RequestTimeout time.Duration
	// Providers contains provider profiles keyed by profile name.
	Providers map[string]ProviderProfile
}

// ProviderProfile describes one named provider profile.
type ProviderProfile struct {
	// Type identifies the provider implementation.
	Type string
	// APIKey is the provider credential.
	APIKey string
	// BaseURL optionally overrides the provider endpoint.
	BaseURL string
	// OpenAI carries OpenAI-specific options.
	OpenAI *OpenAIOptions
	// Gemini carries Gemini-specific options.
	Gemini *GeminiOptions
}

// OpenAIOptions carries OpenAI-specific profile options.
type OpenAIOptions struct {
	Organization    string
	Project         string
	MaxRetries      *int
	ReasoningEffort string
}

// GeminiOptions carries Gemini-specific profile options.
type GeminiOptions struct {
	// APIVersion selects the Gemini Developer API version.
	APIVersion string
	// ThinkingBudget optionally sets the thinking token budget.
	//
	// ThinkingBudget and ThinkingLevel are mutually exclusive.
	ThinkingBudget *int
	// ThinkingLevel optionally sets the thinking level (low|medium|high).
	ThinkingLevel string
}

// Enabled reports whether a digest provider is configured.
func (cfg Config) Enabled() bool {
	return strings.TrimSpace(cfg.Provider) != ""
}

type fileConfig struct {
	Provider        string                       `json:"provider"`
	Model           string                       `json:"model"`
	SystemPrompt    string                       `json:"system_prompt"`
	MaxOutputTokens *int                         `json:"max_output_tokens"`
	Temperature     float64                      `json:"temperature"`
	RequestTimeout  string                       `json:"request_timeout"`
	Providers       map[string]fileProviderEntry `json:"providers"`
}

type fileProviderEntry struct {
	Type    string           `json:"type"`
	APIKey  string           `json:"api_key"`
	BaseURL string           `json:"base_url"`
	OpenAI  *fileOpenAIEntry `json:"openai"`
	Gemini  *fileGeminiEntry `json:"gemini"`
}

type fileOpenAIEntry struct {
	Organization    string `json:"organization"`
	Project         string `json:"project"`
	MaxRetries      *int   `json:"max_retries"`
	ReasoningEffort string `json:"reasoning_effort"`
}

type fileGeminiEntry struct {
	APIVersion     string `json:"api_version"`
	ThinkingBudget *int   `json:"thinking_budget"`
	ThinkingLevel  string `json:"thinking_level"`
}

type rootRaw struct {
	Providers json.RawMessage `json:"providers"`
}

// Parse decodes and validates one "llm" configuration section.
//
// An absent section (empty input or JSON null) yields a disabled Config.
func Parse(data []byte) (Config, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Config{}, nil
	}

	if err := validateDuplicateProviderKeys(trimmed); err != nil {
		return Config{}, fmt.Errorf("parse llm config: %w", err)
	}

	var parsed fileConfig
	if err := decodeStrictJSON(trimmed, &parsed); err != nil {
		return Config{}, fmt.Errorf("parse llm config: %w", err)
	}

	cfg := Config{
		Provider:        strings.TrimSpace(parsed.Provider),
		Model:           strings.TrimSpace(parsed.Model),
		SystemPrompt:    strings.TrimSpace(parsed.SystemPrompt),
		MaxOutputTokens: defaultMaxOutputTokens,
		Temperature:     parsed.Temperature,
		RequestTimeout:  defaultRequestTimeout,
		Providers:       make(map[string]ProviderProfile, len(parsed.Providers)),
	}
	if parsed.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *parsed.MaxOutputTokens
	}
	if rawTimeout := strings.TrimSpace(parsed.RequestTimeout); rawTimeout != "" {
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse llm config request_timeout: %w", err)
		}
		cfg.RequestTimeout = timeout
	}

	for key, rawProvider := range parsed.Providers {
		profileKey := strings.TrimSpace(key)
		if profileKey == "" {
			return Config{}, fmt.Errorf("parse llm config providers: empty provider key")
		}
		cfg.Providers[profileKey] = parseProviderProfile(rawProvider)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration coherence.
func (cfg Config) Validate() error {
	if !cfg.Enabled() {
		if len(cfg.Providers) > 0 {
			return fmt.Errorf("validate llm config: providers configured without provider selection")
		}
		return nil
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("validate llm config: model is required")
	}
	if cfg.MaxOutputTokens < 0 {
		return fmt.Errorf("validate llm config: max_output_tokens must be >= 0")
	}
	if cfg.Temperature < 0 {
		return fmt.Errorf("validate llm config: temperature must be >= 0")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("validate llm config: request_timeout must be > 0")
	}
	if _, exists := cfg.Providers[strings.TrimSpace(cfg.Provider)]; !exists {
		return fmt.Errorf("validate llm config: provider %s is not configured", cfg.Provider)
	}

	for key, profile := range cfg.Providers {
		if err := validateProviderProfile(profile); err != nil {
			return fmt.Errorf("validate llm config providers[%s]: %w", key, err)
		}
	}

	return nil
}

func parseProviderProfile(raw fileProviderEntry) ProviderProfile {
	profile := ProviderProfile{
		Type:    strings.ToLower(strings.TrimSpace(raw.Type)),
		APIKey:  strings.TrimSpace(raw.APIKey),
		BaseURL: strings.TrimSpace(raw.BaseURL),
	}
	if raw.OpenAI != nil {
		profile.OpenAI = &OpenAIOptions{
			Organization:    strings.TrimSpace(raw.OpenAI.Organization),
			Project:         strings.TrimSpace(raw.OpenAI.Project),
			MaxRetries:      cloneIntPointer(raw.OpenAI.MaxRetries),
			ReasoningEffort: strings.ToLower(strings.TrimSpace(raw.OpenAI.ReasoningEffort)),
		}
	}
	if raw.Gemini != nil {
		profile.Gemini = &GeminiOptions{
			APIVersion:     strings.TrimSpace(raw.Gemini.APIVersion),
			ThinkingBudget: cloneIntPointer(raw.Gemini.ThinkingBudget),
			ThinkingLevel:  strings.ToLower(strings.TrimSpace(raw.Gemini.ThinkingLevel)),
		}
	}
	if profile.Type == ProviderTypeGemini {
		if profile.Gemini == nil {
			profile.Gemini = &GeminiOptions{}
		}
		if profile.Gemini.APIVersion == "" {
			profile.Gemini.APIVersion = defaultGeminiAPIVersion
		}
	}

	return profile
}

func validateProviderProfile(profile ProviderProfile) error {
	if strings.TrimSpace(profile.APIKey) == "" {
		return fmt.Errorf("missing api_key")
	}

	switch profile.Type {
	case ProviderTypeOpenAI:
		if profile.Gemini != nil {
			return fmt.Errorf("gemini options are only supported for gemini providers")
		}
		if options := profile.OpenAI; options != nil && options.MaxRetries != nil && *options.MaxRetries < 0 {
			return fmt.Errorf("invalid openai options: max_retries must be >= 0")
		}
	case ProviderTypeGemini:
		if profile.OpenAI != nil {
			return fmt.Errorf("openai options are only supported for openai providers")
		}
		if err := validateGeminiOptions(profile.Gemini); err != nil {
			return fmt.Errorf("invalid gemini options: %w", err)
		}
	case "":
		return fmt.Errorf("missing type")
	default:
		return fmt.Errorf("unsupported type %q", profile.Type)
	}

	if rawBaseURL := strings.TrimSpace(profile.BaseURL); rawBaseURL != "" {
		parsed, err := url.Parse(rawBaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid base_url: must include scheme and host")
		}
	}

	return nil
}

func validateGeminiOptions(options *GeminiOptions) error {
	if options == nil {
		return nil
	}
	if !isValidAPIVersion(options.APIVersion) {
		return fmt.Errorf("invalid api_version %q", options.APIVersion)
	}
	if options.ThinkingBudget != nil && *options.ThinkingBudget < 0 {
		return fmt.Errorf("thinking_budget must be >= 0")
	}
	switch options.ThinkingLevel {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("unsupported thinking_level %q", options.ThinkingLevel)
	}
	if options.ThinkingBudget != nil && options.ThinkingLevel != "" {
		return fmt.Errorf("thinking_budget and thinking_level are mutually exclusive")
	}

	return nil
}

// validateDuplicateProviderKeys rejects repeated profile keys, which
// encoding/json would otherwise silently merge.
func validateDuplicateProviderKeys(data []byte) error {
	var raw rootRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode root json: %w", err)
	}
	if len(raw.Providers) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	decoder := json.NewDecoder(bytes.NewReader(raw.Providers))
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("providers: expected object")
	}

	for decoder.More() {
		rawKey, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		key, ok := rawKey.(string)
		if !ok {
			return fmt.Errorf("providers: expected string key")
		}
		trimmedKey := strings.TrimSpace(key)
		if _, exists := seen[trimmedKey]; exists {
			return fmt.Errorf("providers: duplicate provider key %s", trimmedKey)
		}
		seen[trimmedKey] = struct{}{}

		var discard json.RawMessage
		if err := decoder.Decode(&discard); err != nil {
			return fmt.Errorf("providers[%s]: %w", trimmedKey, err)
		}
	}

	return nil
}

func decodeStrictJSON(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("unexpected trailing content")
		}
		return fmt.Errorf("decode trailing json: %w", err)
	}

	return nil
}

func isValidAPIVersion(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '-', '.', '_':
		default:
			return false
		}
	}

	return true
}

func cloneIntPointer(value *int) *int {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
