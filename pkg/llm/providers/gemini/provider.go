// Package gemini implements the digest LLM provider on the Gemini Developer API.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode"

	"google.golang.org/genai"

	"tgview/pkg/tgview"
)

const (
	defaultAPIVersion = "v1beta"

	thinkingLevelLow    = "low"
	thinkingLevelMedium = "medium"
	thinkingLevelHigh   = "high"
)

// ProviderConfig configures one Gemini-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the Gemini endpoint.
	BaseURL string
	// APIVersion optionally overrides Gemini API version.
	//
	// Zero defaults to v1beta.
	APIVersion string
	// ThinkingBudget optionally sets thinking token budget.
	//
	// ThinkingBudget and ThinkingLevel are mutually exclusive.
	ThinkingBudget *int
	// ThinkingLevel optionally sets thinking level (low|medium|high).
	ThinkingLevel string
}

// Provider is a tgview LLM provider backed by Gemini streaming.
type Provider struct {
	models   geminiModelsClient
	thinking thinkingOptions
}

type geminiModelsClient interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

type thinkingOptions struct {
	budget *int32
	level  genai.ThinkingLevel
}

// New builds one Gemini API provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	apiKey, baseURL, apiVersion, thinking, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new gemini provider: %w", err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return &Provider{models: client.Models, thinking: thinking}, nil
}

// GenerateStream starts one Gemini streaming request.
func (p *Provider) GenerateStream(ctx context.Context, req tgview.LLMGenerateRequest) (tgview.LLMStream, error) {
	if p == nil {
		return nil, fmt.Errorf("gemini generate stream: nil provider")
	}
	if p.models == nil {
		return nil, fmt.Errorf("gemini generate stream: models client is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("gemini generate stream validate request: %w", err)
	}

	contents, config, err := mapGenerateRequest(req, p.thinking)
	if err != nil {
		return nil, fmt.Errorf("gemini generate stream map request: %w", err)
	}
	// The caller context is the only deadline for streams.
	streamTimeout := time.Duration(0)
	config.HTTPOptions = &genai.HTTPOptions{Timeout: &streamTimeout}

	stream := p.models.GenerateContentStream(ctx, strings.TrimSpace(req.Model), contents, config)
	if stream == nil {
		return nil, fmt.Errorf("gemini generate stream: stream is nil")
	}

	return newGeminiStream(stream), nil
}

func mapGenerateRequest(
	req tgview.LLMGenerateRequest,
	thinking thinkingOptions,
) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	systemParts := make([]string, 0, 1)
	contents := make([]*genai.Content, 0, len(req.Messages))
	for index, message := range req.Messages {
		switch message.Role {
		case tgview.LLMMessageRoleSystem:
			systemParts = append(systemParts, message.Content)
		case tgview.LLMMessageRoleUser:
			contents = append(contents, textContent(string(genai.RoleUser), message.Content))
		case tgview.LLMMessageRoleAssistant:
			contents = append(contents, textContent(string(genai.RoleModel), message.Content))
		default:
			return nil, nil, fmt.Errorf("messages[%d] role: unsupported role %q", index, message.Role)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("missing non-system messages")
	}

	config := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if req.MaxOutputTokens > 0 {
		if req.MaxOutputTokens > math.MaxInt32 {
			return nil, nil, fmt.Errorf("max_output_tokens exceeds int32 range")
		}
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if thinking.budget != nil || thinking.level != "" {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: thinking.level}
		if thinking.budget != nil {
			budget := *thinking.budget
			config.ThinkingConfig.ThinkingBudget = &budget
		}
	}

	return contents, config, nil
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{
		Role:  role,
		Parts: []*genai.Part{{Text: text}},
	}
}

func normalizeProviderConfig(cfg ProviderConfig) (string, string, string, thinkingOptions, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return "", "", "", thinkingOptions{}, fmt.Errorf("missing api_key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return "", "", "", thinkingOptions{}, fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return "", "", "", thinkingOptions{}, fmt.Errorf("parse base_url: must include scheme and host")
		}
	}

	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if !isValidAPIVersion(apiVersion) {
		return "", "", "", thinkingOptions{}, fmt.Errorf("invalid api_version %q", cfg.APIVersion)
	}

	budget, err := normalizeThinkingBudget(cfg.ThinkingBudget)
	if err != nil {
		return "", "", "", thinkingOptions{}, fmt.Errorf("thinking_budget: %w", err)
	}
	level, err := normalizeThinkingLevel(cfg.ThinkingLevel)
	if err != nil {
		return "", "", "", thinkingOptions{}, fmt.Errorf("thinking_level: %w", err)
	}
	if budget != nil && level != "" {
		return "", "", "", thinkingOptions{}, fmt.Errorf("thinking_budget and thinking_level are mutually exclusive")
	}

	return apiKey, baseURL, apiVersion, thinkingOptions{budget: budget, level: level}, nil
}

func normalizeThinkingBudget(raw *int) (*int32, error) {
	if raw == nil {
		return nil, nil
	}
	if *raw < 0 {
		return nil, fmt.Errorf("must be >= 0")
	}
	if *raw > math.MaxInt32 {
		return nil, fmt.Errorf("must fit int32")
	}
	normalized := int32(*raw)
	return &normalized, nil
}

func normalizeThinkingLevel(raw string) (genai.ThinkingLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case thinkingLevelLow:
		return genai.ThinkingLevelLow, nil
	case thinkingLevelMedium:
		return genai.ThinkingLevelMedium, nil
	case thinkingLevelHigh:
		return genai.ThinkingLevelHigh, nil
	default:
		return "", fmt.Errorf("unsupported value %q", raw)
	}
}

func isValidAPIVersion(raw string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '-', '.', '_':
			continue
		default:
			return false
		}
	}
	return true
}

var _ tgview.LLMProvider = (*Provider)(nil)
