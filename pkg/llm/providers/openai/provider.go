// Package openai implements the digest LLM provider on the OpenAI Responses API.
package openai

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"tgview/pkg/tgview"
)

const (
	openAIEventOutputTextDelta = "response.output_text.delta"
	openAIEventCompleted       = "response.completed"
	openAIEventFailed          = "response.failed"
	openAIEventError           = "error"
)

// ProviderConfig configures one OpenAI-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the OpenAI endpoint.
	BaseURL string
	// Organization optionally sets the OpenAI organization header.
	Organization string
	// Project optionally sets the OpenAI project header.
	Project string
	// MaxRetries optionally overrides the SDK retry count.
	//
	// Nil keeps the SDK default behavior.
	MaxRetries *int
	// ReasoningEffort optionally sets the reasoning effort of reasoning models.
	ReasoningEffort string
}

// Provider is a tgview LLM provider backed by OpenAI Responses streaming.
type Provider struct {
	responses openAIResponsesClient
	effort    shared.ReasoningEffort
}

type openAIResponsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) openAIResponseStream
}

type openAIResponseServiceAdapter struct {
	service responses.ResponseService
}

func (a openAIResponseServiceAdapter) NewStreaming(
	ctx context.Context,
	body responses.ResponseNewParams,
	opts ...option.RequestOption,
) openAIResponseStream {
	return a.service.NewStreaming(ctx, body, opts...)
}

// New builds one OpenAI Responses API provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	normalized, effort, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new openai provider: %w", err)
	}

	options := make([]option.RequestOption, 0, 5)
	options = append(options, option.WithAPIKey(normalized.APIKey))
	if normalized.BaseURL != "" {
		options = append(options, option.WithBaseURL(normalized.BaseURL))
	}
	if normalized.Organization != "" {
		options = append(options, option.WithOrganization(normalized.Organization))
	}
	if normalized.Project != "" {
		options = append(options, option.WithProject(normalized.Project))
	}
	if normalized.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*normalized.MaxRetries))
	}

	client := openai.NewClient(options...)

	return &Provider{
		responses: openAIResponseServiceAdapter{service: client.Responses},
		effort:    effort,
	}, nil
}

// GenerateStream starts one OpenAI Responses streaming request.
func (p *Provider) GenerateStream(ctx context.Context, req tgview.LLMGenerateRequest) (tgview.LLMStream, error) {
	if p == nil {
		return nil, fmt.Errorf("openai generate stream: nil provider")
	}
	if p.responses == nil {
		return nil, fmt.Errorf("openai generate stream: responses client is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("openai generate stream validate request: %w", err)
	}

	params, err := mapGenerateRequest(req, p.effort)
	if err != nil {
		return nil, fmt.Errorf("openai generate stream map request: %w", err)
	}

	stream := p.responses.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("openai generate stream: openai stream is nil")
	}

	return newOpenAIStream(stream), nil
}

func mapGenerateRequest(req tgview.LLMGenerateRequest, effort shared.ReasoningEffort) (responses.ResponseNewParams, error) {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for index, message := range req.Messages {
		role, err := mapMessageRole(message.Role)
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("messages[%d] role: %w", index, err)
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(message.Content, role))
	}

	params := responses.ResponseNewParams{
		Model: strings.TrimSpace(req.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	return params, nil
}

func mapMessageRole(role tgview.LLMMessageRole) (responses.EasyInputMessageRole, error) {
	switch role {
	case tgview.LLMMessageRoleSystem:
		return responses.EasyInputMessageRoleSystem, nil
	case tgview.LLMMessageRoleUser:
		return responses.EasyInputMessageRoleUser, nil
	case tgview.LLMMessageRoleAssistant:
		return responses.EasyInputMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func normalizeReasoningEffort(raw string) (shared.ReasoningEffort, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case string(shared.ReasoningEffortMinimal):
		return shared.ReasoningEffortMinimal, nil
	case string(shared.ReasoningEffortLow):
		return shared.ReasoningEffortLow, nil
	case string(shared.ReasoningEffortMedium):
		return shared.ReasoningEffortMedium, nil
	case string(shared.ReasoningEffortHigh):
		return shared.ReasoningEffortHigh, nil
	default:
		return "", fmt.Errorf("unsupported reasoning_effort %q", raw)
	}
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, shared.ReasoningEffort, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	cfg.Project = strings.TrimSpace(cfg.Project)

	if cfg.APIKey == "" {
		return ProviderConfig{}, "", fmt.Errorf("missing api_key")
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return ProviderConfig{}, "", fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return ProviderConfig{}, "", fmt.Errorf("parse base_url: must include scheme and host")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return ProviderConfig{}, "", fmt.Errorf("max_retries must be >= 0")
	}
	effort, err := normalizeReasoningEffort(cfg.ReasoningEffort)
	if err != nil {
		return ProviderConfig{}, "", err
	}

	return cfg, effort, nil
}

var _ tgview.LLMProvider = (*Provider)(nil)
