// Package digest condenses one page of group messages through a configured
// LLM provider.
package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/template"
	"time"

	"tgview/pkg/tgview"
)

const (
	defaultMaxOutputTokens = 800
	defaultTimeout         = time.Minute
	defaultSystemPrompt    = "You summarize conversations from the Telegram group {{.GroupName}}. " +
		"Reply with a short digest of the topics discussed and any decisions or open questions. " +
		"Use the language most of the messages are written in."
	maxLineRunes = 1000
)

// Summarizer builds digests with one provider profile and model.
type Summarizer struct {
	registry        tgview.LLMProviderRegistry
	provider        string
	model           string
	maxOutputTokens int
	temperature     float64
	timeout         time.Duration
	systemPrompt    *template.Template
	now             func() time.Time
}

type options struct {
	provider        string
	model           string
	maxOutputTokens int
	temperature     float64
	timeout         time.Duration
	systemPrompt    string
}

// Option configures a Summarizer.
type Option func(*options)

// WithProvider selects the registry profile key.
func WithProvider(key string) Option {
	return func(o *options) {
		o.provider = strings.TrimSpace(key)
	}
}

// WithModel selects the provider model.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = strings.TrimSpace(model)
	}
}

// WithMaxOutputTokens bounds the digest length. Non-positive values keep the default.
func WithMaxOutputTokens(tokens int) Option {
	return func(o *options) {
		if tokens > 0 {
			o.maxOutputTokens = tokens
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(o *options) {
		o.temperature = temperature
	}
}

// WithTimeout bounds one Summarize call. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithSystemPrompt overrides the system prompt template.
//
// The template sees GroupName, GroupKind, MessageCount and DateUTC.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) {
		if trimmed := strings.TrimSpace(prompt); trimmed != "" {
			o.systemPrompt = trimmed
		}
	}
}

// New builds a Summarizer resolving providers from registry.
func New(registry tgview.LLMProviderRegistry, opts ...Option) (*Summarizer, error) {
	if registry == nil {
		return nil, fmt.Errorf("new digest summarizer: nil registry")
	}

	cfg := options{
		maxOutputTokens: defaultMaxOutputTokens,
		timeout:         defaultTimeout,
		systemPrompt:    defaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.provider == "" {
		return nil, fmt.Errorf("new digest summarizer: missing provider")
	}
	if cfg.model == "" {
		return nil, fmt.Errorf("new digest summarizer: missing model")
	}
	if cfg.temperature < 0 {
		return nil, fmt.Errorf("new digest summarizer: temperature must be >= 0")
	}
	if _, err := registry.Resolve(cfg.provider); err != nil {
		return nil, fmt.Errorf("new digest summarizer: %w", err)
	}

	tmpl, err := template.New("system_prompt").Option("missingkey=error").Parse(cfg.systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("new digest summarizer parse system prompt: %w", err)
	}

	return &Summarizer{
		registry:        registry,
		provider:        cfg.provider,
		model:           cfg.model,
		maxOutputTokens: cfg.maxOutputTokens,
		temperature:     cfg.temperature,
		timeout:         cfg.timeout,
		systemPrompt:    tmpl,
		now:             time.Now,
	}, nil
}

// Summarize returns a digest of messages, which may be in any order.
func (s *Summarizer) Summarize(ctx context.Context, group tgview.Group, messages []tgview.Message) (digest string, err error) {
	req, err := s.buildRequest(group, messages)
	if err != nil {
		return "", err
	}

	provider, err := s.registry.Resolve(s.provider)
	if err != nil {
		return "", fmt.Errorf("summarize group %d: %w", group.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stream, err := provider.GenerateStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarize group %d generate stream: %w", group.ID, err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			wrapped := fmt.Errorf("summarize group %d close stream: %w", group.ID, closeErr)
			if err == nil {
				digest, err = "", wrapped
				return
			}
			err = errors.Join(err, wrapped)
		}
	}()

	var answer strings.Builder
	for {
		chunk, recvErr := stream.Recv(ctx)
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			return "", fmt.Errorf("summarize group %d receive chunk: %w", group.ID, recvErr)
		}
		answer.WriteString(chunk.Delta)
	}

	digest = strings.TrimSpace(answer.String())
	if digest == "" {
		return "", fmt.Errorf("summarize group %d: no output text received", group.ID)
	}

	return digest, nil
}

func (s *Summarizer) buildRequest(group tgview.Group, messages []tgview.Message) (tgview.LLMGenerateRequest, error) {
	transcript := renderTranscript(messages)
	if transcript == "" {
		return tgview.LLMGenerateRequest{}, fmt.Errorf(
			"summarize group %d: no text to summarize: %w", group.ID, tgview.ErrInvalidRequest,
		)
	}

	systemPrompt, err := s.renderSystemPrompt(group, len(messages))
	if err != nil {
		return tgview.LLMGenerateRequest{}, fmt.Errorf("summarize group %d: %w", group.ID, err)
	}

	req := tgview.LLMGenerateRequest{
		Model: s.model,
		Messages: []tgview.LLMMessage{
			{Role: tgview.LLMMessageRoleSystem, Content: systemPrompt},
			{Role: tgview.LLMMessageRoleUser, Content: transcript},
		},
		MaxOutputTokens: s.maxOutputTokens,
		Temperature:     s.temperature,
	}
	if err := req.Validate(); err != nil {
		return tgview.LLMGenerateRequest{}, fmt.Errorf("summarize group %d: %w", group.ID, err)
	}

	return req, nil
}

func (s *Summarizer) renderSystemPrompt(group tgview.Group, count int) (string, error) {
	data := map[string]any{
		"GroupName":    group.Name,
		"GroupKind":    string(group.Kind),
		"MessageCount": count,
		"DateUTC":      s.now().UTC().Format("2006-01-02"),
	}

	var rendered bytes.Buffer
	if err := s.systemPrompt.Execute(&rendered, data); err != nil {
		return "", fmt.Errorf("execute system prompt template: %w", err)
	}

	result := strings.TrimSpace(rendered.String())
	if result == "" {
		return "", fmt.Errorf("system prompt rendered empty")
	}

	return result, nil
}

// renderTranscript writes one "time sender: text" line per message, oldest first.
func renderTranscript(messages []tgview.Message) string {
	ordered := slices.Clone(messages)
	slices.SortStableFunc(ordered, func(a, b tgview.Message) int {
		return a.ID - b.ID
	})

	var transcript strings.Builder
	for _, message := range ordered {
		text := messageText(message)
		if text == "" {
			continue
		}
		if transcript.Len() > 0 {
			transcript.WriteByte('\n')
		}
		if !message.Date.IsZero() {
			transcript.WriteString(message.Date.UTC().Format("2006-01-02 15:04"))
			transcript.WriteByte(' ')
		}
		transcript.WriteString(speakerLabel(message))
		transcript.WriteString(": ")
		transcript.WriteString(text)
	}

	return transcript.String()
}

func messageText(message tgview.Message) string {
	text := truncateRunes(strings.TrimSpace(message.Text), maxLineRunes)
	if message.Media == nil {
		return text
	}

	placeholder := "[" + string(message.Media.Kind) + "]"
	if text == "" {
		return placeholder
	}

	return placeholder + " " + text
}

func speakerLabel(message tgview.Message) string {
	if name := strings.TrimSpace(message.SenderName); name != "" {
		return name
	}
	if message.SenderID != 0 {
		return fmt.Sprintf("user %d", message.SenderID)
	}

	return "unknown"
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit]) + "…"
}
