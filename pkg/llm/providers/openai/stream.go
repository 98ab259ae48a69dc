package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/openai/openai-go/v3/responses"

	"tgview/pkg/tgview"
)

type openAIResponseStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
	Close() error
}

type openAIStream struct {
	mu       sync.Mutex
	stream   openAIResponseStream
	closed   bool
	finished bool
}

func newOpenAIStream(stream openAIResponseStream) *openAIStream {
	return &openAIStream{stream: stream}
}

// Recv returns the next non-empty output text delta.
func (s *openAIStream) Recv(ctx context.Context) (tgview.LLMGenerateChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return tgview.LLMGenerateChunk{}, fmt.Errorf("openai stream recv context: %w", err)
		}

		event, err := s.nextEvent(ctx)
		if err != nil {
			return tgview.LLMGenerateChunk{}, err
		}

		delta, done, err := mapOpenAIStreamEvent(event)
		if err != nil {
			return tgview.LLMGenerateChunk{}, err
		}
		if done {
			s.markFinished()
			return tgview.LLMGenerateChunk{}, io.EOF
		}
		if delta == "" {
			continue
		}

		return tgview.LLMGenerateChunk{Delta: delta}, nil
	}
}

// Close releases the underlying HTTP stream. It is idempotent.
func (s *openAIStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.finished = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("openai stream close: %w", err)
	}

	return nil
}

func (s *openAIStream) nextEvent(ctx context.Context) (responses.ResponseStreamEventUnion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.finished || s.stream == nil {
		s.finished = true
		return responses.ResponseStreamEventUnion{}, io.EOF
	}

	if s.stream.Next() {
		return s.stream.Current(), nil
	}

	s.finished = true
	err := s.stream.Err()
	switch {
	case err == nil:
		return responses.ResponseStreamEventUnion{}, io.EOF
	case ctx.Err() != nil:
		return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream context: %w", ctx.Err())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream canceled: %w", err)
	default:
		return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream next: %w", err)
	}
}

func (s *openAIStream) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

// mapOpenAIStreamEvent extracts output text from one event. Reasoning and
// lifecycle events other than completion and failure are skipped.
func mapOpenAIStreamEvent(event responses.ResponseStreamEventUnion) (string, bool, error) {
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return "", false, fmt.Errorf("openai stream parse event: missing type")
	}

	switch eventType {
	case openAIEventOutputTextDelta:
		if !event.JSON.Delta.Valid() {
			return "", false, openAIEventParseError(eventType, "missing delta")
		}
		return event.Delta, false, nil
	case openAIEventCompleted:
		return "", true, nil
	case openAIEventFailed:
		status := strings.TrimSpace(string(event.Response.Status))
		if status == "" {
			status = "unknown"
		}
		return "", false, fmt.Errorf("openai stream response failed: status=%s", status)
	case openAIEventError:
		message := strings.TrimSpace(event.Message)
		if message == "" {
			return "", false, openAIEventParseError(eventType, "empty message")
		}
		if code := strings.TrimSpace(event.Code); code != "" {
			return "", false, fmt.Errorf("openai stream error %s: %s", code, message)
		}
		return "", false, fmt.Errorf("openai stream error: %s", message)
	default:
		return "", false, nil
	}
}

func openAIEventParseError(eventType, reason string) error {
	return fmt.Errorf("openai stream parse event %s: %s", eventType, reason)
}

var _ tgview.LLMStream = (*openAIStream)(nil)
