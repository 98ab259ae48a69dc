package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"

	"tgview/pkg/tgview"
)

// geminiStream adapts a pull iterator over streamed responses. Thought parts
// are dropped; only answer text reaches the caller.
type geminiStream struct {
	mu sync.Mutex

	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	closed   bool
	finished bool
}

func newGeminiStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStream {
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}
}

func (s *geminiStream) Recv(ctx context.Context) (tgview.LLMGenerateChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return tgview.LLMGenerateChunk{}, fmt.Errorf("gemini stream recv context: %w", err)
		}

		response, err := s.nextResponse(ctx)
		if err != nil {
			return tgview.LLMGenerateChunk{}, err
		}

		text, err := responseText(response)
		if err != nil {
			return tgview.LLMGenerateChunk{}, err
		}
		if text == "" {
			continue
		}

		return tgview.LLMGenerateChunk{Delta: text}, nil
	}
}

func (s *geminiStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.finished = true
	stop := s.stop
	s.stop = nil
	s.next = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	return nil
}

func (s *geminiStream) nextResponse(ctx context.Context) (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	next := s.next
	if s.closed || s.finished || next == nil {
		s.finished = true
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	response, recvErr, ok := next()
	if !ok {
		s.markFinished()
		return nil, io.EOF
	}
	if recvErr != nil {
		s.markFinished()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gemini stream context: %w", ctxErr)
		}
		if errors.Is(recvErr, context.Canceled) || errors.Is(recvErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("gemini stream canceled: %w", recvErr)
		}
		return nil, fmt.Errorf("gemini stream next: %w", recvErr)
	}

	return response, nil
}

func (s *geminiStream) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func responseText(response *genai.GenerateContentResponse) (string, error) {
	if response == nil {
		return "", fmt.Errorf("gemini stream parse response: nil response")
	}
	if len(response.Candidates) == 0 || response.Candidates[0] == nil {
		return "", nil
	}
	content := response.Candidates[0].Content
	if content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}

	return text.String(), nil
}

var _ tgview.LLMStream = (*geminiStream)(nil)
