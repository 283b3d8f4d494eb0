package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a mock implementation of LLMClient for local runs and tests.
type MockClient struct {
	chunkDelay time.Duration
}

// NewMockClient creates a new mock LLM client. chunkDelay paces the
// simulated stream; zero streams as fast as the callback accepts.
func NewMockClient(chunkDelay time.Duration) *MockClient {
	return &MockClient{chunkDelay: chunkDelay}
}

// CreateChatCompletionStream simulates a streaming response.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	responseContent := m.generateMockResponse(req)
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	chunks := m.splitIntoChunks(responseContent, 10)

	for i, chunk := range chunks {
		if m.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.chunkDelay):
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		finishReason := ""
		if i == len(chunks)-1 {
			finishReason = "stop"
		}

		streamChunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{
				{
					Index: 0,
					Delta: &ChatMessage{
						Role:    RoleAssistant,
						Content: chunk,
					},
					FinishReason: finishReason,
				},
			},
		}

		if err := callback(streamChunk); err != nil {
			return nil, err
		}
	}

	return &Usage{
		PromptTokens:     m.estimateTokens(req),
		CompletionTokens: len(responseContent) / 4,
		TotalTokens:      m.estimateTokens(req) + len(responseContent)/4,
	}, nil
}

// ListModels returns a list of mock models.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	now := time.Now().Unix()
	return []Model{
		{ID: "mock-gpt-4", Object: "model", Created: now, OwnedBy: "mock"},
		{ID: "mock-gpt-3.5-turbo", Object: "model", Created: now, OwnedBy: "mock"},
	}, nil
}

// generateMockResponse answers the last user turn in the voice of the
// system prompt's first line.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var persona, lastUserMessage string
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem && persona == "" {
			persona, _, _ = strings.Cut(msg.Content, "\n")
		}
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if len(req.Tools) > 0 && lastUserMessage != "" {
		return fmt.Sprintf("[MOCK] I would call tool '%s' to answer %q.", req.Tools[0].Function.Name, truncate(lastUserMessage, 60))
	}
	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the LLM client."
	}
	if persona != "" {
		return fmt.Sprintf("[MOCK] (%s) Received your message: %q.", truncate(persona, 40), truncate(lastUserMessage, 100))
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

// estimateTokens provides a rough token count estimate.
func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// splitIntoChunks splits a string into chunks of approximately the given
// size without cutting a multi-byte rune.
func (m *MockClient) splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// truncate truncates a string to the given number of runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
