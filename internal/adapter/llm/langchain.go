package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient streams completions through langchaingo's OpenAI-compatible
// model, which also covers Ollama and other /v1 servers.
type LangChainClient struct {
	llm          llms.Model
	defaultModel string
}

// NewLangChainClient builds a langchaingo backed client.
func NewLangChainClient(baseURL, apiKey, model string) (*LangChainClient, error) {
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain model: %w", err)
	}
	return &LangChainClient{llm: llm, defaultModel: model}, nil
}

// CreateChatCompletionStream forwards every streamed fragment as a chunk.
func (c *LangChainClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content = append(content, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	id := fmt.Sprintf("lc-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()
	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return callback(&StreamChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: []Choice{{Delta: &ChatMessage{Role: RoleAssistant, Content: string(chunk)}}},
			})
		}),
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}
	if req.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, llms.Tool{
				Type: t.Type,
				Function: &llms.FunctionDefinition{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.Parameters,
				},
			})
		}
		opts = append(opts, llms.WithTools(tools))
	}

	resp, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, nil
	}
	info := resp.Choices[0].GenerationInfo
	usage := &Usage{
		PromptTokens:     intFromInfo(info, "PromptTokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens"),
	}
	return usage, nil
}

// ListModels reports the configured model; langchaingo has no listing call.
func (c *LangChainClient) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{ID: c.defaultModel, Object: "model", OwnedBy: "langchain"}}, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
