package orchestrator

import (
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/domain"
)

const interjectionHint = "Nobody addressed you directly. Only chime in if you have something short and worthwhile to add."

// contextWindow returns the last n settled messages. Streaming and failed
// replies never reach a prompt.
func contextWindow(snapshot []domain.Message, n int) []domain.Message {
	settled := make([]domain.Message, 0, len(snapshot))
	for _, m := range snapshot {
		if m.Status == domain.MessageStatusStreaming || m.Status == domain.MessageStatusFailed {
			continue
		}
		settled = append(settled, m)
	}
	if len(settled) > n {
		settled = settled[len(settled)-n:]
	}
	return settled
}

func systemPrompt(bot domain.BotDefinition, mode domain.ReplyMode) string {
	var b strings.Builder
	if bot.Role != "" {
		fmt.Fprintf(&b, "You are %s, %s.", bot.Name, bot.Role)
	} else {
		fmt.Fprintf(&b, "You are %s.", bot.Name)
	}
	if p := strings.TrimSpace(bot.PersonalityPrompt.For(mode)); p != "" {
		b.WriteString("\n")
		b.WriteString(p)
	}
	if mode == domain.ReplyModeInterjection {
		b.WriteString("\n")
		b.WriteString(interjectionHint)
	}
	return b.String()
}

func (o *Orchestrator) buildRequest(sel selection, history []domain.Message) (*llm.ChatCompletionRequest, error) {
	bot := sel.bot
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: systemPrompt(bot, sel.mode)})
	for _, m := range history {
		switch {
		case m.Kind == domain.MessageKindAI && m.AuthorID == bot.Name:
			messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: m.Content})
		case m.Kind == domain.MessageKindSystem:
			messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: m.Content})
		default:
			messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: m.AuthorName + ": " + m.Content})
		}
	}

	model := bot.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}
	temperature := bot.Temperature.For(sel.mode)

	req := &llm.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
		User:        bot.Name,
	}

	if len(bot.Tools) > 0 {
		caps, err := o.caps.Resolve(bot.Tools)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
		}
		for _, c := range caps {
			req.Tools = append(req.Tools, llm.Tool{
				Type: "function",
				Function: llm.ToolFunction{
					Name:        c.Name,
					Description: c.Description,
					Parameters:  c.Parameters,
				},
			})
		}
	}
	return req, nil
}
