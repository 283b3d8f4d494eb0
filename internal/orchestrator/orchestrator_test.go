package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/bots"
	"github.com/xiaot623/gogo/relay/internal/chatlog"
	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/tools"
)

// fakeChat streams replies into a real conversation log and records events.
type fakeChat struct {
	log *chatlog.Log

	mu     sync.Mutex
	events []domain.Event
}

func (c *fakeChat) record(p domain.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, domain.NewEvent(p))
}

func (c *fakeChat) Snapshot() []domain.Message { return c.log.Snapshot() }

func (c *fakeChat) StartReply(bot domain.BotDefinition, interjection bool) (domain.Message, error) {
	msg := c.log.Append(domain.Message{
		AuthorID:   bot.Name,
		AuthorName: bot.Name,
		Kind:       domain.MessageKindAI,
		Status:     domain.MessageStatusStreaming,
	})
	c.record(domain.AIStartPayload{Message: msg, Interjection: interjection})
	return msg, nil
}

func (c *fakeChat) AppendChunk(messageID, botName, delta string, seq int) error {
	if _, err := c.log.UpdateStreaming(messageID, delta); err != nil {
		return err
	}
	c.record(domain.AIChunkPayload{MessageID: messageID, BotName: botName, Delta: delta, Seq: seq})
	return nil
}

func (c *fakeChat) CompleteReply(messageID string) (domain.Message, error) {
	msg, err := c.log.Finalize(messageID, domain.MessageStatusSent)
	if err == nil {
		c.record(domain.AICompletePayload{Message: msg})
	}
	return msg, err
}

func (c *fakeChat) FailReply(messageID string, cause error) (domain.Message, error) {
	msg, err := c.log.Finalize(messageID, domain.MessageStatusFailed)
	if err == nil {
		c.record(domain.AIErrorPayload{Message: msg, Error: cause.Error()})
	}
	return msg, err
}

func (c *fakeChat) eventsOf(t domain.EventType) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeChat) human(content string) domain.Message {
	return c.log.Append(domain.Message{AuthorID: "p1", AuthorName: "ana", Content: content, Kind: domain.MessageKindUser})
}

func (c *fakeChat) aiMessages(author string) []domain.Message {
	var out []domain.Message
	for _, m := range c.log.Snapshot() {
		if m.Kind == domain.MessageKindAI && (author == "" || m.AuthorID == author) {
			out = append(out, m)
		}
	}
	return out
}

// scriptedLLM answers every request through reply.
type scriptedLLM struct {
	reply func(req *llm.ChatCompletionRequest) ([]string, error)

	mu       sync.Mutex
	requests []*llm.ChatCompletionRequest
}

func (s *scriptedLLM) CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) (*llm.Usage, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	chunks, err := s.reply(req)
	for _, c := range chunks {
		if cerr := callback(&llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{Content: c}}}}); cerr != nil {
			return nil, cerr
		}
	}
	return &llm.Usage{}, err
}

func (s *scriptedLLM) ListModels(context.Context) ([]llm.Model, error) { return nil, nil }

func (s *scriptedLLM) requestFor(bot string) *llm.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.User == bot {
			return r
		}
	}
	return nil
}

func botDef(name string, triggers ...string) domain.BotDefinition {
	return domain.BotDefinition{
		Name:              name,
		Role:              "a test bot",
		TriggerWords:      triggers,
		Shyness:           1,
		Temperature:       domain.ModeSettings[float64]{Normal: 0.7, Interjection: 1.1},
		PersonalityPrompt: domain.ModeSettings[string]{Normal: "Answer plainly.", Interjection: "Be brief."},
		Enabled:           true,
	}
}

// newPausedOrchestrator builds an orchestrator without a Run loop; tests
// drain its queue by hand.
func newPausedOrchestrator(t *testing.T, cfg Config, client llm.LLMClient, defs ...domain.BotDefinition) (*Orchestrator, *fakeChat, *bots.Registry) {
	t.Helper()
	registry := bots.NewRegistry(tools.DefaultRegistry)
	require.NoError(t, registry.Load(defs))

	chat := &fakeChat{log: chatlog.New(256)}
	o := New(cfg, chat, registry, nil, client, zap.NewNop(), nil)
	o.random = func() float64 { return 0.5 }
	t.Cleanup(o.Wait)
	return o, chat, registry
}

func newTestOrchestrator(t *testing.T, cfg Config, client llm.LLMClient, defs ...domain.BotDefinition) (*Orchestrator, *fakeChat, *bots.Registry) {
	t.Helper()
	o, chat, registry := newPausedOrchestrator(t, cfg, client, defs...)

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	t.Cleanup(func() {
		cancel()
		o.Wait()
	})
	return o, chat, registry
}

func nextWork(t *testing.T, o *Orchestrator) work {
	t.Helper()
	select {
	case w := <-o.queue:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no evaluation was queued")
		return work{}
	}
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return o.ActiveChains() == 0 }, 2*time.Second, 5*time.Millisecond)
	o.Wait()
}

func TestTriggeredBotsStreamIsolatedReplies(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	client := &scriptedLLM{reply: func(req *llm.ChatCompletionRequest) ([]string, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() { arrived.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			return nil, errors.New("replies were not generated concurrently")
		}
		return []string{req.User, " says", " hi"}, nil
	}}

	o, chat, _ := newTestOrchestrator(t, Config{}, client, botDef("alpha", "alpha"), botDef("beta", "beta"))

	o.OnMessage(chat.human("hey alpha and beta"))
	waitIdle(t, o)

	assert.Len(t, chat.eventsOf(domain.EventTypeAIStart), 2)
	assert.Len(t, chat.eventsOf(domain.EventTypeAIComplete), 2)

	for _, name := range []string{"alpha", "beta"} {
		replies := chat.aiMessages(name)
		require.Len(t, replies, 1, name)
		assert.Equal(t, name+" says hi", replies[0].Content)
		assert.Equal(t, domain.MessageStatusSent, replies[0].Status)

		req := client.requestFor(name)
		require.NotNil(t, req)
		require.Len(t, req.Messages, 2, "system prompt plus the human message only")
		assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
		assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You are "+name+", a test bot."))
		assert.Equal(t, "ana: hey alpha and beta", req.Messages[1].Content)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.7, *req.Temperature)
	}
}

func TestChunksAreOrderedPerMessage(t *testing.T) {
	client := &scriptedLLM{reply: func(*llm.ChatCompletionRequest) ([]string, error) {
		return []string{"a", "", "b", "c"}, nil
	}}
	o, chat, _ := newTestOrchestrator(t, Config{}, client, botDef("alpha", "alpha"))

	o.OnMessage(chat.human("alpha?"))
	waitIdle(t, o)

	chunks := chat.eventsOf(domain.EventTypeAIChunk)
	require.Len(t, chunks, 3)
	for i, e := range chunks {
		p := e.Payload.(domain.AIChunkPayload)
		assert.Equal(t, i+1, p.Seq)
	}
	assert.Equal(t, "abc", chat.aiMessages("alpha")[0].Content)
}

func TestBotChainStopsAtExchangeCap(t *testing.T) {
	client := &scriptedLLM{reply: func(req *llm.ChatCompletionRequest) ([]string, error) {
		if req.User == "ping" {
			return []string{"pong!"}, nil
		}
		return []string{"ping!"}, nil
	}}
	o, chat, _ := newTestOrchestrator(t, Config{}, client, botDef("ping", "ping"), botDef("pong", "pong"))

	o.OnMessage(chat.human("ping"))
	waitIdle(t, o)
	assert.Len(t, chat.aiMessages(""), 4)

	// A new human message starts its own chain.
	o.OnMessage(chat.human("ping again"))
	waitIdle(t, o)
	assert.Len(t, chat.aiMessages(""), 8)
}

func inFlight(o *Orchestrator) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, th := range o.threads {
		n += th.inFlight
	}
	return n
}

func TestFailedReplyDoesNotCountOrHaltSiblings(t *testing.T) {
	var o *Orchestrator
	ready := make(chan struct{})
	client := &scriptedLLM{reply: func(req *llm.ChatCompletionRequest) ([]string, error) {
		if req.User == "flaky" {
			return []string{"half"}, errors.New("provider went away")
		}
		<-ready
		// Let the failing sibling release its slot first.
		deadline := time.Now().Add(2 * time.Second)
		for inFlight(o) > 1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return []string{"go again"}, nil
	}}
	o, chat, _ := newTestOrchestrator(t, Config{MaxExchanges: 2}, client, botDef("flaky", "go"), botDef("echo", "go"))
	close(ready)

	o.OnMessage(chat.human("go"))
	waitIdle(t, o)

	echo := chat.aiMessages("echo")
	require.Len(t, echo, 1)
	assert.Equal(t, domain.MessageStatusSent, echo[0].Status)

	// The second flaky attempt only fits because failures free their slot.
	flaky := chat.aiMessages("flaky")
	require.Len(t, flaky, 2)
	for _, m := range flaky {
		assert.Equal(t, domain.MessageStatusFailed, m.Status)
		assert.Equal(t, "half", m.Content)
	}

	errs := chat.eventsOf(domain.EventTypeAIError)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Payload.(domain.AIErrorPayload).Error, "provider went away")
}

func TestFailedReplyKeepsQueuedSiblingFollowUp(t *testing.T) {
	failSlow := make(chan struct{})
	client := &scriptedLLM{reply: func(req *llm.ChatCompletionRequest) ([]string, error) {
		switch req.User {
		case "fast":
			return []string{"hey charlie"}, nil
		case "slow":
			<-failSlow
			return []string{"hm"}, errors.New("provider went away")
		}
		return []string{"hi"}, nil
	}}
	o, chat, _ := newPausedOrchestrator(t, Config{}, client,
		botDef("fast", "go"), botDef("slow", "go"), botDef("charlie", "charlie"))
	ctx := context.Background()

	o.OnMessage(chat.human("go"))
	o.evaluate(ctx, nextWork(t, o))

	// fast has completed; its reply waits for evaluation while slow is still generating.
	followUp := nextWork(t, o)
	require.Equal(t, "fast", followUp.msg.AuthorID)

	close(failSlow)
	require.Eventually(t, func() bool { return inFlight(o) == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, chat.eventsOf(domain.EventTypeAIError), 1)
	assert.Equal(t, 1, o.ActiveChains())

	o.evaluate(ctx, followUp)
	o.Wait()
	// Nothing answers charlie, which ends the chain.
	o.evaluate(ctx, nextWork(t, o))
	o.Wait()

	charlie := chat.aiMessages("charlie")
	require.Len(t, charlie, 1)
	assert.Equal(t, domain.MessageStatusSent, charlie[0].Status)
	assert.Equal(t, "hi", charlie[0].Content)
	assert.Equal(t, 0, o.ActiveChains())
}

func TestEmptyResponseFails(t *testing.T) {
	client := &scriptedLLM{reply: func(*llm.ChatCompletionRequest) ([]string, error) { return nil, nil }}
	o, chat, _ := newTestOrchestrator(t, Config{}, client, botDef("alpha", "alpha"))

	o.OnMessage(chat.human("alpha"))
	waitIdle(t, o)

	replies := chat.aiMessages("alpha")
	require.Len(t, replies, 1)
	assert.Equal(t, domain.MessageStatusFailed, replies[0].Status)
	assert.Contains(t, chat.eventsOf(domain.EventTypeAIError)[0].Payload.(domain.AIErrorPayload).Error, "empty response")
}

func TestDisabledBotIsNotTriggered(t *testing.T) {
	client := &scriptedLLM{reply: func(*llm.ChatCompletionRequest) ([]string, error) { return []string{"hi"}, nil }}
	o, chat, registry := newTestOrchestrator(t, Config{}, client, botDef("alpha", "alpha"))

	_, err := registry.Toggle("alpha", false)
	require.NoError(t, err)
	o.OnMessage(chat.human("alpha?"))
	waitIdle(t, o)
	assert.Empty(t, chat.aiMessages(""))

	_, err = registry.Toggle("alpha", true)
	require.NoError(t, err)
	o.OnMessage(chat.human("alpha!"))
	waitIdle(t, o)
	assert.Len(t, chat.aiMessages("alpha"), 1)
}

func TestInterjectionRespectsShynessAndCooldown(t *testing.T) {
	client := &scriptedLLM{reply: func(*llm.ChatCompletionRequest) ([]string, error) { return []string{"btw"}, nil }}
	chatty := botDef("chatty", "chatty")
	chatty.Shyness = 0.2
	shy := botDef("shy", "shy")
	shy.Shyness = 0.9

	cfg := Config{InterjectionCooldown: time.Hour, MaxInterjections: 1}
	o, chat, _ := newTestOrchestrator(t, cfg, client, shy, chatty)

	o.OnMessage(chat.human("nice weather today"))
	waitIdle(t, o)

	starts := chat.eventsOf(domain.EventTypeAIStart)
	require.Len(t, starts, 1)
	p := starts[0].Payload.(domain.AIStartPayload)
	assert.True(t, p.Interjection)
	assert.Equal(t, "chatty", p.Message.AuthorID)

	req := client.requestFor("chatty")
	require.NotNil(t, req)
	assert.Equal(t, 1.1, *req.Temperature)
	assert.Contains(t, req.Messages[0].Content, interjectionHint)

	// Still cooling down.
	o.OnMessage(chat.human("still nice"))
	waitIdle(t, o)
	assert.Len(t, chat.eventsOf(domain.EventTypeAIStart), 1)
}

func TestClearedReplyIsDiscarded(t *testing.T) {
	var chat *fakeChat
	client := &scriptedLLM{reply: func(*llm.ChatCompletionRequest) ([]string, error) {
		chat.log.Clear("ana")
		return []string{"too late"}, nil
	}}
	o, c, _ := newTestOrchestrator(t, Config{}, client, botDef("alpha", "alpha"))
	chat = c

	o.OnMessage(chat.human("alpha"))
	waitIdle(t, o)

	assert.Empty(t, chat.aiMessages(""))
	assert.Empty(t, chat.eventsOf(domain.EventTypeAIError))
	assert.Equal(t, 1, chat.log.Len())
}

func TestContextWindow(t *testing.T) {
	var snapshot []domain.Message
	for i := 0; i < 12; i++ {
		snapshot = append(snapshot, domain.Message{ID: string(rune('a' + i)), Status: domain.MessageStatusSent})
	}
	snapshot[11].Status = domain.MessageStatusStreaming
	snapshot[10].Status = domain.MessageStatusFailed

	got := contextWindow(snapshot, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"h", "i", "j"}, []string{got[0].ID, got[1].ID, got[2].ID})
}
