// Package orchestrator decides which bots answer a message and streams
// their replies back into the conversation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/bots"
	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/metrics"
	"github.com/xiaot623/gogo/relay/internal/tools"
)

// Chat is the conversation surface a reply is streamed through. Every call
// appends to or transitions the log and publishes the matching event.
type Chat interface {
	Snapshot() []domain.Message
	StartReply(bot domain.BotDefinition, interjection bool) (domain.Message, error)
	AppendChunk(messageID, botName, delta string, seq int) error
	CompleteReply(messageID string) (domain.Message, error)
	FailReply(messageID string, cause error) (domain.Message, error)
}

// Config holds orchestration limits.
type Config struct {
	MaxExchanges         int
	ContextSize          int
	InterjectionDelayMin time.Duration
	InterjectionDelayMax time.Duration
	InterjectionCooldown time.Duration
	MaxInterjections     int
	QueueSize            int
	DefaultModel         string
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxExchanges:         4,
		ContextSize:          10,
		InterjectionDelayMin: 1500 * time.Millisecond,
		InterjectionDelayMax: 3500 * time.Millisecond,
		InterjectionCooldown: 30 * time.Second,
		MaxInterjections:     1,
		QueueSize:            64,
	}
}

// work is one message waiting for evaluation, tagged with the human message
// that began its chain.
type work struct {
	msg    domain.Message
	origin string
}

// thread tracks reply slots for one chain. A slot is reserved when a bot is
// selected and counted as an exchange only when its reply completes. queued
// counts chain messages waiting for evaluation. A chain lives while either
// replies or evaluations are outstanding.
type thread struct {
	completed int
	inFlight  int
	queued    int
}

func (th *thread) idle() bool {
	return th.inFlight == 0 && th.queued == 0
}

type selection struct {
	bot  domain.BotDefinition
	mode domain.ReplyMode
}

// Orchestrator schedules bot replies.
type Orchestrator struct {
	cfg     Config
	chat    Chat
	bots    *bots.Registry
	caps    *tools.Registry
	llm     llm.LLMClient
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue chan work
	wg    sync.WaitGroup

	mu               sync.Mutex
	threads          map[string]*thread
	lastInterjection map[string]time.Time

	random func() float64
	now    func() time.Time
}

// New creates an Orchestrator. Call Run to start processing.
func New(cfg Config, chat Chat, registry *bots.Registry, caps *tools.Registry, client llm.LLMClient, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxExchanges <= 0 {
		cfg.MaxExchanges = def.MaxExchanges
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = def.ContextSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.InterjectionDelayMax < cfg.InterjectionDelayMin {
		cfg.InterjectionDelayMax = cfg.InterjectionDelayMin
	}
	if caps == nil {
		caps = tools.DefaultRegistry
	}
	return &Orchestrator{
		cfg:              cfg,
		chat:             chat,
		bots:             registry,
		caps:             caps,
		llm:              client,
		logger:           logger,
		metrics:          m,
		queue:            make(chan work, cfg.QueueSize),
		threads:          make(map[string]*thread),
		lastInterjection: make(map[string]time.Time),
		random:           rand.Float64,
		now:              time.Now,
	}
}

// OnMessage schedules evaluation of a newly appended human message. Each
// human message starts a fresh chain. System and bot messages are ignored
// here; bot replies re-enter the queue on their own chain.
func (o *Orchestrator) OnMessage(msg domain.Message) {
	if msg.Kind != domain.MessageKindUser {
		return
	}
	o.mu.Lock()
	o.threads[msg.ID] = &thread{queued: 1}
	o.mu.Unlock()

	if !o.enqueue(work{msg: msg, origin: msg.ID}) {
		o.mu.Lock()
		delete(o.threads, msg.ID)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) enqueue(w work) bool {
	select {
	case o.queue <- w:
		return true
	default:
		o.logger.Warn("bot work queue full, dropping evaluation",
			zap.String("message_id", w.msg.ID),
			zap.String("origin", w.origin))
		return false
	}
}

// Run evaluates queued messages until ctx is done. Generations started by
// Run use ctx, so cancelling it also stops in-flight replies.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-o.queue:
			o.evaluate(ctx, w)
		}
	}
}

// Wait blocks until every started generation has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// ActiveChains reports how many chains still hold reply slots.
func (o *Orchestrator) ActiveChains() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.threads)
}

func (o *Orchestrator) evaluate(ctx context.Context, w work) {
	selected := o.selectBots(w)
	if len(selected) == 0 {
		return
	}

	// Captured once so concurrent replies never see each other's partial output.
	history := contextWindow(o.chat.Snapshot(), o.cfg.ContextSize)

	for _, sel := range selected {
		o.wg.Add(1)
		go o.generate(ctx, w.origin, sel, history)
	}
}

// selectBots reserves chain slots for the bots that will answer w.msg.
// Triggered bots are served before interjections.
func (o *Orchestrator) selectBots(w work) []selection {
	triggered := o.bots.MatchTriggers(w.msg.Content)
	enabled := o.bots.Enabled()

	o.mu.Lock()
	defer o.mu.Unlock()

	th, ok := o.threads[w.origin]
	if !ok {
		return nil
	}
	th.queued--

	var selected []selection
	addressed := make(map[string]bool, len(triggered))
	for _, def := range triggered {
		addressed[def.Name] = true
		if def.Name == w.msg.AuthorID {
			continue
		}
		if !o.reserve(th) {
			break
		}
		selected = append(selected, selection{bot: def, mode: domain.ReplyModeNormal})
	}

	now := o.now()
	interjections := 0
	for _, def := range enabled {
		if interjections >= o.cfg.MaxInterjections {
			break
		}
		if addressed[def.Name] || def.Name == w.msg.AuthorID {
			continue
		}
		if last, ok := o.lastInterjection[def.Name]; ok && now.Sub(last) < o.cfg.InterjectionCooldown {
			continue
		}
		// Shyness is the chance of staying quiet.
		if o.random() < def.Shyness {
			continue
		}
		if !o.reserve(th) {
			break
		}
		o.lastInterjection[def.Name] = now
		interjections++
		selected = append(selected, selection{bot: def, mode: domain.ReplyModeInterjection})
	}

	if th.idle() {
		delete(o.threads, w.origin)
	}
	return selected
}

func (o *Orchestrator) reserve(th *thread) bool {
	if th.completed+th.inFlight >= o.cfg.MaxExchanges {
		return false
	}
	th.inFlight++
	return true
}

// release returns a slot. Completed replies count as an exchange and the
// chain continues only while it stays under the cap. A continuing chain
// holds an evaluation for the reply, which the caller must enqueue or
// forget.
func (o *Orchestrator) release(origin string, completed bool) (continueChain bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	th, ok := o.threads[origin]
	if !ok {
		return false
	}
	th.inFlight--
	if completed {
		th.completed++
	}
	if th.completed >= o.cfg.MaxExchanges {
		delete(o.threads, origin)
		return false
	}
	if completed {
		th.queued++
		return true
	}
	if th.idle() {
		delete(o.threads, origin)
	}
	return false
}

// forget drops the evaluation held for a continuation that could not be
// queued.
func (o *Orchestrator) forget(origin string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	th, ok := o.threads[origin]
	if !ok {
		return
	}
	th.queued--
	if th.idle() {
		delete(o.threads, origin)
	}
}

func (o *Orchestrator) generate(ctx context.Context, origin string, sel selection, history []domain.Message) {
	defer o.wg.Done()

	log := o.logger.With(zap.String("bot", sel.bot.Name), zap.String("origin", origin), zap.String("mode", string(sel.mode)))
	interjection := sel.mode == domain.ReplyModeInterjection

	if interjection {
		if err := o.pause(ctx); err != nil {
			o.release(origin, false)
			return
		}
	}

	msg, err := o.chat.StartReply(sel.bot, interjection)
	if err != nil {
		log.Warn("failed to start reply", zap.Error(err))
		o.release(origin, false)
		return
	}
	log = log.With(zap.String("message_id", msg.ID))

	req, err := o.buildRequest(sel, history)
	if err == nil {
		err = o.stream(ctx, msg.ID, sel.bot.Name, req)
	}

	if errors.Is(err, domain.ErrNotFound) {
		// History was cleared under the reply.
		log.Debug("reply discarded")
		o.release(origin, false)
		return
	}
	if err != nil {
		if _, ferr := o.chat.FailReply(msg.ID, err); ferr != nil && !errors.Is(ferr, domain.ErrNotFound) {
			log.Warn("failed to mark reply failed", zap.Error(ferr))
		}
		o.metrics.BotReply(sel.bot.Name, string(domain.MessageStatusFailed))
		log.Warn("bot reply failed", zap.Error(err))
		o.release(origin, false)
		return
	}

	final, err := o.chat.CompleteReply(msg.ID)
	if err != nil {
		log.Debug("reply vanished before completion", zap.Error(err))
		o.release(origin, false)
		return
	}
	o.metrics.BotReply(sel.bot.Name, string(domain.MessageStatusSent))
	log.Debug("bot reply completed", zap.Int("length", len(final.Content)))

	if o.release(origin, true) {
		if !o.enqueue(work{msg: final, origin: origin}) {
			o.forget(origin)
		}
	}
}

// stream relays model chunks in order and wraps provider failures as
// generation errors. An empty completion counts as a failure.
func (o *Orchestrator) stream(ctx context.Context, messageID, botName string, req *llm.ChatCompletionRequest) error {
	seq := 0
	_, err := o.llm.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
		delta := chunk.DeltaText()
		if delta == "" {
			return nil
		}
		seq++
		return o.chat.AppendChunk(messageID, botName, delta, seq)
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return err
	case err != nil:
		return fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	case seq == 0:
		return fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}
	return nil
}

// pause waits a random interval inside the interjection window.
func (o *Orchestrator) pause(ctx context.Context) error {
	d := o.cfg.InterjectionDelayMin
	if spread := o.cfg.InterjectionDelayMax - o.cfg.InterjectionDelayMin; spread > 0 {
		d += time.Duration(o.random() * float64(spread))
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
