// Package service is the chat facade shared by every transport. It owns the
// append-then-publish ordering of the conversation.
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/bots"
	"github.com/xiaot623/gogo/relay/internal/chatlog"
	"github.com/xiaot623/gogo/relay/internal/command"
	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/hub"
	"github.com/xiaot623/gogo/relay/internal/policy"
	"github.com/xiaot623/gogo/relay/internal/presence"
)

// Replier is notified of every appended human message.
type Replier interface {
	OnMessage(msg domain.Message)
}

// Notifier receives human and system messages for out-of-band delivery.
// It must not block.
type Notifier interface {
	Enqueue(msg domain.Message) bool
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Log              *chatlog.Log
	Presence         *presence.Registry
	Hub              *hub.Hub
	Bots             *bots.Registry
	Policy           *policy.Engine
	Notifier         Notifier
	Models           llm.LLMClient
	Logger           *zap.Logger
	MaxMessageLength int
}

// SubmitRequest is an inbound chat message. ID is chosen by the client and
// only deduplicates resubmissions; the stored message gets its own id.
type SubmitRequest struct {
	ID            string `json:"id,omitempty"`
	ParticipantID string `json:"participantId"`
	AuthorName    string `json:"authorName"`
	Content       string `json:"content"`
}

// SubmitResult describes what a submission did. Message is set for an
// appended message, and for a duplicate while history still holds it.
// Command is set when a slash command ran.
type SubmitResult struct {
	Message   *domain.Message `json:"message,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Command   string          `json:"command,omitempty"`
	Reply     string          `json:"reply,omitempty"`
}

// Service implements the client operations and the bot reply lifecycle.
type Service struct {
	log      *chatlog.Log
	presence *presence.Registry
	hub      *hub.Hub
	bots     *bots.Registry
	policy   *policy.Engine
	notifier Notifier
	models   llm.LLMClient
	commands *command.Processor
	logger   *zap.Logger
	maxLen   int

	replier Replier

	// seq serializes every log mutation with its publish, and snapshots with
	// subscriptions, so subscribers see one total order without gaps.
	seq sync.Mutex
}

// New creates a Service.
func New(d Deps) *Service {
	s := &Service{
		log:      d.Log,
		presence: d.Presence,
		hub:      d.Hub,
		bots:     d.Bots,
		policy:   d.Policy,
		notifier: d.Notifier,
		models:   d.Models,
		logger:   d.Logger,
		maxLen:   d.MaxMessageLength,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.commands = command.NewProcessor(s)
	return s
}

// SetReplier attaches the bot orchestrator.
func (s *Service) SetReplier(r Replier) {
	s.replier = r
}

// Commands exposes the command processor for registering extra commands.
func (s *Service) Commands() *command.Processor {
	return s.commands
}

func (s *Service) publishLocked(p domain.Payload) {
	s.hub.Publish(domain.NewEvent(p))
}

func (s *Service) notify(msg domain.Message) {
	if s.notifier != nil {
		s.notifier.Enqueue(msg)
	}
}

// SubmitMessage validates, runs commands, and appends a human message.
func (s *Service) SubmitMessage(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.AuthorName == "" {
		if p, ok := s.presence.Get(req.ParticipantID); ok {
			req.AuthorName = p.DisplayName
		}
	}

	if s.policy != nil {
		violations, err := s.policy.Violations(ctx, policy.Input{
			Content:       req.Content,
			AuthorName:    req.AuthorName,
			ParticipantID: req.ParticipantID,
			MaxLength:     s.maxLen,
		})
		if err != nil {
			return SubmitResult{}, err
		}
		if len(violations) > 0 {
			return SubmitResult{}, &domain.ValidationError{Violations: violations}
		}
	}

	res, handled, err := s.commands.Process(ctx, req.ParticipantID, req.AuthorName, req.Content)
	if err != nil {
		return SubmitResult{}, err
	}
	if handled {
		s.touch(req.ParticipantID)
		return SubmitResult{Message: res.System, Command: res.Command, Reply: res.Reply}, nil
	}

	s.seq.Lock()
	if req.ID != "" {
		if existing, held, seen := s.log.LookupClient(req.ParticipantID, req.ID); seen {
			s.seq.Unlock()
			res := SubmitResult{Duplicate: true}
			if held {
				res.Message = &existing
			}
			return res, nil
		}
	}
	msg := s.log.Append(domain.Message{
		ClientID:   req.ID,
		AuthorID:   req.ParticipantID,
		AuthorName: req.AuthorName,
		Content:    req.Content,
		Kind:       domain.MessageKindUser,
		Status:     domain.MessageStatusSent,
	})
	s.publishLocked(domain.MessagePayload{Message: msg})
	s.seq.Unlock()

	s.touch(req.ParticipantID)
	if err := s.SetTyping(ctx, req.ParticipantID, false); err != nil {
		s.logger.Debug("typing reset skipped", zap.String("participant_id", req.ParticipantID), zap.Error(err))
	}
	s.notify(msg)
	if s.replier != nil {
		s.replier.OnMessage(msg)
	}
	return SubmitResult{Message: &msg}, nil
}

func (s *Service) touch(participantID string) {
	if _, err := s.presence.Touch(participantID); err != nil {
		s.logger.Debug("touch skipped", zap.String("participant_id", participantID), zap.Error(err))
	}
}

// SetTyping records a typing change and publishes it when it differs from
// the current state.
func (s *Service) SetTyping(ctx context.Context, participantID string, isTyping bool) error {
	p, changed, err := s.presence.SetTyping(participantID, isTyping)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.seq.Lock()
	s.publishLocked(domain.TypingPayload{ParticipantID: p.ID, DisplayName: p.DisplayName, IsTyping: isTyping})
	s.seq.Unlock()
	return nil
}

// Ready marks the participant active and returns a fresh snapshot.
func (s *Service) Ready(ctx context.Context, participantID string) (domain.HistoryPayload, error) {
	if _, err := s.presence.Touch(participantID); err != nil {
		return domain.HistoryPayload{}, err
	}
	return s.History(), nil
}

// History returns the current snapshot.
func (s *Service) History() domain.HistoryPayload {
	return domain.HistoryPayload{
		Messages:     s.log.Snapshot(),
		Participants: s.presence.List(),
		Bots:         s.bots.States(),
	}
}

// Participants lists online participants.
func (s *Service) Participants() []domain.Participant {
	return s.presence.List()
}

// ListBots returns every loaded bot definition with its current state.
func (s *Service) ListBots() []domain.BotDefinition {
	return s.bots.List()
}

// ListModels reports the models offered by the provider.
func (s *Service) ListModels(ctx context.Context) ([]llm.Model, error) {
	if s.models == nil {
		return nil, nil
	}
	return s.models.ListModels(ctx)
}

// ToggleBot enables or disables a bot for every connection.
func (s *Service) ToggleBot(ctx context.Context, name string, enabled bool) (domain.BotState, error) {
	s.seq.Lock()
	defer s.seq.Unlock()

	if _, err := s.bots.Toggle(name, enabled); err != nil {
		return domain.BotState{}, err
	}
	def, _ := s.bots.Get(name)
	state := domain.BotState{Name: def.Name, Enabled: enabled}
	s.publishLocked(domain.BotStatePayload{Bot: state})
	s.logger.Info("bot toggled", zap.String("bot", state.Name), zap.Bool("enabled", enabled))
	return state, nil
}

// ClearHistory empties the log and announces the resulting system message.
func (s *Service) ClearHistory(ctx context.Context, clearedBy string) (domain.Message, error) {
	s.seq.Lock()
	msg := s.log.Clear(clearedBy)
	s.publishLocked(domain.ClearedPayload{ClearedBy: clearedBy, Message: msg})
	s.seq.Unlock()

	s.logger.Info("history cleared", zap.String("cleared_by", clearedBy))
	s.notify(msg)
	return msg, nil
}

// Join registers a participant and announces presence.
func (s *Service) Join(participantID, displayName string) domain.Participant {
	_, existed := s.presence.Get(participantID)
	p := s.presence.Join(participantID, displayName)

	s.seq.Lock()
	payload := domain.PresencePayload{Participants: s.presence.List()}
	if !existed {
		payload.Joined = p.ID
	}
	s.publishLocked(payload)
	s.seq.Unlock()
	return p
}

// Leave removes a participant and announces presence.
func (s *Service) Leave(participantID string) {
	if _, ok := s.presence.Leave(participantID); !ok {
		return
	}
	s.seq.Lock()
	s.publishLocked(domain.PresencePayload{Participants: s.presence.List(), Left: participantID})
	s.seq.Unlock()
}

// Subscribe registers a subscriber whose first event is the history
// snapshot. No publish can fall between the snapshot and the subscription.
func (s *Service) Subscribe() *hub.Subscription {
	s.seq.Lock()
	defer s.seq.Unlock()
	return s.hub.Subscribe(domain.NewEvent(s.History()))
}

// Unsubscribe detaches a subscriber.
func (s *Service) Unsubscribe(sub *hub.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Snapshot returns the conversation window.
func (s *Service) Snapshot() []domain.Message {
	return s.log.Snapshot()
}

// StartReply appends an empty streaming bot message.
func (s *Service) StartReply(bot domain.BotDefinition, interjection bool) (domain.Message, error) {
	s.seq.Lock()
	defer s.seq.Unlock()

	msg := s.log.Append(domain.Message{
		AuthorID:   bot.Name,
		AuthorName: bot.Name,
		Kind:       domain.MessageKindAI,
		Status:     domain.MessageStatusStreaming,
	})
	s.publishLocked(domain.AIStartPayload{Message: msg, Interjection: interjection})
	return msg, nil
}

// AppendChunk extends a streaming reply. The log update and its publish run
// inside the seq critical section, which covers one index lookup, one
// string append and a non-blocking publish. A snapshot therefore never holds
// a delta that its subscriber also receives as a chunk event.
func (s *Service) AppendChunk(messageID, botName, delta string, seq int) error {
	s.seq.Lock()
	defer s.seq.Unlock()

	if _, err := s.log.UpdateStreaming(messageID, delta); err != nil {
		return err
	}
	s.publishLocked(domain.AIChunkPayload{MessageID: messageID, BotName: botName, Delta: delta, Seq: seq})
	return nil
}

// CompleteReply marks a reply sent. Completing a sent reply again is a
// no-op; completing a failed one is an InvalidState error.
func (s *Service) CompleteReply(messageID string) (domain.Message, error) {
	s.seq.Lock()
	defer s.seq.Unlock()

	if prev, ok := s.log.Get(messageID); ok && prev.Status.Terminal() {
		if prev.Status == domain.MessageStatusSent {
			return prev, nil
		}
		return prev, fmt.Errorf("%w: message %s already %s", domain.ErrInvalidState, messageID, prev.Status)
	}
	msg, err := s.log.Finalize(messageID, domain.MessageStatusSent)
	if err != nil {
		return domain.Message{}, err
	}
	s.publishLocked(domain.AICompletePayload{Message: msg})
	return msg, nil
}

// FailReply marks a reply failed and records the cause. A reply that
// already reached a terminal status is left untouched.
func (s *Service) FailReply(messageID string, cause error) (domain.Message, error) {
	s.seq.Lock()
	defer s.seq.Unlock()

	if prev, ok := s.log.Get(messageID); ok && prev.Status.Terminal() {
		return prev, nil
	}
	msg, err := s.log.Finalize(messageID, domain.MessageStatusFailed)
	if err != nil {
		return domain.Message{}, err
	}
	reason := "generation failed"
	if cause != nil {
		reason = cause.Error()
	}
	s.publishLocked(domain.AIErrorPayload{Message: msg, Error: reason})
	return msg, nil
}
