// Package session runs the per-connection delivery loop shared by the
// websocket and SSE transports.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/hub"
	"github.com/xiaot623/gogo/relay/internal/metrics"
)

// State is the lifecycle stage of a session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transport delivers events to one client.
type Transport interface {
	// Send writes one event. It may block on a slow client.
	Send(ctx context.Context, evt domain.Event) error
	// Done is closed once the client has gone away.
	Done() <-chan struct{}
}

// Chat is the conversation surface a session needs.
type Chat interface {
	Join(participantID, displayName string) domain.Participant
	Leave(participantID string)
	Subscribe() *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

// Config holds session timings.
type Config struct {
	KeepAliveInterval   time.Duration
	ReconnectGrace      time.Duration
	ReconnectMinSpacing time.Duration
}

// Session is one long-lived delivery channel.
type Session struct {
	ID            string
	ParticipantID string

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Manager tracks sessions per participant and owns the reconnect grace
// window that precedes a presence leave.
type Manager struct {
	cfg       Config
	chat      Chat
	admission *Admission
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	conns  map[string]int
	grace  map[string]*time.Timer
	active map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg Config, chat Chat, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		chat:      chat,
		admission: NewAdmission(cfg.ReconnectMinSpacing),
		logger:    logger,
		metrics:   m,
		conns:     make(map[string]int),
		grace:     make(map[string]*time.Timer),
		active:    make(map[string]*Session),
	}
}

// Admit applies reconnect throttling for participantID.
func (m *Manager) Admit(participantID string) error {
	if m.admission.Allow(participantID) {
		return nil
	}
	m.metrics.ReconnectThrottled()
	return fmt.Errorf("%w: reconnecting too quickly", domain.ErrThrottled)
}

// Connections returns the number of open sessions for participantID.
func (m *Manager) Connections(participantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[participantID]
}

// Serve runs a session until the transport closes, ctx ends, or the
// subscriber falls behind. The first event delivered is the history
// snapshot, followed by every published event and periodic keep-alives.
func (m *Manager) Serve(ctx context.Context, participantID, displayName string, t Transport) error {
	s := &Session{ID: "ses_" + uuid.New().String(), ParticipantID: participantID, state: StateConnecting}
	log := m.logger.With(zap.String("session_id", s.ID), zap.String("participant_id", participantID))

	m.attach(s)
	m.chat.Join(participantID, displayName)
	sub := m.chat.Subscribe()
	s.setState(StateActive)
	m.metrics.StreamOpened()
	log.Info("session active")

	defer func() {
		m.chat.Unsubscribe(sub)
		s.setState(StateClosed)
		m.metrics.StreamClosed()
		m.detach(s)
		log.Info("session closed")
	}()

	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Done():
			return nil
		case evt, ok := <-sub.Send:
			if !ok {
				return fmt.Errorf("%w: subscriber dropped", domain.ErrTransport)
			}
			if err := t.Send(ctx, evt); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrTransport, err)
			}
		case <-ticker.C:
			if err := t.Send(ctx, domain.NewEvent(domain.KeepAlivePayload{})); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrTransport, err)
			}
		}
	}
}

func (m *Manager) attach(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.grace[s.ParticipantID]; ok {
		timer.Stop()
		delete(m.grace, s.ParticipantID)
	}
	m.conns[s.ParticipantID]++
	m.active[s.ID] = s
}

// detach starts the grace window once a participant's last session ends.
func (m *Manager) detach(s *Session) {
	pid := s.ParticipantID

	m.mu.Lock()
	delete(m.active, s.ID)
	m.conns[pid]--
	if m.conns[pid] > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.conns, pid)

	if m.cfg.ReconnectGrace <= 0 {
		m.mu.Unlock()
		m.chat.Leave(pid)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(m.cfg.ReconnectGrace, func() {
		m.mu.Lock()
		if m.grace[pid] != timer || m.conns[pid] > 0 {
			m.mu.Unlock()
			return
		}
		delete(m.grace, pid)
		m.mu.Unlock()
		m.chat.Leave(pid)
	})
	m.grace[pid] = timer
	m.mu.Unlock()
}

// ActiveSessions returns the number of sessions currently serving.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close stops pending grace timers and removes their participants.
func (m *Manager) Close() {
	m.mu.Lock()
	pending := make([]string, 0, len(m.grace))
	for pid, timer := range m.grace {
		if timer.Stop() {
			pending = append(pending, pid)
		}
		delete(m.grace, pid)
	}
	m.mu.Unlock()

	for _, pid := range pending {
		m.chat.Leave(pid)
	}
}
