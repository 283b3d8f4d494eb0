package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/hub"
)

type fakeChat struct {
	hub *hub.Hub

	mu     sync.Mutex
	joined []string
	left   []string
}

func newFakeChat() *fakeChat {
	return &fakeChat{hub: hub.NewHub(8, zap.NewNop(), nil)}
}

func (c *fakeChat) Join(id, name string) domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, id)
	return domain.Participant{ID: id, DisplayName: name}
}

func (c *fakeChat) Leave(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, id)
}

func (c *fakeChat) leaves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.left...)
}

func (c *fakeChat) Subscribe() *hub.Subscription {
	return c.hub.Subscribe(domain.NewEvent(domain.HistoryPayload{}))
}

func (c *fakeChat) Unsubscribe(sub *hub.Subscription) { c.hub.Unsubscribe(sub) }

type fakeTransport struct {
	events  chan domain.Event
	done    chan struct{}
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan domain.Event, 32), done: make(chan struct{})}
}

func (f *fakeTransport) Send(_ context.Context, evt domain.Event) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.events <- evt
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case evt := <-f.events:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.Event{}
}

func serve(m *Manager, pid string, tr *fakeTransport) chan error {
	errc := make(chan error, 1)
	go func() { errc <- m.Serve(context.Background(), pid, pid, tr) }()
	return errc
}

func TestServeDeliversHistoryEventsAndKeepAlive(t *testing.T) {
	chat := newFakeChat()
	m := NewManager(Config{KeepAliveInterval: 20 * time.Millisecond}, chat, zap.NewNop(), nil)
	tr := newFakeTransport()
	errc := serve(m, "p1", tr)

	assert.Equal(t, domain.EventTypeHistory, tr.next(t).Type)
	require.Eventually(t, func() bool { return chat.hub.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, m.Connections("p1"))

	chat.hub.Publish(domain.NewEvent(domain.TypingPayload{ParticipantID: "p2", IsTyping: true}))
	seen := map[domain.EventType]bool{}
	for i := 0; i < 5 && !(seen[domain.EventTypeTyping] && seen[domain.EventTypeKeepAlive]); i++ {
		seen[tr.next(t).Type] = true
	}
	assert.True(t, seen[domain.EventTypeTyping])
	assert.True(t, seen[domain.EventTypeKeepAlive])

	close(tr.done)
	require.NoError(t, <-errc)
	assert.Equal(t, 0, chat.hub.SubscriberCount())
	assert.Equal(t, 0, m.ActiveSessions())
	assert.Equal(t, []string{"p1"}, chat.leaves())
}

func TestReconnectWithinGraceKeepsPresence(t *testing.T) {
	chat := newFakeChat()
	m := NewManager(Config{ReconnectGrace: 50 * time.Millisecond}, chat, zap.NewNop(), nil)

	first := newFakeTransport()
	errc := serve(m, "p1", first)
	first.next(t)
	close(first.done)
	require.NoError(t, <-errc)

	second := newFakeTransport()
	errc = serve(m, "p1", second)
	second.next(t)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, chat.leaves())

	close(second.done)
	require.NoError(t, <-errc)
	require.Eventually(t, func() bool { return len(chat.leaves()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestServeSendFailureIsTransportError(t *testing.T) {
	chat := newFakeChat()
	m := NewManager(Config{}, chat, zap.NewNop(), nil)
	tr := newFakeTransport()
	tr.sendErr = errors.New("broken pipe")

	err := m.Serve(context.Background(), "p1", "ana", tr)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, 0, chat.hub.SubscriberCount())
}

type gatedTransport struct {
	*fakeTransport
	sending chan struct{}
	gate    chan struct{}
}

func (g *gatedTransport) Send(ctx context.Context, evt domain.Event) error {
	select {
	case g.sending <- struct{}{}:
	default:
	}
	<-g.gate
	return g.fakeTransport.Send(ctx, evt)
}

func TestServeEndsWhenSubscriberDropped(t *testing.T) {
	chat := newFakeChat()
	m := NewManager(Config{}, chat, zap.NewNop(), nil)
	tr := &gatedTransport{fakeTransport: newFakeTransport(), sending: make(chan struct{}, 1), gate: make(chan struct{})}

	errc := make(chan error, 1)
	go func() { errc <- m.Serve(context.Background(), "p1", "ana", tr) }()

	// The session is stuck sending history; overflow its buffer of 8.
	<-tr.sending
	for i := 0; i < 9; i++ {
		chat.hub.Publish(domain.NewEvent(domain.KeepAlivePayload{}))
	}
	assert.Equal(t, 0, chat.hub.SubscriberCount())

	close(tr.gate)
	assert.ErrorIs(t, <-errc, domain.ErrTransport)
}

func TestAdmission(t *testing.T) {
	a := NewAdmission(time.Second)
	now := time.Unix(1000, 0)
	a.now = func() time.Time { return now }

	assert.True(t, a.Allow("p1"))
	assert.False(t, a.Allow("p1"))
	assert.True(t, a.Allow("p2"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, a.Allow("p1"))

	assert.True(t, NewAdmission(0).Allow("p1"))
	assert.True(t, NewAdmission(0).Allow("p1"))
}

func TestManagerAdmitThrottles(t *testing.T) {
	m := NewManager(Config{ReconnectMinSpacing: time.Hour}, newFakeChat(), zap.NewNop(), nil)
	require.NoError(t, m.Admit("p1"))
	assert.ErrorIs(t, m.Admit("p1"), domain.ErrThrottled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
}
