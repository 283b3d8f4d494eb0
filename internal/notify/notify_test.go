package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

type recordingSink struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingSink) Notify(_ context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, msg.ID)
	return nil
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, zap.NewNop(), nil)
	go d.Run(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, d.Enqueue(domain.Message{ID: id}))
	}
	d.Close()

	assert.Equal(t, []string{"a", "b", "c"}, sink.seen)
	assert.False(t, d.Enqueue(domain.Message{ID: "late"}))
}

func TestDispatcherSurvivesFailingSinks(t *testing.T) {
	sink := &recordingSink{}
	panicky := SinkFunc(func(_ context.Context, msg domain.Message) error {
		if msg.ID == "boom" {
			panic("sink exploded")
		}
		return errors.New("unreachable")
	})
	d := NewDispatcher(Multi{sink, panicky}, 8, zap.NewNop(), nil)
	go d.Run(context.Background())

	d.Enqueue(domain.Message{ID: "boom"})
	d.Enqueue(domain.Message{ID: "ok"})
	d.Close()

	assert.Equal(t, []string{"boom", "ok"}, sink.seen)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	sink := SinkFunc(func(context.Context, domain.Message) error {
		started <- struct{}{}
		<-block
		return nil
	})
	d := NewDispatcher(sink, 1, zap.NewNop(), nil)
	go d.Run(context.Background())

	require.True(t, d.Enqueue(domain.Message{ID: "1"}))
	<-started
	require.True(t, d.Enqueue(domain.Message{ID: "2"}))
	assert.False(t, d.Enqueue(domain.Message{ID: "3"}))

	close(block)
	d.Close()
}

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	m := Multi{
		SinkFunc(func(context.Context, domain.Message) error { return errA }),
		NewLogSink(zap.NewNop()),
	}
	assert.ErrorIs(t, m.Notify(context.Background(), domain.Message{ID: "x"}), errA)
}
