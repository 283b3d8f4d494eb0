package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/ws"
)

func TestStreamURL(t *testing.T) {
	got, err := streamURL("http://localhost:8080/", "p1", "ana b")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws?name=ana+b&participantId=p1", got)

	got, err = streamURL("https://relay.example.com/chat", "p1", "ana")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/chat/ws?name=ana&participantId=p1", got)
}

func encode(t *testing.T, p domain.Payload) []byte {
	t.Helper()
	data, err := domain.EncodeEvent(domain.NewEvent(p))
	require.NoError(t, err)
	return data
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}
	at := time.Date(2024, 1, 1, 9, 30, 0, 0, time.Local)

	p.handle(encode(t, domain.HistoryPayload{
		Messages: []domain.Message{
			{AuthorName: "ana", Content: "hi", CreatedAt: at, Kind: domain.MessageKindUser, Status: domain.MessageStatusSent},
			{AuthorName: "Sage", Content: "", CreatedAt: at, Kind: domain.MessageKindAI, Status: domain.MessageStatusStreaming},
		},
		Participants: []domain.Participant{{ID: "p1", DisplayName: "ana"}},
	}))
	p.handle(encode(t, domain.AIChunkPayload{MessageID: "m2", BotName: "Sage", Delta: "hel"}))
	p.handle(encode(t, domain.AICompletePayload{Message: domain.Message{AuthorName: "Sage", Content: "hello", CreatedAt: at, Kind: domain.MessageKindAI, Status: domain.MessageStatusSent}}))
	p.handle(encode(t, domain.PresencePayload{Participants: []domain.Participant{{ID: "p1", DisplayName: "ana"}, {ID: "p2", DisplayName: "bo"}}, Joined: "p2"}))
	p.handle(encode(t, domain.ClearedPayload{ClearedBy: "bo"}))
	p.handle(encode(t, domain.KeepAlivePayload{}))

	reply, err := json.Marshal(ws.ErrorFrame{BaseFrame: ws.BaseFrame{Type: ws.TypeError}, Code: "validation_error", Message: "content is required"})
	require.NoError(t, err)
	p.handle(reply)

	want := "-- 1 messages, 1 online\n" +
		"[09:30:00] ana: hi\n" +
		"[09:30:00] Sage: hello\n" +
		"* bo joined (2 online)\n" +
		"-- history cleared by bo\n" +
		"! validation_error: content is required\n"
	assert.Equal(t, want, buf.String())
}

func TestWatcherAckDropsPending(t *testing.T) {
	w := newWatcher("ws://unused", &bytes.Buffer{})
	w.pending = []ws.MessageFrame{
		{BaseFrame: ws.BaseFrame{Type: ws.TypeMessage, RequestID: "c_1"}, ID: "c_1", Content: "one"},
		{BaseFrame: ws.BaseFrame{Type: ws.TypeMessage, RequestID: "c_2"}, ID: "c_2", Content: "two"},
	}

	ack, err := json.Marshal(ws.AckFrame{BaseFrame: ws.BaseFrame{Type: ws.TypeAck, RequestID: "c_1"}})
	require.NoError(t, err)
	w.ack(ack)
	require.Len(t, w.pending, 1)
	assert.Equal(t, "c_2", w.pending[0].ID)

	// Events never acknowledge anything.
	w.ack(encode(t, domain.KeepAlivePayload{}))
	assert.Len(t, w.pending, 1)
}
