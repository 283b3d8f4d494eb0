package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// Conn wraps a websocket connection as a session transport. Writes from
// the session loop and from frame replies are serialized.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send writes evt as a JSON text frame. Keep-alive events are followed by a
// websocket ping so dead peers are noticed by the read deadline.
func (c *Conn) Send(_ context.Context, evt domain.Event) error {
	data, err := domain.EncodeEvent(evt)
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return err
	}
	if evt.Type == domain.EventTypeKeepAlive {
		return c.write(websocket.PingMessage, nil)
	}
	return nil
}

// SendJSON writes v as a JSON text frame.
func (c *Conn) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Done is closed when the read side ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Close sends a close frame and closes the underlying connection.
func (c *Conn) Close() error {
	c.markDone()
	c.mu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.ws.Close()
}
