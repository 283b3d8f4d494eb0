package http

import (
	"context"
	"fmt"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// sseTransport writes events as Server-Sent Events frames.
type sseTransport struct {
	mu   sync.Mutex
	res  *echo.Response
	done <-chan struct{}
}

func newSSETransport(ctx context.Context, res *echo.Response) *sseTransport {
	return &sseTransport{res: res, done: ctx.Done()}
}

// Send writes a single event.
// Format: event: <type>\ndata: <json>\n\n
func (t *sseTransport) Send(_ context.Context, evt domain.Event) error {
	data, err := domain.EncodeEvent(evt)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.res, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return err
	}
	t.res.Flush()
	return nil
}

// Done is closed when the client disconnects.
func (t *sseTransport) Done() <-chan struct{} {
	return t.done
}
