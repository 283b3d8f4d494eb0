package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/ws"
)

var (
	interactive bool
	rawFrames   bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "send lines typed on stdin as messages")
	watchCmd.Flags().BoolVar(&rawFrames, "raw", false, "print frames as indented JSON")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the live conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		addr, err := streamURL(serverAddr, participantID, displayName)
		if err != nil {
			return err
		}
		w := newWatcher(addr, cmd.OutOrStdout())
		if interactive {
			w.lines = readLines(ctx, cmd.InOrStdin())
		}
		return w.Run(ctx)
	},
}

// streamURL turns the relay base URL into its websocket endpoint.
func streamURL(base, participant, name string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("participantId", participant)
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// watcher keeps a websocket stream open, reconnecting with backoff.
// Messages typed while disconnected, or not yet acknowledged, are resent
// with their original ids after reconnecting.
type watcher struct {
	addr    string
	out     io.Writer
	backoff *Backoff
	dialer  *websocket.Dialer
	printer *printer
	lines   <-chan string

	pending []ws.MessageFrame
}

func newWatcher(addr string, out io.Writer) *watcher {
	return &watcher{
		addr:    addr,
		out:     out,
		backoff: NewBackoff(),
		dialer:  websocket.DefaultDialer,
		printer: &printer{w: out, raw: rawFrames},
	}
}

// Run streams until ctx is done or reconnect attempts are exhausted.
func (w *watcher) Run(ctx context.Context) error {
	for {
		conn, _, err := w.dialer.DialContext(ctx, w.addr, nil)
		if err == nil {
			w.backoff.Reset()
			fmt.Fprintln(w.out, "connected")
			err = w.session(ctx, conn)
			conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		delay, ok := w.backoff.Next()
		if !ok {
			return fmt.Errorf("giving up after %d attempts: %w", w.backoff.MaxAttempts, err)
		}
		fmt.Fprintf(w.out, "disconnected (%v), retrying in %s\n", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (w *watcher) session(ctx context.Context, conn *websocket.Conn) error {
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	for _, f := range w.pending {
		if err := conn.WriteJSON(f); err != nil {
			return err
		}
	}

	lines := w.lines
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-readErr:
			return err
		case data := <-frames:
			w.ack(data)
			w.printer.handle(data)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			id := "c_" + uuid.New().String()
			f := ws.MessageFrame{
				BaseFrame: ws.BaseFrame{Type: ws.TypeMessage, RequestID: id},
				ID:        id,
				Content:   line,
			}
			w.pending = append(w.pending, f)
			if err := conn.WriteJSON(f); err != nil {
				return err
			}
		}
	}
}

// ack drops the pending message a reply frame answers.
func (w *watcher) ack(data []byte) {
	var base ws.BaseFrame
	if json.Unmarshal(data, &base) != nil || base.RequestID == "" {
		return
	}
	switch base.Type {
	case ws.TypeAck, ws.TypeCommandReply, ws.TypeError:
	default:
		return
	}
	for i, f := range w.pending {
		if f.RequestID == base.RequestID {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return
		}
	}
}

// printer renders stream frames as chat lines.
type printer struct {
	w   io.Writer
	raw bool
}

func (p *printer) handle(data []byte) {
	if p.raw {
		var pretty map[string]interface{}
		if json.Unmarshal(data, &pretty) == nil {
			formatted, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Fprintf(p.w, "%s\n", formatted)
		}
		return
	}

	evt, err := domain.DecodeEvent(data)
	if errors.Is(err, domain.ErrUnknownEvent) {
		p.reply(data)
		return
	}
	if err != nil {
		fmt.Fprintf(p.w, "! unreadable frame: %v\n", err)
		return
	}
	p.event(evt)
}

func (p *printer) reply(data []byte) {
	var base ws.BaseFrame
	if err := json.Unmarshal(data, &base); err != nil {
		return
	}
	switch base.Type {
	case ws.TypeCommandReply:
		var f ws.CommandReplyFrame
		if json.Unmarshal(data, &f) == nil && f.Reply != "" {
			fmt.Fprintln(p.w, f.Reply)
		}
	case ws.TypeError:
		var f ws.ErrorFrame
		if json.Unmarshal(data, &f) == nil {
			fmt.Fprintf(p.w, "! %s: %s\n", f.Code, f.Message)
		}
	}
}

func (p *printer) event(evt domain.Event) {
	switch pl := evt.Payload.(type) {
	case domain.HistoryPayload:
		fmt.Fprintf(p.w, "-- %d messages, %d online\n", len(pl.Messages), len(pl.Participants))
		for _, m := range pl.Messages {
			p.message(m)
		}
	case domain.MessagePayload:
		p.message(pl.Message)
	case domain.AICompletePayload:
		p.message(pl.Message)
	case domain.AIStartPayload:
		if pl.Interjection {
			fmt.Fprintf(p.w, "* %s is chiming in...\n", pl.Message.AuthorName)
		}
	case domain.AIErrorPayload:
		fmt.Fprintf(p.w, "! %s failed: %s\n", pl.Message.AuthorName, pl.Error)
	case domain.PresencePayload:
		switch {
		case pl.Joined != "":
			fmt.Fprintf(p.w, "* %s joined (%d online)\n", displayNameOf(pl.Participants, pl.Joined), len(pl.Participants))
		case pl.Left != "":
			fmt.Fprintf(p.w, "* %s left (%d online)\n", pl.Left, len(pl.Participants))
		}
	case domain.BotStatePayload:
		fmt.Fprintf(p.w, "* %s is now %s\n", pl.Bot.Name, onOff(pl.Bot.Enabled))
	case domain.ClearedPayload:
		fmt.Fprintf(p.w, "-- history cleared by %s\n", pl.ClearedBy)
	}
}

func (p *printer) message(m domain.Message) {
	if m.Status == domain.MessageStatusStreaming {
		return
	}
	ts := m.CreatedAt.Local().Format("15:04:05")
	if m.Kind == domain.MessageKindSystem {
		fmt.Fprintf(p.w, "[%s] -- %s\n", ts, m.Content)
		return
	}
	fmt.Fprintf(p.w, "[%s] %s: %s\n", ts, m.AuthorName, m.Content)
}

func displayNameOf(list []domain.Participant, id string) string {
	for _, p := range list {
		if p.ID == id {
			return p.DisplayName
		}
	}
	return id
}
