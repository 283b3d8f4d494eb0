// Package command intercepts slash commands before they reach the log.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// Actions are the shared-state mutations commands may perform.
type Actions interface {
	ClearHistory(ctx context.Context, clearedBy string) (domain.Message, error)
	ToggleBot(ctx context.Context, name string, enabled bool) (domain.BotState, error)
}

// Invocation is a parsed command line.
type Invocation struct {
	Name          string
	Args          []string
	ParticipantID string
	AuthorName    string
}

// Result describes what a handled command did. Reply, when set, is shown
// only to the sender.
type Result struct {
	Command string
	Reply   string
	System  *domain.Message
	Bot     *domain.BotState
}

// HandlerFunc runs one command.
type HandlerFunc func(ctx context.Context, inv Invocation) (Result, error)

type command struct {
	usage   string
	handler HandlerFunc
}

// Processor holds the registered commands.
type Processor struct {
	mu       sync.RWMutex
	commands map[string]command
}

// NewProcessor creates a processor with /clear, /help and /bot registered.
func NewProcessor(actions Actions) *Processor {
	p := &Processor{commands: make(map[string]command)}

	p.Register("clear", "/clear - clear the conversation history", func(ctx context.Context, inv Invocation) (Result, error) {
		msg, err := actions.ClearHistory(ctx, inv.AuthorName)
		if err != nil {
			return Result{}, err
		}
		return Result{System: &msg}, nil
	})

	p.Register("help", "/help - list available commands", func(ctx context.Context, inv Invocation) (Result, error) {
		return Result{Reply: p.Usage()}, nil
	})

	p.Register("bot", "/bot <name> on|off - enable or disable a bot", func(ctx context.Context, inv Invocation) (Result, error) {
		if len(inv.Args) != 2 {
			return Result{Reply: "usage: /bot <name> on|off"}, nil
		}
		var enabled bool
		switch strings.ToLower(inv.Args[1]) {
		case "on", "enable", "true":
			enabled = true
		case "off", "disable", "false":
			enabled = false
		default:
			return Result{Reply: "usage: /bot <name> on|off"}, nil
		}
		state, err := actions.ToggleBot(ctx, inv.Args[0], enabled)
		if err != nil {
			return Result{}, err
		}
		return Result{Bot: &state}, nil
	})

	return p
}

// Register adds or replaces a command.
func (p *Processor) Register(name, usage string, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands[strings.ToLower(name)] = command{usage: usage, handler: handler}
}

// Usage lists every command, sorted by name.
func (p *Processor) Usage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.commands))
	for name := range p.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names)+1)
	lines = append(lines, "Available commands:")
	for _, name := range names {
		lines = append(lines, p.commands[name].usage)
	}
	return strings.Join(lines, "\n")
}

// Parse splits content into a command name and arguments. ok is false when
// content is not shaped like a command.
func Parse(content string) (name string, args []string, ok bool) {
	content = strings.TrimSpace(content)
	if len(content) < 2 || content[0] != '/' || unicode.IsSpace(rune(content[1])) {
		return "", nil, false
	}
	fields := strings.Fields(content[1:])
	if len(fields) == 0 || strings.ContainsRune(fields[0], '/') {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Process runs content as a command. handled is false for plain text and
// for unrecognized commands, which are treated as literal message content.
func (p *Processor) Process(ctx context.Context, participantID, authorName, content string) (res Result, handled bool, err error) {
	name, args, ok := Parse(content)
	if !ok {
		return Result{}, false, nil
	}

	p.mu.RLock()
	cmd, found := p.commands[name]
	p.mu.RUnlock()
	if !found {
		return Result{}, false, nil
	}

	res, err = cmd.handler(ctx, Invocation{
		Name:          name,
		Args:          args,
		ParticipantID: participantID,
		AuthorName:    authorName,
	})
	if err != nil {
		return Result{}, true, fmt.Errorf("/%s: %w", name, err)
	}
	res.Command = name
	return res, true, nil
}
