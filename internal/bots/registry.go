// Package bots holds the loaded bot definitions and their runtime switches.
package bots

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/tools"
)

const maxTemperature = 2.0

type bot struct {
	def     domain.BotDefinition
	matcher *regexp.Regexp
	enabled atomic.Bool
}

func (b *bot) definition() domain.BotDefinition {
	def := b.def
	def.TriggerWords = append([]string(nil), b.def.TriggerWords...)
	def.Tools = append([]string(nil), b.def.Tools...)
	def.Enabled = b.enabled.Load()
	return def
}

// Registry is the process-wide set of bots. Enabled flags are read on every
// evaluation, so a toggle is visible to the next match immediately.
type Registry struct {
	mu           sync.RWMutex
	bots         []*bot
	byName       map[string]*bot
	capabilities *tools.Registry
}

// NewRegistry creates an empty registry. Bot tools are checked against caps
// when it is non-nil.
func NewRegistry(caps *tools.Registry) *Registry {
	return &Registry{
		byName:       make(map[string]*bot),
		capabilities: caps,
	}
}

// Load validates defs and replaces the active set. Nothing changes when any
// definition is invalid; the returned *domain.ConfigError lists every problem.
func (r *Registry) Load(defs []domain.BotDefinition) error {
	var problems []string
	seen := make(map[string]int)
	loaded := make([]*bot, 0, len(defs))

	for i, def := range defs {
		label := fmt.Sprintf("bot[%d] %q", i, def.Name)
		name := strings.TrimSpace(def.Name)
		if name == "" {
			problems = append(problems, label+": name is required")
		} else if strings.ContainsAny(name, " \t\n") {
			problems = append(problems, label+": name must be a single word")
		}
		if prev, dup := seen[strings.ToLower(name)]; dup && name != "" {
			problems = append(problems, fmt.Sprintf("%s: duplicate name (first defined as bot[%d])", label, prev))
		} else {
			seen[strings.ToLower(name)] = i
		}

		triggers := cleanTriggers(def.TriggerWords)
		if len(triggers) == 0 {
			problems = append(problems, label+": trigger_words must not be empty")
		}
		if def.Shyness < 0 || def.Shyness > 1 {
			problems = append(problems, fmt.Sprintf("%s: shyness %.2f outside [0,1]", label, def.Shyness))
		}
		for _, mode := range []domain.ReplyMode{domain.ReplyModeNormal, domain.ReplyModeInterjection} {
			if temp := def.Temperature.For(mode); temp < 0 || temp > maxTemperature {
				problems = append(problems, fmt.Sprintf("%s: %s temperature %.2f outside [0,%.0f]", label, mode, temp, maxTemperature))
			}
		}
		if r.capabilities != nil {
			if _, err := r.capabilities.Resolve(def.Tools); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			}
		}
		if len(problems) > 0 {
			continue
		}

		def.Name = name
		def.TriggerWords = triggers
		b := &bot{def: def, matcher: compileMatcher(name, triggers)}
		b.enabled.Store(def.Enabled)
		loaded = append(loaded, b)
	}

	if len(problems) > 0 {
		return &domain.ConfigError{Problems: problems}
	}

	byName := make(map[string]*bot, len(loaded))
	for _, b := range loaded {
		byName[strings.ToLower(b.def.Name)] = b
	}

	r.mu.Lock()
	r.bots = loaded
	r.byName = byName
	r.mu.Unlock()
	return nil
}

func cleanTriggers(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]bool)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// compileMatcher builds one case-insensitive pattern matching any trigger
// word as a whole word, or an @mention of the bot's name.
func compileMatcher(name string, triggers []string) *regexp.Regexp {
	alts := make([]string, 0, len(triggers)+1)
	for _, w := range triggers {
		alts = append(alts, regexp.QuoteMeta(w))
	}
	alts = append(alts, "@"+regexp.QuoteMeta(strings.ToLower(name)))
	const boundaryStart = `(?:^|[^\p{L}\p{N}_])`
	const boundaryEnd = `(?:$|[^\p{L}\p{N}_])`
	return regexp.MustCompile(`(?i)` + boundaryStart + `(?:` + strings.Join(alts, "|") + `)` + boundaryEnd)
}

// Toggle sets a bot's enabled flag and returns the new state.
func (r *Registry) Toggle(name string, enabled bool) (bool, error) {
	r.mu.RLock()
	b := r.byName[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if b == nil {
		return false, fmt.Errorf("%w: bot %s", domain.ErrNotFound, name)
	}
	b.enabled.Store(enabled)
	return enabled, nil
}

// MatchTriggers returns the enabled bots explicitly addressed by text, in
// load order.
func (r *Registry) MatchTriggers(text string) []domain.BotDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.BotDefinition
	for _, b := range r.bots {
		if b.enabled.Load() && b.matcher.MatchString(text) {
			out = append(out, b.definition())
		}
	}
	return out
}

// Enabled returns all enabled bots in load order.
func (r *Registry) Enabled() []domain.BotDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.BotDefinition
	for _, b := range r.bots {
		if b.enabled.Load() {
			out = append(out, b.definition())
		}
	}
	return out
}

// Get returns a bot by name, case-insensitively.
func (r *Registry) Get(name string) (domain.BotDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if b == nil {
		return domain.BotDefinition{}, false
	}
	return b.definition(), true
}

// List returns every loaded bot with its current enabled flag.
func (r *Registry) List() []domain.BotDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.BotDefinition, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b.definition())
	}
	return out
}

// States returns the public enabled view of every bot.
func (r *Registry) States() []domain.BotState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.BotState, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, domain.BotState{Name: b.def.Name, Enabled: b.enabled.Load()})
	}
	return out
}
