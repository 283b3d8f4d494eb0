// Package presence tracks connected participants and their typing state.
package presence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// Registry holds online participants keyed by id.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*domain.Participant
	now          func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[string]*domain.Participant),
		now:          time.Now,
	}
}

// Join creates the participant or refreshes an existing entry.
func (r *Registry) Join(id, displayName string) domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p, ok := r.participants[id]
	if !ok {
		p = &domain.Participant{ID: id, JoinedAt: now}
		r.participants[id] = p
	}
	if displayName != "" {
		p.DisplayName = displayName
	}
	p.LastActivityAt = now
	return *p
}

// Touch records activity for the participant.
func (r *Registry) Touch(id string) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, fmt.Errorf("%w: participant %s", domain.ErrNotFound, id)
	}
	p.LastActivityAt = r.now()
	return *p, nil
}

// SetTyping updates the typing flag and reports whether it changed.
func (r *Registry) SetTyping(id string, isTyping bool) (domain.Participant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false, fmt.Errorf("%w: participant %s", domain.ErrNotFound, id)
	}
	changed := p.IsTyping != isTyping
	p.IsTyping = isTyping
	p.LastActivityAt = r.now()
	return *p, changed, nil
}

// Leave removes the participant immediately.
func (r *Registry) Leave(id string) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	delete(r.participants, id)
	return *p, true
}

// Get returns a participant by id.
func (r *Registry) Get(id string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// List returns all participants ordered by join time.
func (r *Registry) List() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Count returns the number of online participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}
