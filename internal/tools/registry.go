// Package tools declares the capabilities bots may be granted.
package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Capability is a tool a bot may announce to its model provider.
type Capability struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Registry stores capabilities keyed by name.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// DefaultRegistry is the shared registry seeded with the builtin capabilities.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
	}
}

// Register adds a capability.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.capabilities[c.Name]; exists {
		return fmt.Errorf("capability already registered: %s", c.Name)
	}
	r.capabilities[c.Name] = c
	return nil
}

// Lookup returns the capability with the given name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[name]
	return c, ok
}

// Resolve returns the capabilities for names, failing on the first unknown one.
func (r *Registry) Resolve(names []string) ([]Capability, error) {
	out := make([]Capability, 0, len(names))
	for _, name := range names {
		c, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustRegister adds a capability to the default registry or panics.
func MustRegister(c Capability) {
	if err := DefaultRegistry.Register(c); err != nil {
		panic(err)
	}
}
