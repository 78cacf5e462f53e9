package events

import (
	"fmt"
	"sync"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
)

type registryKey struct {
	kind       Kind
	transition Transition
}

// Registry holds the ordered handler list of every (kind, transition) pair.
// Modules register at load time and unregister at unload time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[registryKey][]Handler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[registryKey][]Handler)}
}

// Register appends h unless a handler with the same name is already registered
func (r *Registry) Register(kind Kind, transition Transition, h Handler) bool {
	if h.Name == "" || h.Fn == nil {
		logger.Warn(fmt.Sprintf("Handler inválido ignorado para %s/%s", kind, transition), "EventRegistry")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{kind, transition}
	for _, existing := range r.handlers[key] {
		if existing.Name == h.Name {
			return false
		}
	}
	r.handlers[key] = append(r.handlers[key], h)
	logger.Debug(fmt.Sprintf("Handler '%s' registrado en %s/%s", h.Name, kind, transition), "EventRegistry")
	return true
}

// RegisterKind registers h on every transition of kind
func (r *Registry) RegisterKind(kind Kind, h Handler) int {
	added := 0
	for _, t := range Transitions[kind] {
		if r.Register(kind, t, h) {
			added++
		}
	}
	return added
}

// RegisterEverywhere registers h on every transition of every kind
func (r *Registry) RegisterEverywhere(h Handler) int {
	added := 0
	for _, kind := range Kinds {
		added += r.RegisterKind(kind, h)
	}
	return added
}

// Unregister removes the named handler. Removing an absent handler is a no-op.
func (r *Registry) Unregister(kind Kind, transition Transition, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{kind, transition}
	list := r.handlers[key]
	for i, h := range list {
		if h.Name != name {
			continue
		}
		updated := make([]Handler, 0, len(list)-1)
		updated = append(updated, list[:i]...)
		updated = append(updated, list[i+1:]...)
		if len(updated) == 0 {
			delete(r.handlers, key)
		} else {
			r.handlers[key] = updated
		}
		return true
	}
	return false
}

// UnregisterAll removes the named handler from every pair and returns how many entries went away
func (r *Registry) UnregisterAll(name string) int {
	r.mu.RLock()
	keys := make([]registryKey, 0, len(r.handlers))
	for key := range r.handlers {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	removed := 0
	for _, key := range keys {
		if r.Unregister(key.kind, key.transition, name) {
			removed++
		}
	}
	return removed
}

// Handlers returns a copy of the handlers for a pair, in registration order
func (r *Registry) Handlers(kind Kind, transition Transition) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.handlers[registryKey{kind, transition}]
	out := make([]Handler, len(list))
	copy(out, list)
	return out
}

// Count returns the number of handlers for a pair
func (r *Registry) Count(kind Kind, transition Transition) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[registryKey{kind, transition}])
}

// Listening reports whether any handler is registered for kind
func (r *Registry) Listening(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, list := range r.handlers {
		if key.kind == kind && len(list) > 0 {
			return true
		}
	}
	return false
}
