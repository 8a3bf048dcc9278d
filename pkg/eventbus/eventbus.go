// SPDX-License-Identifier: Apache-2.0

// Package eventbus implements the process-local, synchronous pub-sub bus
// that decouples the core engine from UI/logging subscribers (§4.10): a
// pterm-backed CLI subscriber and a JSON-lines file subscriber can both
// listen without the engine depending on either.
package eventbus

import "sync"

// Event is one namespaced occurrence (e.g. "change:start", "lock:acquired").
type Event struct {
	Name string
	Data any
}

// Handler receives events published under the names it was subscribed to.
type Handler func(Event)

// Bus is a typed, synchronous pub-sub bus. Emit never blocks on I/O beyond
// the subscriber callbacks themselves; subscribers are invoked in
// registration order, synchronously, on the emitting goroutine. Emit order
// is preserved within one event name; there is no ordering guarantee
// between unrelated event names (§4.10).
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New returns an empty event bus.
func New() *Bus {
	return &Bus{handlers: map[string][]Handler{}}
}

// Subscribe registers fn to be called for every event published under name.
// It returns an unsubscribe function.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], fn)
	idx := len(b.handlers[name]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.handlers[name]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
}

// Emit publishes an event synchronously to every subscriber of its name.
func (b *Bus) Emit(name string, data any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(Event{Name: name, Data: data})
		}
	}
}
