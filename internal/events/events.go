// Package events implements the topic-keyed listener registry spec
// §4.2 requires: addEventListener/removeEventListener/dispatchEvent,
// with UUID listener ids so removal does not depend on callback
// identity, and per-topic synchronous dispatch in registration order.
//
// Generalized from the teacher's internal/events package, which models
// a single global broadcast topic (one Bus, many anonymous channel
// subscribers). Here every subscription is scoped to a named topic
// (e.g. "notification", "pushsubscriptionchange", the internal
// "registered"/"unregistered" topics used to resolve subscribe/
// unsubscribe promises) and callbacks are plain functions, not channels,
// matching spec §4.2's synchronous dispatch requirement.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// ListenerID identifies a registered listener for later removal.
type ListenerID string

// Listener is invoked by [Manager.Dispatch] with the arguments passed
// to Dispatch for the topic it was registered against.
type Listener func(args ...any)

type entry struct {
	id ListenerID
	fn Listener
}

// Manager is a topic -> listener-list registry. The zero value is not
// usable; construct with [New]. Safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	listeners map[string][]entry
	onPanic   func(topic string, r any)
}

// New creates an empty event manager. onPanic, if non-nil, is called
// (synchronously, on the dispatching goroutine) whenever a listener
// panics, so the panic can be logged instead of crashing the process;
// dispatch continues with the remaining listeners regardless.
func New(onPanic func(topic string, r any)) *Manager {
	return &Manager{
		listeners: make(map[string][]entry),
		onPanic:   onPanic,
	}
}

// AddEventListener registers fn for topic and returns an id that can
// later be passed to [Manager.RemoveEventListener].
func (m *Manager) AddEventListener(topic string, fn Listener) ListenerID {
	id := ListenerID(uuid.NewString())
	m.mu.Lock()
	m.listeners[topic] = append(m.listeners[topic], entry{id: id, fn: fn})
	m.mu.Unlock()
	return id
}

// RemoveEventListener removes the listener identified by id from
// topic. Removing an unknown id is a no-op.
func (m *Manager) RemoveEventListener(topic string, id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.listeners[topic]
	for i, e := range list {
		if e.id == id {
			m.listeners[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// DispatchEvent calls every listener registered for topic, in
// registration order, synchronously on the calling goroutine. It
// iterates a snapshot of the listener list taken under lock, so a
// listener that adds or removes listeners during dispatch does not
// corrupt iteration or affect the listeners this dispatch invokes. A
// listener that panics is recovered and reported via onPanic; later
// listeners still run.
func (m *Manager) DispatchEvent(topic string, args ...any) {
	m.mu.Lock()
	list := append([]entry(nil), m.listeners[topic]...)
	m.mu.Unlock()

	for _, e := range list {
		m.invoke(topic, e.fn, args)
	}
}

func (m *Manager) invoke(topic string, fn Listener, args []any) {
	defer func() {
		if r := recover(); r != nil {
			if m.onPanic != nil {
				m.onPanic(topic, r)
			}
		}
	}()
	fn(args...)
}

// ListenerCount returns the number of listeners registered for topic,
// for tests and diagnostics.
func (m *Manager) ListenerCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners[topic])
}
