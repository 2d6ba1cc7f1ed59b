package statestore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process implementation of Store. It is the default
// provider and also serves as the substrate for tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]ObjectMeta
	states  map[string]State
	subs    []func(Change)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]ObjectMeta),
		states:  make(map[string]State),
	}
}

// EnsureObject creates the object metadata for id if it does not exist.
func (m *Memory) EnsureObject(ctx context.Context, id string, meta ObjectMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; ok {
		return nil
	}
	m.objects[id] = meta
	return nil
}

// GetObject returns the metadata for id, if any. It is mainly useful for
// tests asserting on create-once semantics.
func (m *Memory) GetObject(id string) (ObjectMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.objects[id]
	return meta, ok
}

// SetState overwrites the value of an existing object and notifies
// subscribers.
func (m *Memory) SetState(ctx context.Context, id string, value any, ack bool) error {
	m.mu.Lock()
	if _, ok := m.objects[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.states[id] = State{Value: value, Ack: ack}
	subs := append([]func(Change){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Change{ID: id, Value: value, Ack: ack})
	}
	return nil
}

// GetState returns the stored state for id.
func (m *Memory) GetState(ctx context.Context, id string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[id]; !ok {
		return State{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s, ok := m.states[id]
	return s, ok, nil
}

// DeleteState removes the object and its value, notifying subscribers with a
// deletion change.
func (m *Memory) DeleteState(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.objects[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.objects, id)
	delete(m.states, id)
	subs := append([]func(Change){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Change{ID: id, Deleted: true})
	}
	return nil
}

// States returns a snapshot of all stored states keyed by id.
func (m *Memory) States(ctx context.Context) (map[string]State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.states))
	for id, s := range m.states {
		out[id] = s
	}
	return out, nil
}

// Subscribe registers a callback invoked synchronously for every change.
func (m *Memory) Subscribe(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
