// Package events fans values out to listener channels.
package events

import (
	"sync"
)

// ChannelEvent provides pub/sub over channels. Notify never blocks: a
// listener whose channel is full misses that value.
type ChannelEvent[T any] struct {
	mu        sync.RWMutex
	channels  map[uint64]chan<- T
	nextID    uint64
	replayKey func(T) string
	latest    map[string]T
	keyOrder  []string
	onDrop    func()
}

// NewChannelEvent creates a ChannelEvent. If replayKey is non-nil the event
// remembers the latest value for every distinct key and sends those values to
// each new listener, in the order the keys were first seen.
func NewChannelEvent[T any](replayKey func(T) string) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels:  make(map[uint64]chan<- T),
		replayKey: replayKey,
		latest:    make(map[string]T),
	}
}

// OnDrop registers fn to be called whenever a value is not delivered to a
// full listener.
func (e *ChannelEvent[T]) OnDrop(fn func()) {
	e.mu.Lock()
	e.onDrop = fn
	e.mu.Unlock()
}

// Listen registers ch and returns a function that deregisters it.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	replay := make([]T, 0, len(e.keyOrder))
	for _, key := range e.keyOrder {
		replay = append(replay, e.latest[key])
	}
	onDrop := e.onDrop
	e.mu.Unlock()

	// outside the lock so a slow listener cannot stall Notify
	for _, v := range replay {
		send(ch, v, onDrop)
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify sends value to every registered channel.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayKey != nil {
		key := e.replayKey(value)
		if _, seen := e.latest[key]; !seen {
			e.keyOrder = append(e.keyOrder, key)
		}
		e.latest[key] = value
	}
	channels := make([]chan<- T, 0, len(e.channels))
	for _, ch := range e.channels {
		channels = append(channels, ch)
	}
	onDrop := e.onDrop
	e.mu.Unlock()

	for _, ch := range channels {
		send(ch, value, onDrop)
	}
}

func send[T any](ch chan<- T, value T, onDrop func()) {
	select {
	case ch <- value:
	default:
		if onDrop != nil {
			onDrop()
		}
	}
}

// ListenerCount returns the current number of registered listeners.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}
