package eventbus

import (
	"sync"
)

// Event is a single notification delivered to handlers.
type Event struct {
	Channel string
	Detail  any
}

// Handler is called for every event emitted on the channel it was
// registered for.
type Handler func(Event)

// Subscription identifies one registration made with On or Once. The zero
// value identifies nothing.
type Subscription struct {
	channel string
	id      uint64
}

// Channel returns the channel the subscription was registered on.
func (s Subscription) Channel() string {
	return s.channel
}

type entry struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is a publish/subscribe dispatcher keyed by channel name.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]entry),
	}
}

// On registers handler for channel. The same handler may be registered more
// than once; each registration is called separately.
func (b *Bus) On(channel string, handler Handler) Subscription {
	return b.add(channel, handler, false)
}

// Once registers handler for the next event on channel only.
func (b *Bus) Once(channel string, handler Handler) Subscription {
	return b.add(channel, handler, true)
}

func (b *Bus) add(channel string, handler Handler, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[channel] = append(b.handlers[channel], entry{
		id:      b.nextID,
		handler: handler,
		once:    once,
	})

	return Subscription{channel: channel, id: b.nextID}
}

// Off removes the registration identified by sub. Removing a registration
// that is unknown or already removed does nothing.
func (b *Bus) Off(sub Subscription) {
	if sub.id == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub)
}

// remove deletes sub and reports whether it was present. Callers hold mu.
func (b *Bus) remove(sub Subscription) bool {
	entries := b.handlers[sub.channel]
	for i, e := range entries {
		if e.id != sub.id {
			continue
		}

		// Copy so that snapshots taken by in-flight Emit calls stay intact.
		next := make([]entry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, sub.channel)
		} else {
			b.handlers[sub.channel] = next
		}
		return true
	}
	return false
}

// Emit calls every handler registered for channel, in registration order,
// passing detail. With no handlers registered Emit does nothing.
func (b *Bus) Emit(channel string, detail any) {
	b.mu.RLock()
	snapshot := b.handlers[channel]
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	ev := Event{Channel: channel, Detail: detail}
	for _, e := range snapshot {
		if e.once {
			b.mu.Lock()
			removed := b.remove(Subscription{channel: channel, id: e.id})
			b.mu.Unlock()
			if !removed {
				// Another Emit already consumed it.
				continue
			}
		}
		e.handler(ev)
	}
}

// count returns the number of handlers registered for channel.
func (b *Bus) count(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[channel])
}
