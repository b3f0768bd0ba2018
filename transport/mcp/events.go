package mcp

import (
	"sync"
	"time"

	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/session"
)

// RecordedEvent is one session event kept for recent_events.
type RecordedEvent struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Channel string    `json:"channel"`
	Detail  string    `json:"detail,omitempty"`
}

// eventLog keeps the last size events.
type eventLog struct {
	mu    sync.Mutex
	ring  []RecordedEvent
	next  int
	full  bool
	count uint64
}

func newEventLog(size int) *eventLog {
	if size <= 0 {
		size = 1
	}
	return &eventLog{ring: make([]RecordedEvent, size)}
}

func (l *eventLog) record(ev eventbus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	l.ring[l.next] = RecordedEvent{
		Seq:     l.count,
		Time:    time.Now(),
		Channel: ev.Channel,
		Detail:  session.Describe(ev.Detail),
	}
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
}

// recent returns up to limit events, oldest first. A limit of zero or less
// returns everything retained.
func (l *eventLog) recent(limit int) []RecordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []RecordedEvent
	if l.full {
		out = append(out, l.ring[l.next:]...)
	}
	out = append(out, l.ring[:l.next]...)

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
