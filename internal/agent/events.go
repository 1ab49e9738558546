package agent

import (
	"sync"
	"time"
)

// Event is one append-only audit record. Ordering is the append order.
type Event struct {
	TS      int64  `json:"ts"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// EventLog is an append-only log with a monotonic cursor. It backs both the
// run audit trail and the polling API. Readers may re-poll the same cursor
// safely; appends never reorder or delete prior entries.
type EventLog struct {
	mu       sync.Mutex
	events   []Event
	onAppend func(Event)
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

// SetObserver registers a callback invoked for every appended event, used to
// mirror events into external stores. Must be set before the log is shared.
func (l *EventLog) SetObserver(fn func(Event)) {
	l.onAppend = fn
}

func (l *EventLog) Append(stage, message string, data any) Event {
	event := Event{
		TS:      time.Now().UnixMilli(),
		Stage:   stage,
		Message: message,
		Data:    data,
	}
	l.mu.Lock()
	l.events = append(l.events, event)
	observer := l.onAppend
	l.mu.Unlock()
	if observer != nil {
		observer(event)
	}
	return event
}

// Since returns events appended at or after cursor plus the next cursor
// value. A cursor past the end yields an empty slice, not an error.
func (l *EventLog) Since(cursor int) ([]Event, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(l.events) {
		return []Event{}, len(l.events)
	}
	out := make([]Event, len(l.events)-cursor)
	copy(out, l.events[cursor:])
	return out, len(l.events)
}

// Snapshot copies the full log.
func (l *EventLog) Snapshot() []Event {
	events, _ := l.Since(0)
	return events
}
