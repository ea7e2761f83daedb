package log

import "sync"

// Logger receives protocol capture events.
// Pass nil or NoopLogger to disable capture.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe
	// and should not block the caller.
	Log(event Event)
}

// NoopLogger discards all events. It is usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// MemoryLogger keeps events in memory. The console's trace command and
// tests use it to inspect recent traffic.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemoryLogger creates a MemoryLogger that retains at most limit events.
// A limit of 0 keeps everything.
func NewMemoryLogger(limit int) *MemoryLogger {
	return &MemoryLogger{limit: limit}
}

// Log appends the event, dropping the oldest one when full.
func (m *MemoryLogger) Log(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
}

// Events returns a copy of the retained events, oldest first.
func (m *MemoryLogger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Filter returns the retained events matching f.
func (m *MemoryLogger) Filter(f Filter) []Event {
	var out []Event
	for _, e := range m.Events() {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all retained events.
func (m *MemoryLogger) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}

var (
	_ Logger = NoopLogger{}
	_ Logger = (*MemoryLogger)(nil)
)
