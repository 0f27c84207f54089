package trace

import (
	"sync"
	"testing"
)

type memRecorder struct {
	mu     sync.Mutex
	events []string
}

func (m *memRecorder) Event(requestID, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, requestID+"/"+label)
}

func TestNilRecorderIsNoOp(t *testing.T) {
	// Must not panic.
	Event(nil, "req", "start")
	EventAll(nil, []string{"a", "b"}, "start")
}

func TestEventAll(t *testing.T) {
	rec := &memRecorder{}
	EventAll(rec, []string{"a", "b"}, "start sampling")
	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %v", rec.events)
	}
	if rec.events[0] != "a/start sampling" || rec.events[1] != "b/start sampling" {
		t.Fatalf("unexpected events: %v", rec.events)
	}
}
