package events

import "sync"

// MemorySink retains emitted events in order so the RPC layer and tests can
// inspect them after the fact.
type MemorySink struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemorySink constructs an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements the Emitter interface.
func (s *MemorySink) Emit(evt *Event) {
	if s == nil || evt == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

// Events returns a snapshot of everything emitted so far, oldest first.
func (s *MemorySink) Events() []*Event {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}
