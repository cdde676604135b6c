package audit

import (
	"sync"
	"time"
)

// RecordingLogger keeps events in memory. It exists so that callers (tests in
// particular) can observe failures of background work that the store engine
// swallows by contract, such as write-behind sync errors.
type RecordingLogger struct {
	mu     sync.Mutex
	events []Event
}

var _ Logger = (*RecordingLogger)(nil)

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (r *RecordingLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}
	if errVal, ok := metadata["error"].(string); ok {
		event.Error = errVal
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (r *RecordingLogger) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// EventsFor returns recorded events matching the given action.
func (r *RecordingLogger) EventsFor(action string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all recorded events.
func (r *RecordingLogger) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *RecordingLogger) Close() error {
	return nil
}
