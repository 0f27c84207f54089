// Package trace provides the optional event markers emitted around batch
// sampling and draft verification. A nil Recorder disables tracing without
// any call-site branching.
package trace

import "github.com/Notborntodie/mlc-llm/internal/logger"

// Recorder receives event markers keyed by request id. Implementations must
// be safe for concurrent use: per-request markers fire from parallel
// sampling tasks.
type Recorder interface {
	Event(requestID, label string)
}

// Event emits a marker for a single request. Safe on a nil Recorder.
func Event(r Recorder, requestID, label string) {
	if r == nil {
		return
	}
	r.Event(requestID, label)
}

// EventAll emits the same marker for every request id in the batch.
// Safe on a nil Recorder.
func EventAll(r Recorder, requestIDs []string, label string) {
	if r == nil {
		return
	}
	for _, id := range requestIDs {
		r.Event(id, label)
	}
}

// SlogRecorder logs events at debug level. slog handlers are safe for
// concurrent use, so this satisfies the Recorder contract as-is.
type SlogRecorder struct {
	Log logger.Logger
}

func (s *SlogRecorder) Event(requestID, label string) {
	s.Log.Debug("trace event", "request", requestID, "event", label)
}
