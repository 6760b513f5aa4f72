package events

import "deedmarket/core/types"

// Event represents a structured state change emitted by the marketplace.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder buffers events until they are drained. The node uses it to hold
// back events until the enclosing state transition commits.
type Recorder struct {
	buf []Event
}

// Emit appends the event to the buffer.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.buf = append(r.buf, evt)
}

// Drain returns the buffered events and resets the buffer.
func (r *Recorder) Drain() []Event {
	if r == nil {
		return nil
	}
	out := r.buf
	r.buf = nil
	return out
}

// Discard drops any buffered events.
func (r *Recorder) Discard() {
	if r != nil {
		r.buf = nil
	}
}
