// Package emit delivers workflow observability events to logging and
// tracing backends.
package emit

// Emitter receives and processes observability events from workflow execution.
//
// Implementations must be safe for concurrent use (several jobs run at once)
// and must not block or panic.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// MultiEmitter fans events out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// Multi returns an emitter that forwards every event to each non-nil
// emitter given.
func Multi(emitters ...Emitter) *MultiEmitter {
	out := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return &MultiEmitter{emitters: out}
}

// Emit forwards the event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
