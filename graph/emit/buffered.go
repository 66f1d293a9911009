package emit

import "sync"

// BufferedEmitter implements Emitter by keeping the most recent events per
// run in memory.
//
// The server uses it to expose a job's recent activity; tests use it to
// assert on emitted events. Each run keeps at most limit events, oldest
// dropped first.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter(200)
//	...
//	events := emitter.GetHistoryWithFilter("job-1/1", emit.HistoryFilter{NodeID: "draft_chapter"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	limit  int
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering execution history.
//
// All filter fields are optional and combined with AND logic.
type HistoryFilter struct {
	NodeID  string // Filter by node ID (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates a BufferedEmitter. limit <= 0 keeps every event.
func NewBufferedEmitter(limit int) *BufferedEmitter {
	return &BufferedEmitter{
		limit:  limit,
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := append(b.events[event.RunID], event)
	if b.limit > 0 && len(events) > b.limit {
		events = append([]Event(nil), events[len(events)-b.limit:]...)
	}
	b.events[event.RunID] = events
}

// GetHistory returns a copy of all buffered events for runID in emission
// order. Never nil.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns buffered events for runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// RunIDs returns every run that has buffered events and whose id starts
// with prefix.
func (b *BufferedEmitter) RunIDs(prefix string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []string
	for id := range b.events {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			ids = append(ids, id)
		}
	}
	return ids
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear removes stored events for runID, or every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
