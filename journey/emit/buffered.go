package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// execution history analysis. Events are organized by case id for
// efficient retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by case id with optional filtering
//   - Filter by path name, node id or message
//   - Clear events by case id or all events
//
// Warning: this emitter stores all events in memory. For production
// deployments with long-running cases or high event volume, prefer a
// persistent backend or rotate with Clear.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine, _ := journey.New(factory, repo, journey.WithEmitter(emitter))
//
//	engine.StartCase(ctx, "order-1001", jny, nil, nil)
//
//	history := emitter.GetHistory("order-1001")
//	pends := emitter.GetHistoryWithFilter("order-1001", emit.HistoryFilter{Msg: "case_pended"})
//
//	emitter.Clear("order-1001")
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // caseID -> events
}

// HistoryFilter specifies criteria for filtering execution history.
//
// All filter fields are optional. When multiple fields are set they are
// combined with AND logic (all conditions must match).
type HistoryFilter struct {
	PathName string // Filter by execution path (empty = no filter)
	NodeID   string // Filter by node id (empty = no filter)
	Msg      string // Filter by message (empty = no filter)
}

// NewBufferedEmitter creates a BufferedEmitter. Safe for concurrent
// use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer, organized by case id.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.CaseID] = append(b.events[event.CaseID], event)
}

// GetHistory retrieves all events for a case in emission order. Returns
// an empty slice when no events exist. The returned slice is a copy.
func (b *BufferedEmitter) GetHistory(caseID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[caseID]
	if events == nil {
		return []Event{}
	}

	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves the events for a case matching every
// set filter field, in emission order. The returned slice is a copy.
func (b *BufferedEmitter) GetHistoryWithFilter(caseID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[caseID]
	if events == nil {
		return []Event{}
	}

	if filter.PathName == "" && filter.NodeID == "" && filter.Msg == "" {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	var result []Event
	for _, event := range events {
		if !matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.PathName != "" && event.PathName != filter.PathName {
		return false
	}
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	return true
}

// Clear removes stored events. A non-empty caseID clears only that
// case; an empty caseID clears everything.
func (b *BufferedEmitter) Clear(caseID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if caseID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, caseID)
	}
}
