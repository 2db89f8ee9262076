package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter_History(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{CaseID: "c1", PathName: ".", NodeID: "reserve", Msg: "step_start"})
	e.Emit(Event{CaseID: "c1", PathName: ".", NodeID: "reserve", Msg: "step_end"})
	e.Emit(Event{CaseID: "c1", PathName: ".-a", NodeID: "pack", Msg: "step_start"})
	e.Emit(Event{CaseID: "c2", PathName: ".", Msg: "case_started"})

	history := e.GetHistory("c1")
	if len(history) != 3 {
		t.Fatalf("expected 3 events for c1, got %d", len(history))
	}
	if history[0].Msg != "step_start" || history[1].Msg != "step_end" {
		t.Errorf("expected emission order preserved, got %+v", history)
	}

	if got := e.GetHistory("unknown"); len(got) != 0 {
		t.Errorf("expected empty history for unknown case, got %d events", len(got))
	}

	// History is a copy; mutating it does not touch the buffer.
	history[0].Msg = "mutated"
	if e.GetHistory("c1")[0].Msg != "step_start" {
		t.Error("GetHistory must return a copy")
	}
}

func TestBufferedEmitter_Filter(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{CaseID: "c1", PathName: ".", NodeID: "reserve", Msg: "step_start"})
	e.Emit(Event{CaseID: "c1", PathName: ".", NodeID: "reserve", Msg: "step_end"})
	e.Emit(Event{CaseID: "c1", PathName: ".-a", NodeID: "pack", Msg: "step_start"})
	e.Emit(Event{CaseID: "c1", PathName: ".-b", NodeID: "pack", Msg: "step_start"})

	t.Run("by message", func(t *testing.T) {
		got := e.GetHistoryWithFilter("c1", HistoryFilter{Msg: "step_start"})
		if len(got) != 3 {
			t.Errorf("expected 3 step_start events, got %d", len(got))
		}
	})

	t.Run("by path", func(t *testing.T) {
		got := e.GetHistoryWithFilter("c1", HistoryFilter{PathName: ".-a"})
		if len(got) != 1 || got[0].NodeID != "pack" {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("fields combine with AND", func(t *testing.T) {
		got := e.GetHistoryWithFilter("c1", HistoryFilter{NodeID: "pack", PathName: ".-b"})
		if len(got) != 1 || got[0].PathName != ".-b" {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("empty filter returns everything", func(t *testing.T) {
		if got := e.GetHistoryWithFilter("c1", HistoryFilter{}); len(got) != 4 {
			t.Errorf("expected all 4 events, got %d", len(got))
		}
	})

	t.Run("no match returns empty slice", func(t *testing.T) {
		got := e.GetHistoryWithFilter("c1", HistoryFilter{Msg: "ticket_raised"})
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", got)
		}
	})
}

func TestBufferedEmitter_Clear(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{CaseID: "c1", Msg: "case_started"})
	e.Emit(Event{CaseID: "c2", Msg: "case_started"})

	e.Clear("c1")
	if len(e.GetHistory("c1")) != 0 {
		t.Error("expected c1 cleared")
	}
	if len(e.GetHistory("c2")) != 1 {
		t.Error("expected c2 untouched")
	}

	e.Clear("")
	if len(e.GetHistory("c2")) != 0 {
		t.Error("expected everything cleared")
	}
}

func TestBufferedEmitter_Concurrent(t *testing.T) {
	e := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				e.Emit(Event{CaseID: "shared", PathName: fmt.Sprintf(".-p%d", n), Msg: "step_start"})
			}
		}(i)
	}
	wg.Wait()
	if got := len(e.GetHistory("shared")); got != 200 {
		t.Errorf("expected 200 events, got %d", got)
	}
}
