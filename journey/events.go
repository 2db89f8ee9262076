package journey

import (
	"fmt"

	"github.com/voyantlabs/journey-go/journey/emit"
)

// EventType identifies a host callback event.
type EventType string

const (
	EventProcessStart    EventType = "ON_PROCESS_START"
	EventProcessResume   EventType = "ON_PROCESS_RESUME"
	EventProcessPend     EventType = "ON_PROCESS_PEND"
	EventProcessComplete EventType = "ON_PROCESS_COMPLETE"
	EventStepEntry       EventType = "ON_STEP_ENTRY"
	EventStepExit        EventType = "ON_STEP_EXIT"
)

// EventDetail is the payload delivered with every host callback.
type EventDetail struct {
	CaseID         string
	PathName       string
	Component      string
	WorkBasket     string
	PendAtSameStep bool
}

// EventHandler receives case lifecycle callbacks.
//
// Handlers run synchronously on the engine goroutine, strictly after the
// snapshot reflecting the event's post-state is durable. A handler must
// not call back into the engine for the same case; doing so deadlocks on
// the case-level lock. Panics and errors from handlers are logged through
// the emitter and never alter case state.
type EventHandler interface {
	OnEvent(event EventType, detail EventDetail)
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(event EventType, detail EventDetail)

// OnEvent implements EventHandler.
func (f EventHandlerFunc) OnEvent(event EventType, detail EventDetail) {
	f(event, detail)
}

// fireEvent delivers one host callback, shielding the engine from handler
// misbehavior.
func (e *Engine) fireEvent(event EventType, detail EventDetail) {
	if e.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.emit(emit.Event{
				CaseID:   detail.CaseID,
				PathName: detail.PathName,
				Msg:      "event_handler_panic",
				Meta: map[string]interface{}{
					"event": string(event),
					"error": fmt.Sprint(r),
				},
			})
		}
	}()
	e.handler.OnEvent(event, detail)
}

func (e *Engine) emit(ev emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}
