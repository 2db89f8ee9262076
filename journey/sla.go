package journey

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voyantlabs/journey-go/journey/emit"
)

// MilestoneSetupOn selects the case event that arms a milestone.
type MilestoneSetupOn string

const (
	SetupOnCaseStart       MilestoneSetupOn = "case_start"
	SetupOnWorkBasketEntry MilestoneSetupOn = "work_basket_entry"
)

// MilestoneType scopes a milestone to the case or to one work basket.
type MilestoneType string

const (
	MilestoneCaseLevel  MilestoneType = "case_level"
	MilestoneWorkBasket MilestoneType = "work_basket"
)

// FutureMilestone describes a recurrence of its parent milestone.
type FutureMilestone struct {
	Offset string `json:"offset"`
	Repeat int    `json:"repeat"`
}

// Milestone is one scheduled SLA event supplied at StartCase. The engine
// never mutates milestones; it forwards the matching subset to the SLA
// collaborator on the events of the notifier protocol and discards them
// with the case on completion.
//
// Age uses the "dHh:m" form (days, hours, minutes); At is the absolute
// alternative. Exactly one of the two should be set.
type Milestone struct {
	Name             string            `json:"name"`
	SetupOn          MilestoneSetupOn  `json:"setup_on"`
	Type             MilestoneType     `json:"type"`
	WorkBasketName   string            `json:"work_basket_name,omitempty"`
	Age              string            `json:"age,omitempty"`
	At               time.Time         `json:"at,omitempty"`
	ClockStarts      string            `json:"clock_starts,omitempty"`
	Action           string            `json:"action"`
	UserData         string            `json:"user_data,omitempty"`
	FutureMilestones []FutureMilestone `json:"future_milestones,omitempty"`
}

// SLACollaborator is the timer service the engine notifies about SLA
// state. The engine only emits; firing breaches is the collaborator's
// business.
//
// Enqueue may be called more than once for the same (case, basket) pair
// across re-pends; collaborators are expected to dedup. Collaborator
// errors are logged through the emitter and never alter case state.
type SLACollaborator interface {
	// Enqueue arms the supplied milestones (JSON array of Milestone)
	// for the case.
	Enqueue(ctx context.Context, caseID string, milestonesJSON []byte) error

	// Dequeue disarms basket-scoped milestones when a path leaves a
	// pend basket.
	Dequeue(ctx context.Context, caseID string, workBasket string) error

	// DequeueAll disarms everything for the case on completion.
	DequeueAll(ctx context.Context, caseID string) error
}

// milestonesFor filters the case milestones for one notifier event.
// setupOn selects the arming event; basket further narrows
// work-basket-entry milestones to the basket being entered.
func milestonesFor(all []Milestone, setupOn MilestoneSetupOn, basket string) []Milestone {
	var out []Milestone
	for _, m := range all {
		if m.SetupOn != setupOn {
			continue
		}
		if setupOn == SetupOnWorkBasketEntry && m.WorkBasketName != basket {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) slaEnqueue(ctx context.Context, c *caseState, setupOn MilestoneSetupOn, basket string) {
	if e.sla == nil {
		return
	}
	matched := milestonesFor(c.Milestones, setupOn, basket)
	payload, err := json.Marshal(matched)
	if err != nil {
		e.emitSLAFailure(c.CaseID, "sla_marshal_failed", err)
		return
	}
	if err := e.sla.Enqueue(ctx, c.CaseID, payload); err != nil {
		e.emitSLAFailure(c.CaseID, "sla_enqueue_failed", err)
	}
}

func (e *Engine) slaDequeue(ctx context.Context, caseID, basket string) {
	if e.sla == nil || basket == "" {
		return
	}
	if err := e.sla.Dequeue(ctx, caseID, basket); err != nil {
		e.emitSLAFailure(caseID, "sla_dequeue_failed", err)
	}
}

func (e *Engine) slaDequeueAll(ctx context.Context, caseID string) {
	if e.sla == nil {
		return
	}
	if err := e.sla.DequeueAll(ctx, caseID); err != nil {
		e.emitSLAFailure(caseID, "sla_dequeue_all_failed", err)
	}
}

func (e *Engine) emitSLAFailure(caseID, msg string, err error) {
	e.emit(emit.Event{
		CaseID: caseID,
		Msg:    msg,
		Meta:   map[string]interface{}{"error": err.Error()},
	})
}
