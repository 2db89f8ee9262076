package journey

import (
	"context"
	"fmt"

	"github.com/voyantlabs/journey-go/journey/emit"
)

// applyTicket reseats the case after a component raised a ticket: every
// path other than the raising one is cancelled, the raising path moves
// to the ticket's target step, and the case records the ticket for
// audit. An undeclared ticket is a component bug, not an engine fault;
// the raising path pends at the error basket instead.
//
// Runs on the drive goroutine with no workers active. Results from
// workers of the same round are stamped with the pre-ticket generation
// and discarded, so a sibling that pended or forked in parallel with the
// ticket never leaks state into the reseated case.
//
// prePended names paths whose pend was announced to the SLA collaborator
// before this drive began; only those get a dequeue on cancellation. A
// sibling that pended in the ticket's own round was never enqueued, so
// there is nothing to withdraw.
func (e *Engine) applyTicket(ctx context.Context, c *caseState, res *pathResult, prePended map[string]bool) error {
	p, node := res.path, res.node
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.Journey.ticketStep(res.ticket)
	if !ok {
		p.Status = PathStarted
		p.UnitResponseType = ResponseErrorPend
		p.PendWorkBasket = e.opts.ErrorWorkBasket
		p.PendError = &ErrorInfo{
			Code:    errCodeBadTicket,
			Message: fmt.Sprintf("ticket %q is not declared in journey %s", res.ticket, c.Journey.Name),
		}
		c.LastUnitExecuted = lastUnit{Name: node.Name, Component: node.Component}
		return e.persistCase(ctx, c)
	}

	c.generation++
	c.Ticket = res.ticket
	p.Ticket = res.ticket

	for _, other := range c.sortedPaths() {
		if other.Name == p.Name {
			continue
		}
		if other.pended() {
			if prePended[other.Name] {
				e.slaDequeue(ctx, c.CaseID, other.PendWorkBasket)
			}
			other.PendWorkBasket = ""
			other.PendError = nil
		}
		other.Status = PathCompleted
		other.Step = EndStep
	}

	p.Step = target
	p.Status = PathStarted
	c.LastUnitExecuted = lastUnit{Name: node.Name, Component: node.Component}

	switch res.ticketResp {
	case ResponseOKPend, ResponseOKPendEOR, ResponseErrorPend:
		// The pend travels with the ticket: the path parks at the target
		// step and the target executes on resume.
		basket := res.ticketBasket
		if basket == "" {
			basket = e.opts.ErrorWorkBasket
		}
		p.PendWorkBasket = basket
		p.UnitResponseType = res.ticketResp
		p.PendError = res.ticketError
	default:
		p.PendWorkBasket = ""
		p.PendError = nil
		p.UnitResponseType = ResponseOKProceed
	}

	e.metrics.ticketRaised()
	e.emit(emit.Event{
		CaseID:   c.CaseID,
		PathName: p.Name,
		NodeID:   node.Name,
		Msg:      "ticket_raised",
		Meta: map[string]interface{}{
			"ticket": res.ticket,
			"target": target,
		},
	})

	return e.persistCase(ctx, c)
}
