package journey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voyantlabs/journey-go/journey/emit"
)

// ErrorInfo codes the engine assigns when it manufactures a pend on the
// user's behalf.
const (
	errCodeUserError   = 100 // user component returned an error
	errCodeUserPanic   = 101 // user component panicked
	errCodeFactory     = 102 // component factory failed to resolve
	errCodeBadResponse = 103 // response violates the component contract
	errCodeBadTicket   = 104 // ticket not declared in the journey
)

// pathOutcome classifies why a path worker returned control to the drive
// loop.
type pathOutcome int

const (
	outcomeEnded pathOutcome = iota
	outcomePended
	outcomeFanout
	outcomeJoin
	outcomeTicket
	outcomeFailed
)

// pathResult is what one path worker hands back for reconciliation.
type pathResult struct {
	path    *ExecPath
	outcome pathOutcome
	gen     uint64

	// fan-out, join and ticket details
	node   *Node
	labels []string

	ticket       string
	ticketResp   ResponseType
	ticketBasket string
	ticketError  *ErrorInfo

	err error
}

// runPath advances one execution path node by node until it ends, pends,
// raises a ticket, or reaches a synchronization point the drive loop must
// resolve (fan-out, join). The worker is the sole writer of the path's
// fields while it runs; shared case state is touched only under c.mu.
func (e *Engine) runPath(ctx context.Context, c *caseState, p *ExecPath, gen uint64) *pathResult {
	res := &pathResult{path: p, gen: gen}
	e.metrics.pathStarted()
	defer e.metrics.pathFinished()

	for {
		if err := ctx.Err(); err != nil {
			res.outcome = outcomeFailed
			res.err = err
			return res
		}

		if p.Step == EndStep {
			c.mu.Lock()
			p.Status = PathCompleted
			var err error
			if e.opts.WriteProcessInfoAfterEachStep {
				err = e.persistCase(ctx, c)
			}
			c.mu.Unlock()
			if err != nil {
				res.outcome = outcomeFailed
				res.err = err
				return res
			}
			res.outcome = outcomeEnded
			return res
		}

		node, ok := c.Journey.node(p.Step)
		if !ok {
			res.outcome = outcomeFailed
			res.err = engineErr(CodeInvariantViolation,
				fmt.Sprintf("path %s references unknown step %q", p.Name, p.Step))
			return res
		}

		switch node.Type {
		case NodeJoin:
			res.outcome = outcomeJoin
			res.node = node
			return res

		case NodePersist:
			if err := e.advancePath(ctx, c, p, node, node.Next, true); err != nil {
				res.outcome = outcomeFailed
				res.err = err
				return res
			}
			e.emitSnapshot(c, p.Name)

		case NodePause:
			if err := e.pendPath(ctx, c, p, node, ResponseOKPend, PauseWorkBasket, nil, ""); err != nil {
				res.outcome = outcomeFailed
				res.err = err
				return res
			}
			res.outcome = outcomePended
			return res

		case NodeTask:
			resp := e.invokeTask(ctx, c, p, node)
			if resp.Ticket != "" {
				res.outcome = outcomeTicket
				res.node = node
				res.ticket = resp.Ticket
				res.ticketResp = resp.Type
				res.ticketBasket = resp.WorkBasket
				res.ticketError = resp.Error
				return res
			}
			pended, err := e.applyTaskResponse(ctx, c, p, node, resp)
			if err != nil {
				res.outcome = outcomeFailed
				res.err = err
				return res
			}
			if pended {
				res.outcome = outcomePended
				return res
			}

		case NodeSRoute, NodePRoute, NodePRouteDynamic:
			rresp := e.invokeRoute(ctx, c, p, node)
			if rresp.Ticket != "" {
				res.outcome = outcomeTicket
				res.node = node
				res.ticket = rresp.Ticket
				res.ticketResp = rresp.Type
				res.ticketBasket = rresp.WorkBasket
				res.ticketError = rresp.Error
				return res
			}
			if node.Type == NodeSRoute {
				pended, err := e.applySRoute(ctx, c, p, node, rresp)
				if err != nil {
					res.outcome = outcomeFailed
					res.err = err
					return res
				}
				if pended {
					res.outcome = outcomePended
					return res
				}
			} else {
				terminal, err := e.applyPRoute(ctx, c, p, node, rresp, res)
				if err != nil {
					res.outcome = outcomeFailed
					res.err = err
					return res
				}
				if terminal {
					return res
				}
			}

		default:
			res.outcome = outcomeFailed
			res.err = engineErr(CodeInvariantViolation,
				fmt.Sprintf("node %s has unknown type %q", node.Name, node.Type))
			return res
		}
	}
}

// applyTaskResponse records a normalized task response on the path.
// Returns true when the path pended.
func (e *Engine) applyTaskResponse(ctx context.Context, c *caseState, p *ExecPath, node *Node, resp TaskResponse) (bool, error) {
	switch resp.Type {
	case ResponseOKProceed:
		return false, e.advancePath(ctx, c, p, node, node.Next, false)
	case ResponseOKPend:
		return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, nil, "")
	case ResponseOKPendEOR:
		// Advance past the completed unit first; on resume the NEXT node
		// runs, never this one again.
		return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, nil, node.Next)
	case ResponseErrorPend:
		return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, resp.Error, "")
	default:
		return true, e.pendPath(ctx, c, p, node, ResponseErrorPend, e.opts.ErrorWorkBasket,
			&ErrorInfo{Code: errCodeBadResponse, Message: fmt.Sprintf("unknown response type %q", resp.Type)}, "")
	}
}

// applySRoute records a sequential route response. Returns true when the
// path pended.
func (e *Engine) applySRoute(ctx context.Context, c *caseState, p *ExecPath, node *Node, resp RouteResponse) (bool, error) {
	badResponse := func(msg string) (bool, error) {
		return true, e.pendPath(ctx, c, p, node, ResponseErrorPend, e.opts.ErrorWorkBasket,
			&ErrorInfo{Code: errCodeBadResponse, Message: msg}, "")
	}

	switch resp.Type {
	case ResponseOKPend:
		return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, nil, "")
	case ResponseErrorPend:
		return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, resp.Error, "")
	case ResponseOKProceed, ResponseOKPendEOR:
		if len(resp.Branches) != 1 {
			return badResponse(fmt.Sprintf("sequential route %s must select exactly one branch, got %d", node.Name, len(resp.Branches)))
		}
		b, ok := node.branch(resp.Branches[0])
		if !ok {
			return badResponse(fmt.Sprintf("sequential route %s selected undeclared branch %q", node.Name, resp.Branches[0]))
		}
		if resp.Type == ResponseOKPendEOR {
			return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, nil, b.Next)
		}
		return false, e.advancePath(ctx, c, p, node, b.Next, false)
	default:
		return badResponse(fmt.Sprintf("unknown response type %q", resp.Type))
	}
}

// applyPRoute records a parallel route response. Returns true when the
// worker is done with the path this round (pended or handing fan-out to
// the drive loop); an empty label set skips the fan-out entirely and the
// worker continues past the join.
func (e *Engine) applyPRoute(ctx context.Context, c *caseState, p *ExecPath, node *Node, resp RouteResponse, res *pathResult) (bool, error) {
	badResponse := func(msg string) (bool, error) {
		res.outcome = outcomePended
		return true, e.pendPath(ctx, c, p, node, ResponseErrorPend, e.opts.ErrorWorkBasket,
			&ErrorInfo{Code: errCodeBadResponse, Message: msg}, "")
	}

	switch resp.Type {
	case ResponseOKPend:
		res.outcome = outcomePended
		return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, nil, "")
	case ResponseErrorPend:
		res.outcome = outcomePended
		return true, e.pendPath(ctx, c, p, node, resp.Type, resp.WorkBasket, resp.Error, "")
	case ResponseOKPendEOR:
		return badResponse(fmt.Sprintf("parallel route %s cannot pend end-of-round", node.Name))
	case ResponseOKProceed:
		seen := make(map[string]bool, len(resp.Branches))
		for _, label := range resp.Branches {
			if label == "" {
				return badResponse(fmt.Sprintf("parallel route %s returned an empty branch label", node.Name))
			}
			if seen[label] {
				return badResponse(fmt.Sprintf("parallel route %s returned duplicate branch label %q", node.Name, label))
			}
			seen[label] = true
			if node.Type == NodePRoute {
				if _, ok := node.branch(label); !ok {
					return badResponse(fmt.Sprintf("parallel route %s returned undeclared branch %q", node.Name, label))
				}
			} else if containsSeparator(label, e.opts.PathSeparator) {
				return badResponse(fmt.Sprintf("parallel route %s returned branch label %q containing the path separator", node.Name, label))
			}
		}
		if len(resp.Branches) == 0 {
			// Nothing to fan out; step over the join.
			join, ok := c.Journey.node(node.join)
			if !ok {
				return false, engineErr(CodeInvariantViolation,
					fmt.Sprintf("route %s join %q does not resolve", node.Name, node.join))
			}
			return false, e.advancePath(ctx, c, p, node, join.Next, false)
		}
		res.outcome = outcomeFanout
		res.node = node
		res.labels = resp.Branches
		return true, nil
	default:
		return badResponse(fmt.Sprintf("unknown response type %q", resp.Type))
	}
}

// advancePath moves the path to next after a successful unit, snapshotting
// per the write policy. force writes regardless (PERSIST nodes).
func (e *Engine) advancePath(ctx context.Context, c *caseState, p *ExecPath, node *Node, next string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.Step = next
	p.UnitResponseType = ResponseOKProceed
	c.LastUnitExecuted = lastUnit{Name: node.Name, Component: node.Component}
	if force || e.opts.WriteProcessInfoAfterEachStep {
		return e.persistCase(ctx, c)
	}
	return nil
}

// pendPath parks the path in basket. A non-empty nextStep advances the
// path first (OK_PEND_EOR). Pends always snapshot; the basket state must
// survive a crash.
func (e *Engine) pendPath(ctx context.Context, c *caseState, p *ExecPath, node *Node, rt ResponseType, basket string, einfo *ErrorInfo, nextStep string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nextStep != "" {
		p.Step = nextStep
	}
	p.Status = PathStarted
	p.UnitResponseType = rt
	p.PendWorkBasket = basket
	p.PendError = einfo
	c.LastUnitExecuted = lastUnit{Name: node.Name, Component: node.Component}
	return e.persistCase(ctx, c)
}

// invokeTask resolves and runs the user task behind node, normalizing
// every failure mode (factory error, returned error, panic, contract
// violation) into a response the engine can act on.
func (e *Engine) invokeTask(ctx context.Context, c *caseState, p *ExecPath, node *Node) TaskResponse {
	sc := e.stepContext(c, p, node)
	e.fireEvent(EventStepEntry, EventDetail{CaseID: c.CaseID, PathName: p.Name, Component: node.Component})
	e.emitStep(c, p, node, "step_start", nil)

	start := time.Now()
	resp := func() (resp TaskResponse) {
		defer func() {
			if r := recover(); r != nil {
				resp = TaskResponse{Type: ResponseErrorPend, Error: &ErrorInfo{
					Code:    errCodeUserPanic,
					Message: fmt.Sprintf("task %s panicked", node.Component),
					Details: fmt.Sprint(r),
				}}
			}
		}()
		task, err := e.factory.Task(sc)
		if err != nil {
			return TaskResponse{Type: ResponseErrorPend, Error: &ErrorInfo{
				Code:    errCodeFactory,
				Message: fmt.Sprintf("failed to resolve task %s", node.Component),
				Details: err.Error(),
			}}
		}
		r, err := task.ExecuteStep(ctx)
		if err != nil {
			return TaskResponse{Type: ResponseErrorPend, Error: &ErrorInfo{
				Code:      errCodeUserError,
				Message:   fmt.Sprintf("task %s failed", node.Component),
				Details:   err.Error(),
				Retryable: true,
			}}
		}
		return r
	}()
	elapsed := time.Since(start)

	resp.Type, resp.WorkBasket, resp.Error = e.normalizeResponse(resp.Type, resp.WorkBasket, resp.Error)
	e.metrics.observeStep(node.Type, string(resp.Type), elapsed)
	e.emitStep(c, p, node, "step_end", map[string]interface{}{
		"response":    string(resp.Type),
		"duration_ms": elapsed.Milliseconds(),
	})
	e.fireEvent(EventStepExit, EventDetail{CaseID: c.CaseID, PathName: p.Name, Component: node.Component})
	return resp
}

// invokeRoute is invokeTask's counterpart for route nodes.
func (e *Engine) invokeRoute(ctx context.Context, c *caseState, p *ExecPath, node *Node) RouteResponse {
	sc := e.stepContext(c, p, node)
	e.fireEvent(EventStepEntry, EventDetail{CaseID: c.CaseID, PathName: p.Name, Component: node.Component})
	e.emitStep(c, p, node, "step_start", nil)

	start := time.Now()
	resp := func() (resp RouteResponse) {
		defer func() {
			if r := recover(); r != nil {
				resp = RouteResponse{Type: ResponseErrorPend, Error: &ErrorInfo{
					Code:    errCodeUserPanic,
					Message: fmt.Sprintf("route %s panicked", node.Component),
					Details: fmt.Sprint(r),
				}}
			}
		}()
		route, err := e.factory.Route(sc)
		if err != nil {
			return RouteResponse{Type: ResponseErrorPend, Error: &ErrorInfo{
				Code:    errCodeFactory,
				Message: fmt.Sprintf("failed to resolve route %s", node.Component),
				Details: err.Error(),
			}}
		}
		r, err := route.ExecuteRoute(ctx)
		if err != nil {
			return RouteResponse{Type: ResponseErrorPend, Error: &ErrorInfo{
				Code:      errCodeUserError,
				Message:   fmt.Sprintf("route %s failed", node.Component),
				Details:   err.Error(),
				Retryable: true,
			}}
		}
		return r
	}()
	elapsed := time.Since(start)

	resp.Type, resp.WorkBasket, resp.Error = e.normalizeResponse(resp.Type, resp.WorkBasket, resp.Error)
	e.metrics.observeStep(node.Type, string(resp.Type), elapsed)
	e.emitStep(c, p, node, "step_end", map[string]interface{}{
		"response":    string(resp.Type),
		"duration_ms": elapsed.Milliseconds(),
	})
	e.fireEvent(EventStepExit, EventDetail{CaseID: c.CaseID, PathName: p.Name, Component: node.Component})
	return resp
}

// normalizeResponse enforces the response contract shared by tasks and
// routes: an empty type means proceed, pends must name a basket, and
// ERROR_PEND always carries an ErrorInfo.
func (e *Engine) normalizeResponse(rt ResponseType, basket string, einfo *ErrorInfo) (ResponseType, string, *ErrorInfo) {
	if rt == "" {
		rt = ResponseOKProceed
	}
	switch rt {
	case ResponseOKPend, ResponseOKPendEOR:
		if basket == "" {
			return ResponseErrorPend, e.opts.ErrorWorkBasket,
				&ErrorInfo{Code: errCodeBadResponse, Message: "pend response names no work basket"}
		}
	case ResponseErrorPend:
		if basket == "" {
			basket = e.opts.ErrorWorkBasket
		}
		if einfo == nil {
			einfo = &ErrorInfo{Code: errCodeUserError, Message: "component reported an error", Retryable: true}
		}
	}
	return rt, basket, einfo
}

func (e *Engine) stepContext(c *caseState, p *ExecPath, node *Node) StepContext {
	return StepContext{
		CaseID:    c.CaseID,
		PathName:  p.Name,
		NodeName:  node.Name,
		Component: node.Component,
		NodeType:  node.Type,
		UserData:  node.UserData,
		Variables: c.Variables,
	}
}

func (e *Engine) emitStep(c *caseState, p *ExecPath, node *Node, msg string, meta map[string]interface{}) {
	e.emit(emit.Event{
		CaseID:   c.CaseID,
		PathName: p.Name,
		NodeID:   node.Name,
		Msg:      msg,
		Meta:     meta,
	})
}

func containsSeparator(label, sep string) bool {
	return sep != "" && strings.Contains(label, sep)
}
