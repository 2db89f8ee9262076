package journey

import (
	"context"
	"fmt"

	"github.com/voyantlabs/journey-go/journey/emit"
)

// applyFanout creates one child path per label returned by a parallel
// route and parks the parent. The parent comes back to life when the
// join consumes the children. Runs on the drive goroutine with no
// workers active.
func (e *Engine) applyFanout(ctx context.Context, c *caseState, res *pathResult) error {
	p, node := res.path, res.node
	c.mu.Lock()
	defer c.mu.Unlock()

	p.Status = PathCompleted
	p.UnitResponseType = ResponseOKProceed
	c.LastUnitExecuted = lastUnit{Name: node.Name, Component: node.Component}

	for _, label := range res.labels {
		start := node.Next
		if node.Type == NodePRoute {
			// Label declared; the worker validated the response.
			b, _ := node.branch(label)
			start = b.Next
		}
		c.addPath(&ExecPath{
			Name:   childName(p.Name, e.opts.PathSeparator, label),
			Status: PathStarted,
			Step:   start,
		})
	}

	e.emit(emit.Event{
		CaseID:   c.CaseID,
		PathName: p.Name,
		NodeID:   node.Name,
		Msg:      "paths_forked",
		Meta:     map[string]interface{}{"labels": res.labels},
	})

	if e.opts.WriteProcessInfoAfterEachStep {
		return e.persistCase(ctx, c)
	}
	return nil
}

// applyJoin records one child's arrival at its join node and, when it is
// the last of its siblings to arrive, consumes the join: the children
// end and the parent resumes past the join. Arrival is derived purely
// from the path tree; no expected-arrival count is persisted, so a
// recovered case re-derives the same answer.
func (e *Engine) applyJoin(ctx context.Context, c *caseState, res *pathResult) error {
	p, join := res.path, res.node
	c.mu.Lock()
	defer c.mu.Unlock()

	p.Status = PathCompleted
	p.UnitResponseType = ResponseOKProceed

	parent := parentName(p.Name, e.opts.PathSeparator)
	if parent == "" {
		return engineErr(CodeInvariantViolation,
			fmt.Sprintf("path %s reached join %s outside any fan-out", p.Name, join.Name))
	}
	par := c.path(parent)
	if par == nil {
		return engineErr(CodeInvariantViolation,
			fmt.Sprintf("path %s has no recorded parent %s", p.Name, parent))
	}

	siblings := c.children(parent, e.opts.PathSeparator)
	for _, sib := range siblings {
		if sib.Status != PathCompleted || sib.Step != join.Name {
			// Not everyone is here yet.
			if e.opts.WriteProcessInfoAfterEachStep {
				return e.persistCase(ctx, c)
			}
			return nil
		}
	}

	for _, sib := range siblings {
		sib.Step = EndStep
	}
	par.Step = join.Next
	par.Status = PathStarted
	par.UnitResponseType = ResponseOKProceed
	c.LastUnitExecuted = lastUnit{Name: join.Name}

	e.emit(emit.Event{
		CaseID:   c.CaseID,
		PathName: parent,
		NodeID:   join.Name,
		Msg:      "paths_joined",
		Meta:     map[string]interface{}{"children": len(siblings)},
	})

	if e.opts.WriteProcessInfoAfterEachStep {
		return e.persistCase(ctx, c)
	}
	return nil
}
