package journey

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/voyantlabs/journey-go/journey/emit"
	"github.com/voyantlabs/journey-go/journey/store"
)

// Engine drives cases through journey definitions.
//
// The engine is stateless between operations: every StartCase,
// ResumeCase and ChangeWorkBasket loads the case from the document
// repository, drives it to its next moment of quiescence (pend or
// completion) and persists it back. All state a host needs to survive a
// restart lives in the repository.
//
// An Engine is safe for concurrent use. Operations on the same case are
// serialized by a per-case lock; operations on different cases run in
// parallel, sharing one bounded worker pool.
//
// Example:
//
//	repo, err := store.NewSQLiteRepository("./cases.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
//	engine, err := journey.New(factory, repo,
//	    journey.WithMaxThreads(8),
//	    journey.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	state, err := engine.StartCase(ctx, "order-1001", jny, nil, nil)
type Engine struct {
	factory ComponentFactory
	repo    store.Repository
	opts    Options
	emitter emit.Emitter
	handler EventHandler
	sla     SLACollaborator
	metrics *PrometheusMetrics
	pool    *workerPool

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed bool
}

// New creates an engine over the given component factory and document
// repository.
func New(factory ComponentFactory, repo store.Repository, opts ...Option) (*Engine, error) {
	if factory == nil {
		return nil, engineErr(CodeInvariantViolation, "component factory is required")
	}
	if repo == nil {
		return nil, engineErr(CodeInvariantViolation, "document repository is required")
	}

	cfg := &engineConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.maxThreadsSet {
		cfg.opts.MaxThreads = DefaultMaxThreads
	}
	if !cfg.eachStepSet {
		cfg.opts.WriteProcessInfoAfterEachStep = true
	}
	if cfg.opts.IdleTimeout == 0 {
		cfg.opts.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.opts.PathSeparator == "" {
		cfg.opts.PathSeparator = DefaultPathSeparator
	}
	if cfg.opts.ErrorWorkBasket == "" {
		cfg.opts.ErrorWorkBasket = DefaultErrorWorkBasket
	}

	e := &Engine{
		factory: factory,
		repo:    repo,
		opts:    cfg.opts,
		emitter: cfg.emitter,
		handler: cfg.handler,
		sla:     cfg.sla,
		metrics: cfg.metrics,
		locks:   make(map[string]*sync.Mutex),
	}
	if e.opts.MaxThreads > 0 {
		e.pool = newWorkerPool(e.opts.MaxThreads, e.opts.IdleTimeout)
	}
	return e, nil
}

// StartCase creates a new case over jny and drives it until it pends or
// completes. initial variables override the journey's declared defaults;
// milestones arm the SLA protocol for the case's lifetime.
//
// The case id must be unique across live cases (CASE_ALREADY_EXISTS
// otherwise). The returned state is the case at its first moment of
// quiescence.
func (e *Engine) StartCase(ctx context.Context, caseID string, jny *Journey, initial []Variable, milestones []Milestone) (*CaseState, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	if caseID == "" {
		return nil, engineErr(CodeInvariantViolation, "case id is empty")
	}
	if jny == nil {
		return nil, engineErr(CodeDefinitionInvalid, "journey is nil")
	}
	if err := jny.Validate(e.opts.PathSeparator); err != nil {
		return nil, err
	}

	unlock := e.lockCase(caseID)
	defer unlock()

	if _, err := e.repo.Get(ctx, e.processInfoKey(caseID)); err == nil {
		return nil, engineErr(CodeCaseAlreadyExists, "a case already exists with id "+caseID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, engineErrWrap(CodePersistFailed, "failed to probe for case "+caseID, err)
	}

	c := newCaseState(caseID, jny, initial, milestones)
	if err := e.persistJourney(ctx, caseID, jny); err != nil {
		return nil, err
	}
	c.mu.Lock()
	err := e.persistCase(ctx, c)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.emit(emit.Event{CaseID: caseID, PathName: RootPathName, Msg: "case_started",
		Meta: map[string]interface{}{"journey": jny.Name}})
	e.fireEvent(EventProcessStart, EventDetail{CaseID: caseID, PathName: RootPathName})
	e.slaEnqueue(ctx, c, SetupOnCaseStart, "")

	if err := e.drive(ctx, c, nil); err != nil {
		return nil, err
	}
	return c.view(), nil
}

// ResumeCase releases the case's pended path and drives the case until it
// pends again or completes. Only the path recorded as the pending path is
// released; sibling pends stay parked in their baskets.
//
// A case whose snapshot holds no pend (a crash mid-drive) is recovered:
// its in-flight paths re-execute from their snapshotted steps.
func (e *Engine) ResumeCase(ctx context.Context, caseID string) (*CaseState, error) {
	if err := e.live(); err != nil {
		return nil, err
	}

	unlock := e.lockCase(caseID)
	defer unlock()

	c, err := e.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.IsComplete {
		return nil, engineErr(CodeCaseAlreadyComplete, "case "+caseID+" is already complete")
	}

	p := c.path(c.PendExecPath)
	if p == nil || !p.pended() {
		if pended := c.pendedPaths(); len(pended) > 0 {
			p = pended[0]
		} else {
			p = nil
		}
	}
	if p == nil && len(c.runnablePaths()) == 0 {
		return nil, engineErr(CodeCaseNotPended, "case "+caseID+" has nothing to resume")
	}

	var released, basket string
	if p != nil {
		basket = p.PendWorkBasket
		released = p.Name
		c.mu.Lock()
		p.PrevPendWorkBasket = basket
		p.PendWorkBasket = ""
		p.PendError = nil
		if n, ok := c.Journey.node(p.Step); ok && n.Type == NodePause {
			// A pause holds its step while pended; the actual advance
			// happens here.
			p.Step = n.Next
			p.UnitResponseType = ResponseOKProceed
		}
		c.PendExecPath = ""
		err = e.persistCase(ctx, c)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		e.slaDequeue(ctx, caseID, basket)
	}

	e.emit(emit.Event{CaseID: caseID, PathName: released, Msg: "case_resumed",
		Meta: map[string]interface{}{"work_basket": basket}})
	e.fireEvent(EventProcessResume, EventDetail{CaseID: caseID, PathName: released, WorkBasket: basket})

	prePended := make(map[string]bool)
	for _, pp := range c.pendedPaths() {
		prePended[pp.Name] = true
	}
	if err := e.drive(ctx, c, prePended); err != nil {
		return nil, err
	}
	return c.view(), nil
}

// ChangeWorkBasket moves the case's single pended path to a different
// work basket without releasing it, following the SLA notifier protocol:
// the move is staged and persisted before the collaborator hears about
// it, so a crash between the two notifications is recoverable from the
// staging field. Moving to the basket the path is already in is a no-op.
func (e *Engine) ChangeWorkBasket(ctx context.Context, caseID, newBasket string) (*CaseState, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	if newBasket == "" {
		return nil, engineErr(CodeInvariantViolation, "work basket name is empty")
	}

	unlock := e.lockCase(caseID)
	defer unlock()

	c, err := e.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.IsComplete {
		return nil, engineErr(CodeCaseAlreadyComplete, "case "+caseID+" is already complete")
	}
	pended := c.pendedPaths()
	if len(pended) != 1 {
		return nil, engineErr(CodeCaseNotPended, "changing the work basket requires exactly one pended path")
	}
	p := pended[0]
	old := p.PendWorkBasket
	if old == newBasket {
		return c.view(), nil
	}

	c.mu.Lock()
	p.TbcSLAWorkBasket = newBasket
	err = e.persistCase(ctx, c)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.slaDequeue(ctx, caseID, old)
	e.slaEnqueue(ctx, c, SetupOnWorkBasketEntry, newBasket)

	c.mu.Lock()
	p.PrevPendWorkBasket = old
	p.PendWorkBasket = newBasket
	p.TbcSLAWorkBasket = ""
	c.PendExecPath = p.Name
	err = e.persistCase(ctx, c)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.emit(emit.Event{CaseID: caseID, PathName: p.Name, Msg: "work_basket_changed",
		Meta: map[string]interface{}{"from": old, "to": newBasket}})
	return c.view(), nil
}

// Close stops accepting operations and waits up to IdleTimeout for the
// worker pool to drain. Cases caught mid-drive recover from their last
// snapshot on the next ResumeCase.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.pool != nil {
		return e.pool.close(e.opts.IdleTimeout)
	}
	return nil
}

// drive is the execute-reconcile loop: run every runnable path to its
// next quiescent outcome, reconcile the outcomes in lexicographic path
// order, and repeat until the case pends or completes. prePended names
// paths already parked when the operation began, so settle can tell new
// pends from old ones.
func (e *Engine) drive(ctx context.Context, c *caseState, prePended map[string]bool) error {
	for {
		runnable := c.runnablePaths()
		if len(runnable) == 0 {
			break
		}

		gen := c.generation
		results := make([]*pathResult, len(runnable))

		// Status changes happen under the case lock: once the first worker
		// is submitted it may snapshot the whole case at any moment.
		c.mu.Lock()
		for _, p := range runnable {
			p.Status = PathRunning
		}
		c.mu.Unlock()

		var wg sync.WaitGroup
		var submitErr error
		for i, p := range runnable {
			i, p := i, p
			job := func() {
				defer wg.Done()
				results[i] = e.runPath(ctx, c, p, gen)
			}
			wg.Add(1)
			if e.pool == nil {
				job()
				continue
			}
			if err := e.pool.submit(ctx, job); err != nil {
				wg.Done()
				submitErr = err
				break
			}
			e.metrics.setQueueDepth(e.pool.depth())
		}
		wg.Wait()
		if e.pool != nil {
			e.metrics.setQueueDepth(e.pool.depth())
		}

		done := make([]*pathResult, 0, len(results))
		for _, r := range results {
			if r != nil {
				done = append(done, r)
			}
		}
		sort.Slice(done, func(i, j int) bool { return done[i].path.Name < done[j].path.Name })

		// A ticket pre-empts everything else this round.
		var ticketRes *pathResult
		for _, r := range done {
			if r.outcome == outcomeTicket {
				ticketRes = r
				break
			}
		}
		if ticketRes != nil {
			if err := e.applyTicket(ctx, c, ticketRes, prePended); err != nil {
				return err
			}
		} else {
			for _, r := range done {
				if r.gen != c.generation {
					continue
				}
				switch r.outcome {
				case outcomeFailed:
					return r.err
				case outcomeFanout:
					if err := e.applyFanout(ctx, c, r); err != nil {
						return err
					}
				case outcomeJoin:
					if err := e.applyJoin(ctx, c, r); err != nil {
						return err
					}
				}
			}
		}

		c.mu.Lock()
		for _, p := range runnable {
			if p.Status == PathRunning {
				p.Status = PathStarted
			}
		}
		c.mu.Unlock()

		if submitErr != nil {
			e.metrics.saturated()
			if errors.Is(submitErr, ErrExecutorSaturated) {
				return engineErrWrap(CodeExecutorSaturated,
					"could not schedule path workers for case "+c.CaseID, submitErr)
			}
			return submitErr
		}

		// A pend ends the drive even while sibling paths remain runnable;
		// they continue after the next resume.
		if len(c.pendedPaths()) > 0 {
			break
		}
	}
	return e.settle(ctx, c, prePended)
}

// settle finalizes the quiescent case: either completion bookkeeping or
// pend bookkeeping (pending-path election, SLA enqueues, host callback).
func (e *Engine) settle(ctx context.Context, c *caseState, prePended map[string]bool) error {
	if c.complete() {
		c.mu.Lock()
		c.IsComplete = true
		c.PendExecPath = ""
		err := e.persistCase(ctx, c)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		e.slaDequeueAll(ctx, c.CaseID)
		if err := e.repo.Delete(ctx, e.counterKey(c.CaseID)); err != nil {
			e.emit(emit.Event{CaseID: c.CaseID, Msg: "counter_cleanup_failed",
				Meta: map[string]interface{}{"error": err.Error()}})
		}
		e.metrics.caseCompleted()
		e.emit(emit.Event{CaseID: c.CaseID, Msg: "case_completed"})
		e.fireEvent(EventProcessComplete, EventDetail{CaseID: c.CaseID, PathName: RootPathName})
		return nil
	}

	pended := c.pendedPaths()
	if len(pended) == 0 {
		return engineErr(CodeInvariantViolation,
			"case "+c.CaseID+" stalled with no runnable, pended or completed work")
	}

	// The pending path is the first newly pended one; if this round only
	// re-exposed old pends, the first of those.
	target := pended[0]
	for _, p := range pended {
		if !prePended[p.Name] {
			target = p
			break
		}
	}

	c.mu.Lock()
	c.PendExecPath = target.Name
	err := e.persistCase(ctx, c)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	for _, p := range pended {
		if prePended[p.Name] {
			continue
		}
		e.slaEnqueue(ctx, c, SetupOnWorkBasketEntry, p.PendWorkBasket)
		e.metrics.pendRecorded(p.PendWorkBasket)
	}

	component := ""
	if n, ok := c.Journey.node(target.Step); ok {
		component = n.Component
	}
	e.emit(emit.Event{CaseID: c.CaseID, PathName: target.Name, NodeID: target.Step, Msg: "case_pended",
		Meta: map[string]interface{}{"work_basket": target.PendWorkBasket}})
	e.fireEvent(EventProcessPend, EventDetail{
		CaseID:         c.CaseID,
		PathName:       target.Name,
		Component:      component,
		WorkBasket:     target.PendWorkBasket,
		PendAtSameStep: target.PendWorkBasket == target.PrevPendWorkBasket,
	})
	return nil
}

func (e *Engine) live() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engineErrWrap(CodeEngineClosed, "engine is closed", ErrEngineClosed)
	}
	return nil
}

// lockCase serializes operations per case. Lock entries are retained for
// the engine's lifetime; a mutex per case id ever touched is a few dozen
// bytes, which beats the bookkeeping of safe removal.
func (e *Engine) lockCase(caseID string) func() {
	e.mu.Lock()
	l, ok := e.locks[caseID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[caseID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}
