package journey

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/voyantlabs/journey-go/journey/store"
)

// testComponents is a ComponentFactory backed by maps, recording every
// invocation as "component@path".
type testComponents struct {
	mu     sync.Mutex
	tasks  map[string]func(sc StepContext) (TaskResponse, error)
	routes map[string]func(sc StepContext) (RouteResponse, error)
	calls  []string
}

func newTestComponents() *testComponents {
	return &testComponents{
		tasks:  make(map[string]func(sc StepContext) (TaskResponse, error)),
		routes: make(map[string]func(sc StepContext) (RouteResponse, error)),
	}
}

func (tc *testComponents) onTask(name string, fn func(sc StepContext) (TaskResponse, error)) {
	tc.tasks[name] = fn
}

func (tc *testComponents) onRoute(name string, fn func(sc StepContext) (RouteResponse, error)) {
	tc.routes[name] = fn
}

// proceed registers pass-through tasks for every name.
func (tc *testComponents) proceed(names ...string) {
	for _, name := range names {
		tc.onTask(name, func(StepContext) (TaskResponse, error) {
			return TaskResponse{Type: ResponseOKProceed}, nil
		})
	}
}

func (tc *testComponents) record(sc StepContext) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.calls = append(tc.calls, sc.Component+"@"+sc.PathName)
}

func (tc *testComponents) callCount(component string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	n := 0
	for _, call := range tc.calls {
		if strings.HasPrefix(call, component+"@") {
			n++
		}
	}
	return n
}

func (tc *testComponents) allCalls() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]string, len(tc.calls))
	copy(out, tc.calls)
	return out
}

// Task implements ComponentFactory.
func (tc *testComponents) Task(sc StepContext) (InvokableTask, error) {
	tc.mu.Lock()
	fn, ok := tc.tasks[sc.Component]
	tc.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no task registered for component %s", sc.Component)
	}
	return TaskFunc(func(context.Context) (TaskResponse, error) {
		tc.record(sc)
		return fn(sc)
	}), nil
}

// Route implements ComponentFactory.
func (tc *testComponents) Route(sc StepContext) (InvokableRoute, error) {
	tc.mu.Lock()
	fn, ok := tc.routes[sc.Component]
	tc.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no route registered for component %s", sc.Component)
	}
	return RouteFunc(func(context.Context) (RouteResponse, error) {
		tc.record(sc)
		return fn(sc)
	}), nil
}

// newTestEngine builds an engine over an in-memory repository, driving
// path workers inline for determinism unless the caller overrides.
func newTestEngine(t *testing.T, tc *testComponents, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithMaxThreads(0)}, opts...)
	e, err := New(tc, store.NewMemRepository(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newTestEngineWithRepo(t *testing.T, tc *testComponents, repo store.Repository, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithMaxThreads(0)}, opts...)
	e, err := New(tc, repo, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func linearJourney() *Journey {
	return &Journey{
		Name: "linear",
		Flow: []Node{
			{Type: NodeTask, Name: "step1", Component: "comp1", Next: "step2"},
			{Type: NodeTask, Name: "step2", Component: "comp2", Next: "step3"},
			{Type: NodeTask, Name: "step3", Component: "comp3", Next: EndStep},
		},
	}
}

func pendJourney() *Journey {
	return &Journey{
		Name: "with-gate",
		Flow: []Node{
			{Type: NodeTask, Name: "step1", Component: "comp1", Next: "gate"},
			{Type: NodeTask, Name: "gate", Component: "gatekeeper", Next: "step3"},
			{Type: NodeTask, Name: "step3", Component: "comp3", Next: EndStep},
		},
	}
}

func parallelJourney() *Journey {
	return &Journey{
		Name: "parallel",
		Flow: []Node{
			{Type: NodeTask, Name: "start", Component: "comp_start", Next: "fork"},
			{Type: NodePRoute, Name: "fork", Component: "fork_route", Branches: []Branch{
				{Name: "a", Next: "work_a"},
				{Name: "b", Next: "work_b"},
				{Name: "c", Next: "work_c"},
			}},
			{Type: NodeTask, Name: "work_a", Component: "comp_a", Next: "join1"},
			{Type: NodeTask, Name: "work_b", Component: "comp_b", Next: "join1"},
			{Type: NodeTask, Name: "work_c", Component: "comp_c", Next: "join1"},
			{Type: NodeJoin, Name: "join1", Next: "final"},
			{Type: NodeTask, Name: "final", Component: "comp_final", Next: EndStep},
		},
	}
}

func ticketJourney() *Journey {
	return &Journey{
		Name: "with-ticket",
		Flow: []Node{
			{Type: NodeTask, Name: "start", Component: "comp_start", Next: "fork"},
			{Type: NodePRoute, Name: "fork", Component: "fork_route", Branches: []Branch{
				{Name: "a", Next: "work_a"},
				{Name: "b", Next: "work_b"},
			}},
			{Type: NodeTask, Name: "work_a", Component: "comp_a", Next: "join1"},
			{Type: NodeTask, Name: "work_b", Component: "comp_b", Next: "join1"},
			{Type: NodeJoin, Name: "join1", Next: "cleanup"},
			{Type: NodeTask, Name: "cleanup", Component: "comp_cleanup", Next: EndStep},
		},
		Tickets: []Ticket{{Name: "abort", Step: "cleanup"}},
	}
}

func pathByName(t *testing.T, cs *CaseState, name string) PathState {
	t.Helper()
	for _, p := range cs.Paths {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("path %s not found in case state (have %d paths)", name, len(cs.Paths))
	return PathState{}
}
