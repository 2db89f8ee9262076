package journey

import "context"

// StepContext carries everything a user component may need about the unit
// it is being invoked for. The Variables table is shared across the whole
// case and safe for concurrent use from sibling paths.
type StepContext struct {
	CaseID    string
	PathName  string
	NodeName  string
	Component string
	NodeType  NodeType
	UserData  string
	Variables *Variables
}

// TaskResponse is the outcome of a user task invocation.
//
// Type decides what the engine does next (see ResponseType). A non-empty
// Ticket pre-empts normal flow for the whole case and may accompany any
// response type. WorkBasket names the basket for the pend response types;
// Error carries pend details for ResponseErrorPend.
type TaskResponse struct {
	Type       ResponseType
	Ticket     string
	WorkBasket string
	Error      *ErrorInfo
}

// RouteResponse is the outcome of a user route invocation.
//
// For sequential routes Branches must contain exactly one declared label.
// For parallel routes every label fans out into a child path; a dynamic
// parallel route may return labels that are not declared in the journey.
type RouteResponse struct {
	Type       ResponseType
	Branches   []string
	Ticket     string
	WorkBasket string
	Error      *ErrorInfo
}

// InvokableTask is the engine's view of a user task component.
//
// ExecuteStep runs the business logic for one task node. Returning an
// error (or panicking) does not fail the case: the engine wraps it into
// an ERROR_PEND at the configured error basket and the case pends.
type InvokableTask interface {
	ExecuteStep(ctx context.Context) (TaskResponse, error)
}

// InvokableRoute is the engine's view of a user route component.
type InvokableRoute interface {
	ExecuteRoute(ctx context.Context) (RouteResponse, error)
}

// TaskFunc adapts a plain function to InvokableTask.
type TaskFunc func(ctx context.Context) (TaskResponse, error)

// ExecuteStep implements InvokableTask.
func (f TaskFunc) ExecuteStep(ctx context.Context) (TaskResponse, error) {
	return f(ctx)
}

// RouteFunc adapts a plain function to InvokableRoute.
type RouteFunc func(ctx context.Context) (RouteResponse, error)

// ExecuteRoute implements InvokableRoute.
func (f RouteFunc) ExecuteRoute(ctx context.Context) (RouteResponse, error) {
	return f(ctx)
}

// ComponentFactory supplies the user components behind a journey's task
// and route nodes. The engine calls it once per invocation with a fully
// populated StepContext; PAUSE, PERSIST and P_JOIN nodes never reach the
// factory.
//
// Factories must be safe for concurrent use: sibling paths of one case
// and paths of different cases resolve components in parallel.
type ComponentFactory interface {
	// Task returns the invokable for a TASK node.
	Task(sc StepContext) (InvokableTask, error)

	// Route returns the invokable for an S_ROUTE, P_ROUTE or
	// P_ROUTE_DYNAMIC node.
	Route(sc StepContext) (InvokableRoute, error)
}

// FactoryFuncs is a ComponentFactory built from two functions, convenient
// for tests and small hosts.
type FactoryFuncs struct {
	TaskFn  func(sc StepContext) (InvokableTask, error)
	RouteFn func(sc StepContext) (InvokableRoute, error)
}

// Task implements ComponentFactory.
func (f FactoryFuncs) Task(sc StepContext) (InvokableTask, error) {
	return f.TaskFn(sc)
}

// Route implements ComponentFactory.
func (f FactoryFuncs) Route(sc StepContext) (InvokableRoute, error) {
	return f.RouteFn(sc)
}
