package journey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RootPathName is the name of the execution path every case starts with.
// Children forked from a path P on branch label L are named P + sep + L,
// so the whole lineage tree is encoded in the flat name space.
const RootPathName = "."

// PauseWorkBasket is the reserved basket a PAUSE node parks its path in.
const PauseWorkBasket = "workflow_pause"

// PathStatus is the lifecycle state of an execution path.
type PathStatus string

const (
	// PathStarted means the path is runnable (or parked in a basket).
	PathStarted PathStatus = "started"

	// PathRunning means a worker is currently advancing the path. A path
	// found running in a recovered snapshot is reclassified to started.
	PathRunning PathStatus = "running"

	// PathCompleted means the path will not advance again.
	PathCompleted PathStatus = "completed"
)

// ResponseType classifies the step/route response that produced a path's
// current state.
type ResponseType string

const (
	// ResponseOKProceed moves the path to the node's next step.
	ResponseOKProceed ResponseType = "OK_PROCEED"

	// ResponseOKPend parks the path at a work basket. The step is
	// re-invoked on resume.
	ResponseOKPend ResponseType = "OK_PEND"

	// ResponseOKPendEOR advances the path to the node's next step and
	// then parks it (End-Of-Round). The step is NOT re-invoked on
	// resume: the persistence window sits after the user side effect,
	// so steps returning this must be idempotent.
	ResponseOKPendEOR ResponseType = "OK_PEND_EOR"

	// ResponseErrorPend parks the path at an error basket with a
	// populated ErrorInfo. The step is re-invoked on resume.
	ResponseErrorPend ResponseType = "ERROR_PEND"
)

// ErrorInfo describes a pend-level error recorded on a path.
type ErrorInfo struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e ErrorInfo) String() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// ExecPath is one strand of forward progress within a case.
//
// Fields are owned by exactly one writer at a time: the single worker
// advancing the path while it is running, otherwise the drive loop under
// the case lock. Once Status is PathCompleted no field mutates.
type ExecPath struct {
	Name               string
	Status             PathStatus
	Step               string
	PendWorkBasket     string
	PrevPendWorkBasket string
	TbcSLAWorkBasket   string
	PendError          *ErrorInfo
	UnitResponseType   ResponseType
	Ticket             string
}

// pended reports whether the path is parked in a work basket.
func (p *ExecPath) pended() bool {
	return p.PendWorkBasket != ""
}

// runnable reports whether the drive loop should hand the path to a
// worker.
func (p *ExecPath) runnable() bool {
	return p.Status == PathStarted && !p.pended() && p.Step != EndStep
}

// parentName derives the parent path name by stripping the last
// separator-delimited segment. The root path has no parent.
func parentName(name, sep string) string {
	idx := strings.LastIndex(name, sep)
	if idx <= 0 {
		return ""
	}
	if idx == 1 && strings.HasPrefix(name, RootPathName) {
		return RootPathName
	}
	return name[:idx]
}

// childName builds the name of a child forked from parent on label.
func childName(parent, sep, label string) string {
	return parent + sep + label
}

// lastUnit records the most recently executed unit for audit.
type lastUnit struct {
	Name      string
	Component string
}

// Variables is the ordered, concurrency-safe variable table of a case.
// User steps read and write it through the StepContext while sibling
// paths execute in parallel.
type Variables struct {
	mu    sync.RWMutex
	order []string
	vals  map[string]Variable
}

func newVariables(defaults []Variable) *Variables {
	v := &Variables{vals: make(map[string]Variable, len(defaults))}
	for _, d := range defaults {
		v.set(d)
	}
	return v
}

func (v *Variables) set(nv Variable) {
	if _, exists := v.vals[nv.Name]; !exists {
		v.order = append(v.order, nv.Name)
	}
	v.vals[nv.Name] = nv
}

// Get returns the variable by name.
func (v *Variables) Get(name string) (Variable, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	nv, ok := v.vals[name]
	return nv, ok
}

// GetString returns a string variable. A missing variable or a type
// mismatch is an error, never a coercion.
func (v *Variables) GetString(name string) (string, error) {
	nv, err := v.typed(name, VarString)
	if err != nil {
		return "", err
	}
	s, ok := nv.Value.(string)
	if !ok {
		return "", fmt.Errorf("variable %s does not hold a string", name)
	}
	return s, nil
}

// GetLong returns a long (int64) variable.
func (v *Variables) GetLong(name string) (int64, error) {
	nv, err := v.typed(name, VarLong)
	if err != nil {
		return 0, err
	}
	return toInt64(name, nv.Value)
}

// GetInt returns an integer (int32 range) variable.
func (v *Variables) GetInt(name string) (int, error) {
	nv, err := v.typed(name, VarInteger)
	if err != nil {
		return 0, err
	}
	n, err := toInt64(name, nv.Value)
	return int(n), err
}

// GetBool returns a boolean variable.
func (v *Variables) GetBool(name string) (bool, error) {
	nv, err := v.typed(name, VarBoolean)
	if err != nil {
		return false, err
	}
	b, ok := nv.Value.(bool)
	if !ok {
		return false, fmt.Errorf("variable %s does not hold a boolean", name)
	}
	return b, nil
}

// SetString stores a string variable, creating it if absent.
func (v *Variables) SetString(name, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.set(Variable{Name: name, Type: VarString, Value: value})
}

// SetLong stores a long variable, creating it if absent.
func (v *Variables) SetLong(name string, value int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.set(Variable{Name: name, Type: VarLong, Value: value})
}

// SetInt stores an integer variable, creating it if absent.
func (v *Variables) SetInt(name string, value int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.set(Variable{Name: name, Type: VarInteger, Value: value})
}

// SetBool stores a boolean variable, creating it if absent.
func (v *Variables) SetBool(name string, value bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.set(Variable{Name: name, Type: VarBoolean, Value: value})
}

func (v *Variables) typed(name string, want VarType) (Variable, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	nv, ok := v.vals[name]
	if !ok {
		return Variable{}, fmt.Errorf("variable %s not defined", name)
	}
	if nv.Type != want {
		return Variable{}, fmt.Errorf("variable %s is %s, not %s", name, nv.Type, want)
	}
	return nv, nil
}

// snapshot returns the variables in declaration order.
func (v *Variables) snapshot() []Variable {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Variable, 0, len(v.order))
	for _, name := range v.order {
		out = append(out, v.vals[name])
	}
	return out
}

func toInt64(name string, value any) (int64, error) {
	switch n := value.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		// JSON round-trips land here.
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("variable %s does not hold a number: %w", name, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("variable %s does not hold a number", name)
	}
}

// caseState is the in-memory representation of a running case. It is
// exclusively owned by whichever engine operation holds the case-level
// lock; its internal mutex additionally serializes path-field writes by
// concurrent workers against snapshot building.
type caseState struct {
	mu sync.Mutex

	CaseID    string
	Journey   *Journey
	Variables *Variables

	paths map[string]*ExecPath

	PendExecPath     string
	Ticket           string
	LastUnitExecuted lastUnit
	IsComplete       bool
	Milestones       []Milestone

	// generation increments when a ticket cancels sibling paths; worker
	// results stamped with an older generation are discarded.
	generation uint64
}

func newCaseState(caseID string, jny *Journey, initial []Variable, milestones []Milestone) *caseState {
	vars := newVariables(jny.Variables)
	for _, v := range initial {
		vars.mu.Lock()
		vars.set(v)
		vars.mu.Unlock()
	}
	c := &caseState{
		CaseID:     caseID,
		Journey:    jny,
		Variables:  vars,
		paths:      make(map[string]*ExecPath),
		Milestones: milestones,
	}
	c.paths[RootPathName] = &ExecPath{
		Name:   RootPathName,
		Status: PathStarted,
		Step:   jny.firstNode().Name,
	}
	return c
}

func (c *caseState) path(name string) *ExecPath {
	return c.paths[name]
}

func (c *caseState) addPath(p *ExecPath) {
	c.paths[p.Name] = p
}

// sortedPaths returns all paths in lexicographic name order. The drive
// loop reconciles in this order so outcomes do not depend on goroutine
// completion order.
func (c *caseState) sortedPaths() []*ExecPath {
	names := make([]string, 0, len(c.paths))
	for name := range c.paths {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*ExecPath, 0, len(names))
	for _, name := range names {
		out = append(out, c.paths[name])
	}
	return out
}

func (c *caseState) runnablePaths() []*ExecPath {
	var out []*ExecPath
	for _, p := range c.sortedPaths() {
		if p.runnable() {
			out = append(out, p)
		}
	}
	return out
}

func (c *caseState) pendedPaths() []*ExecPath {
	var out []*ExecPath
	for _, p := range c.sortedPaths() {
		if p.pended() {
			out = append(out, p)
		}
	}
	return out
}

// children returns the direct children of parent, lexicographically
// ordered.
func (c *caseState) children(parent, sep string) []*ExecPath {
	var out []*ExecPath
	for _, p := range c.sortedPaths() {
		if p.Name != parent && parentName(p.Name, sep) == parent {
			out = append(out, p)
		}
	}
	return out
}

// complete reports whether every path has finished all its work.
func (c *caseState) complete() bool {
	for _, p := range c.paths {
		if p.Step != EndStep || p.Status != PathCompleted {
			return false
		}
	}
	return len(c.paths) > 0
}

// checkInvariants re-validates structural invariants on a snapshot loaded
// from the repository. A ticket may legitimately have cancelled a parent,
// so prefix-closure is only enforced on ticket-free cases.
func (c *caseState) checkInvariants(sep string) error {
	if _, ok := c.paths[RootPathName]; !ok {
		return engineErr(CodeInvariantViolation, "root execution path missing from snapshot")
	}
	if c.Ticket != "" {
		return nil
	}
	for name := range c.paths {
		parent := parentName(name, sep)
		if parent == "" {
			continue
		}
		if _, ok := c.paths[parent]; !ok {
			return engineErr(CodeInvariantViolation,
				fmt.Sprintf("path %s has no recorded parent %s", name, parent))
		}
	}
	return nil
}

// PathState is the externally visible view of one execution path.
type PathState struct {
	Name               string
	Status             PathStatus
	Step               string
	PendWorkBasket     string
	PrevPendWorkBasket string
	UnitResponseType   ResponseType
	Ticket             string
	PendError          *ErrorInfo
}

// CaseState is the externally visible view of a case, returned by
// StartCase, ResumeCase, ChangeWorkBasket and GetCaseState. It is a copy;
// mutating it has no effect on the engine.
type CaseState struct {
	CaseID       string
	JourneyName  string
	Variables    []Variable
	Paths        []PathState
	PendExecPath string
	Ticket       string
	IsComplete   bool
}

func (c *caseState) view() *CaseState {
	cs := &CaseState{
		CaseID:       c.CaseID,
		Variables:    c.Variables.snapshot(),
		PendExecPath: c.PendExecPath,
		Ticket:       c.Ticket,
		IsComplete:   c.IsComplete,
	}
	if c.Journey != nil {
		cs.JourneyName = c.Journey.Name
	}
	for _, p := range c.sortedPaths() {
		ps := PathState{
			Name:               p.Name,
			Status:             p.Status,
			Step:               p.Step,
			PendWorkBasket:     p.PendWorkBasket,
			PrevPendWorkBasket: p.PrevPendWorkBasket,
			UnitResponseType:   p.UnitResponseType,
			Ticket:             p.Ticket,
		}
		if p.PendError != nil {
			cp := *p.PendError
			ps.PendError = &cp
		}
		cs.Paths = append(cs.Paths, ps)
	}
	return cs
}
