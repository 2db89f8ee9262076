package journey

import (
	"fmt"
	"strings"
)

// NodeType discriminates the node variants of a journey flow.
//
// The engine dispatches on NodeType with an exhaustive switch at worker
// dispatch time; there is no node class hierarchy.
type NodeType string

const (
	// NodeTask invokes a user task component. Exactly one Next.
	NodeTask NodeType = "TASK"

	// NodePause parks the path at the reserved work basket
	// PauseWorkBasket without any user callout. On resume the path
	// advances to Next.
	NodePause NodeType = "PAUSE"

	// NodePersist forces a snapshot write and advances to Next. No user
	// callout, no pend event.
	NodePersist NodeType = "PERSIST"

	// NodeSRoute invokes a user route component that selects exactly one
	// branch label.
	NodeSRoute NodeType = "S_ROUTE"

	// NodePRoute invokes a user route component whose returned labels
	// each fan out into a child execution path. Branches are declared in
	// the definition; Next must be empty.
	NodePRoute NodeType = "P_ROUTE"

	// NodePRouteDynamic invokes a user route component whose returned
	// labels each fan out into a child path, with the label set decided
	// at runtime. All children converge on the single Next; Branches
	// must be empty.
	NodePRouteDynamic NodeType = "P_ROUTE_DYNAMIC"

	// NodeJoin synchronizes the children of a parallel fan-out.
	NodeJoin NodeType = "P_JOIN"
)

// EndStep is the reserved sentinel step name marking that a path has no
// more work. It is not a node and cannot be used as a node name.
const EndStep = "end"

// VarType enumerates the scalar types of journey variables.
type VarType string

const (
	VarString  VarType = "string"
	VarLong    VarType = "long"
	VarInteger VarType = "integer"
	VarBoolean VarType = "boolean"
)

// Variable is a workflow-scoped named scalar.
type Variable struct {
	Name  string
	Type  VarType
	Value any
}

// Branch is a labeled transition out of a route node.
type Branch struct {
	Name string
	Next string
}

// Node is one unit of a journey flow. Which fields are meaningful depends
// on Type; Validate enforces the shape rules.
type Node struct {
	Type      NodeType
	Name      string
	Component string
	UserData  string
	Next      string
	Branches  []Branch

	// join is the converging join node for P_ROUTE / P_ROUTE_DYNAMIC,
	// discovered during validation.
	join string
}

func (n *Node) branch(label string) (Branch, bool) {
	for _, b := range n.Branches {
		if b.Name == label {
			return b, true
		}
	}
	return Branch{}, false
}

// Ticket maps a ticket name to the node the raising path is reseated at.
type Ticket struct {
	Name string
	Step string
}

// Journey is an immutable workflow definition: an ordered flow of nodes,
// workflow-scoped variables and optional tickets. A Journey is shared and
// read-only after Validate succeeds; it may be used by any number of cases
// concurrently without synchronization.
type Journey struct {
	Name      string
	Flow      []Node
	Variables []Variable
	Tickets   []Ticket

	index map[string]*Node
}

// node resolves a node by name. EndStep never resolves.
func (j *Journey) node(name string) (*Node, bool) {
	n, ok := j.index[name]
	return n, ok
}

// firstNode returns the entry node of the flow.
func (j *Journey) firstNode() *Node {
	return &j.Flow[0]
}

// ticketStep resolves a ticket name to its target node name.
func (j *Journey) ticketStep(name string) (string, bool) {
	for _, t := range j.Tickets {
		if t.Name == name {
			return t.Step, true
		}
	}
	return "", false
}

// Validate checks the structural rules of the definition and resolves the
// join node of every parallel route. It must be called (directly or via a
// loader) before the journey is given to an engine; StartCase validates
// again defensively.
//
// All violations are collected and reported in a single
// DEFINITION_INVALID error.
func (j *Journey) Validate(pathSeparator string) error {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if j.Name == "" {
		report("journey name is empty")
	}
	if len(j.Flow) == 0 {
		report("journey has no nodes")
	}

	j.index = make(map[string]*Node, len(j.Flow))
	for i := range j.Flow {
		n := &j.Flow[i]
		if n.Name == "" {
			report("node %d has no name", i)
			continue
		}
		if n.Name == EndStep {
			report("node name %q is reserved", EndStep)
			continue
		}
		if _, dup := j.index[n.Name]; dup {
			report("duplicate node name: %s", n.Name)
			continue
		}
		j.index[n.Name] = n
	}

	resolves := func(target string) bool {
		if target == EndStep {
			return true
		}
		_, ok := j.index[target]
		return ok
	}

	for i := range j.Flow {
		n := &j.Flow[i]
		switch n.Type {
		case NodeTask:
			if n.Component == "" {
				report("task %s has no component", n.Name)
			}
			if n.Next == "" {
				report("task %s has no next", n.Name)
			} else if !resolves(n.Next) {
				report("task %s: next %q does not resolve", n.Name, n.Next)
			}
		case NodePause, NodePersist, NodeJoin:
			if n.Next == "" {
				report("%s %s has no next", strings.ToLower(string(n.Type)), n.Name)
			} else if !resolves(n.Next) {
				report("%s %s: next %q does not resolve", strings.ToLower(string(n.Type)), n.Name, n.Next)
			}
		case NodeSRoute, NodePRoute:
			if n.Component == "" {
				report("route %s has no component", n.Name)
			}
			if len(n.Branches) == 0 {
				report("route %s has no branches", n.Name)
			}
			if n.Type == NodePRoute && n.Next != "" {
				report("parallel route %s must not define next", n.Name)
			}
			seen := make(map[string]bool, len(n.Branches))
			for _, b := range n.Branches {
				if seen[b.Name] {
					report("route %s: duplicate branch label %q", n.Name, b.Name)
				}
				seen[b.Name] = true
				if pathSeparator != "" && strings.Contains(b.Name, pathSeparator) {
					report("route %s: branch label %q contains the path separator %q", n.Name, b.Name, pathSeparator)
				}
				if !resolves(b.Next) {
					report("route %s: branch %q target %q does not resolve", n.Name, b.Name, b.Next)
				}
			}
		case NodePRouteDynamic:
			if n.Component == "" {
				report("route %s has no component", n.Name)
			}
			if len(n.Branches) != 0 {
				report("dynamic parallel route %s must not define branches", n.Name)
			}
			if n.Next == "" {
				report("dynamic parallel route %s has no next", n.Name)
			} else if !resolves(n.Next) {
				report("dynamic parallel route %s: next %q does not resolve", n.Name, n.Next)
			}
		default:
			report("node %s has unknown type %q", n.Name, n.Type)
		}
	}

	for i := range j.Flow {
		n := &j.Flow[i]
		switch n.Type {
		case NodePRoute, NodePRouteDynamic:
			if len(problems) > 0 {
				// Convergence discovery needs a resolvable flow.
				continue
			}
			join, err := j.discoverJoin(n)
			if err != nil {
				report("route %s: %v", n.Name, err)
				continue
			}
			n.join = join
		}
	}

	seenTickets := make(map[string]bool, len(j.Tickets))
	for _, t := range j.Tickets {
		if t.Name == "" {
			report("ticket with empty name")
			continue
		}
		if seenTickets[t.Name] {
			report("duplicate ticket name: %s", t.Name)
		}
		seenTickets[t.Name] = true
		if !resolves(t.Step) {
			report("ticket %s: step %q does not resolve", t.Name, t.Step)
		}
	}

	seenVars := make(map[string]bool, len(j.Variables))
	for _, v := range j.Variables {
		if v.Name == "" {
			report("variable with empty name")
			continue
		}
		if seenVars[v.Name] {
			report("duplicate variable name: %s", v.Name)
		}
		seenVars[v.Name] = true
		switch v.Type {
		case VarString, VarLong, VarInteger, VarBoolean:
		default:
			report("variable %s has unknown type %q", v.Name, v.Type)
		}
	}

	if len(problems) > 0 {
		return engineErr(CodeDefinitionInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// discoverJoin walks forward from every branch of a parallel route and
// returns the join node the branches converge on. Branch walks pass
// through sequential routes by requiring all of their branches to converge
// too, and step over nested parallel routes via that route's own join. A
// fan-out whose branches do not all reach the same join is a definition
// error.
func (j *Journey) discoverJoin(route *Node) (string, error) {
	starts := make([]string, 0, len(route.Branches))
	if route.Type == NodePRouteDynamic {
		starts = append(starts, route.Next)
	} else {
		for _, b := range route.Branches {
			starts = append(starts, b.Next)
		}
	}

	join := ""
	for _, start := range starts {
		found, err := j.walkToJoin(start, make(map[string]bool))
		if err != nil {
			return "", err
		}
		if join == "" {
			join = found
		} else if join != found {
			return "", fmt.Errorf("branches do not converge on a common join (%s vs %s)", join, found)
		}
	}
	if join == "" {
		return "", fmt.Errorf("no join reachable from branches")
	}
	return join, nil
}

func (j *Journey) walkToJoin(from string, visiting map[string]bool) (string, error) {
	for {
		if from == EndStep {
			return "", fmt.Errorf("branch reaches %q before a join", EndStep)
		}
		if visiting[from] {
			return "", fmt.Errorf("branch cycles through %s without reaching a join", from)
		}
		visiting[from] = true

		n, ok := j.index[from]
		if !ok {
			return "", fmt.Errorf("branch target %q does not resolve", from)
		}
		switch n.Type {
		case NodeJoin:
			return n.Name, nil
		case NodeTask, NodePause, NodePersist:
			from = n.Next
		case NodeSRoute:
			// Every selectable branch must reach the same join.
			join := ""
			for _, b := range n.Branches {
				found, err := j.walkToJoin(b.Next, copyVisiting(visiting))
				if err != nil {
					return "", err
				}
				if join == "" {
					join = found
				} else if join != found {
					return "", fmt.Errorf("route %s branches diverge between joins %s and %s", n.Name, join, found)
				}
			}
			return join, nil
		case NodePRoute, NodePRouteDynamic:
			// A nested fan-out rejoins at its own join; continue past it.
			inner, err := j.discoverJoin(n)
			if err != nil {
				return "", err
			}
			innerJoin, ok := j.index[inner]
			if !ok {
				return "", fmt.Errorf("inner join %q does not resolve", inner)
			}
			from = innerJoin.Next
		default:
			return "", fmt.Errorf("node %s has unknown type %q", n.Name, n.Type)
		}
	}
}

func copyVisiting(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
