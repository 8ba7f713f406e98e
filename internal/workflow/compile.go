package workflow

import (
	"fmt"
	"sort"
)

// CronSpec is a cron trigger extracted at compile time.
type CronSpec struct {
	NodeID   string
	Schedule string
	Timezone string
}

// CompiledDAG is the execution-ready form of a workflow: topological
// order, adjacency in edge-declaration order, and the trigger index.
// A CompiledDAG is immutable after Compile returns; the registry
// compiles every workflow again on each reload and keeps the result
// in the snapshot entry, with no cache across reloads.
type CompiledDAG struct {
	// Order is a topological order over all nodes, tie-broken by
	// lexicographic node id so execution order is deterministic.
	Order []string
	// Preds and Succs preserve edge-declaration order, which fixes
	// the concatenation order of upstream outputs.
	Preds map[string][]string
	Succs map[string][]string
	// Webhooks maps webhook path -> trigger node id.
	Webhooks map[string]string
	// Crons lists the cron trigger nodes with their schedules.
	Crons []CronSpec

	nodes map[string]*Node
}

// ErrCycle is returned by Compile when the edge relation contains a
// cycle; such a workflow must not be published.
type ErrCycle struct {
	WorkflowID string
	Path       []string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("workflow %q: edges form a cycle through %v", e.WorkflowID, e.Path)
}

// Compile validates the edge relation and derives the CompiledDAG.
// The workflow must already have passed Validate.
func Compile(w *Workflow) (*CompiledDAG, error) {
	d := &CompiledDAG{
		Preds:    make(map[string][]string, len(w.Nodes)),
		Succs:    make(map[string][]string, len(w.Nodes)),
		Webhooks: make(map[string]string),
		nodes:    make(map[string]*Node, len(w.Nodes)),
	}
	for i := range w.Nodes {
		n := &w.Nodes[i]
		d.nodes[n.ID] = n
	}
	for _, e := range w.Edges {
		if _, ok := d.nodes[e.From]; !ok {
			return nil, &ValidationError{WorkflowID: w.ID, Field: "edges", Message: fmt.Sprintf("edge references unknown node %q", e.From)}
		}
		if _, ok := d.nodes[e.To]; !ok {
			return nil, &ValidationError{WorkflowID: w.ID, Field: "edges", Message: fmt.Sprintf("edge references unknown node %q", e.To)}
		}
		d.Succs[e.From] = append(d.Succs[e.From], e.To)
		d.Preds[e.To] = append(d.Preds[e.To], e.From)
	}

	if path := findCycle(d.nodes, d.Succs); path != nil {
		return nil, &ErrCycle{WorkflowID: w.ID, Path: path}
	}

	d.Order = topoOrder(d.nodes, d.Preds, d.Succs)

	for i := range w.Nodes {
		n := &w.Nodes[i]
		switch n.Kind {
		case KindWebhook:
			if path, ok := n.StringParam("path"); ok && path != "" {
				d.Webhooks[normalizeWebhookPath(path)] = n.ID
			}
		case KindCron:
			schedule, _ := n.StringParam("schedule")
			tz, _ := n.StringParam("timezone")
			if schedule != "" {
				d.Crons = append(d.Crons, CronSpec{NodeID: n.ID, Schedule: schedule, Timezone: tz})
			}
		}
	}
	return d, nil
}

// Node returns the node with the given id.
func (d *CompiledDAG) Node(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// ReachableFrom computes the forward closure of entry, including
// entry itself. A workflow may contain multiple disjoint trigger
// subgraphs; only the triggered one runs.
func (d *CompiledDAG) ReachableFrom(entry string) map[string]bool {
	reachable := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range d.Succs[current] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}

// TerminalNode picks the activation's result node among the sinks
// reachable from entry: the one with the lexicographically smallest
// id, so repeated activations report the same node.
func (d *CompiledDAG) TerminalNode(entry string) string {
	reachable := d.ReachableFrom(entry)
	var sinks []string
	for id := range reachable {
		isSink := true
		for _, next := range d.Succs[id] {
			if reachable[next] {
				isSink = false
				break
			}
		}
		if isSink {
			sinks = append(sinks, id)
		}
	}
	if len(sinks) == 0 {
		return entry
	}
	sort.Strings(sinks)
	return sinks[0]
}

// findCycle runs an iterative depth-first traversal with a three-color
// marking; it returns one cycle path when the edge relation is not
// acyclic, nil otherwise. Roots are visited in sorted order so the
// reported cycle is stable.
func findCycle(nodes map[string]*Node, succs map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var stack []string
	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range succs[id] {
			switch color[next] {
			case gray:
				// Found a back edge; slice the cycle out of the stack.
				for i, on := range stack {
					if on == next {
						return append(append([]string{}, stack[i:]...), next)
					}
				}
				return []string{next, id, next}
			case white:
				if path := visit(next); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if path := visit(id); path != nil {
				return path
			}
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm with a sorted ready set: among nodes
// whose predecessors are all placed, the smallest id goes next.
// Callers must have rejected cycles already.
func topoOrder(nodes map[string]*Node, preds, succs map[string][]string) []string {
	indegree := make(map[string]int, len(nodes))
	for id := range nodes {
		indegree[id] = len(preds[id])
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		changed := false
		for _, next := range succs[current] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}
	return order
}

// normalizeWebhookPath ensures a leading slash so lookups are
// insensitive to how the path was declared.
func normalizeWebhookPath(path string) string {
	if path == "" || path[0] == '/' {
		return path
	}
	return "/" + path
}
