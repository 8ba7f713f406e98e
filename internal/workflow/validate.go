package workflow

import (
	"fmt"
	"regexp"
)

// ValidationError describes why a workflow was rejected during load.
// Rejected workflows are excluded from the registry snapshot; they
// never abort a reload.
type ValidationError struct {
	WorkflowID string
	Field      string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("workflow %q: %s: %s", e.WorkflowID, e.Field, e.Message)
	}
	return fmt.Sprintf("workflow %q: %s", e.WorkflowID, e.Message)
}

var workflowIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate enforces the structural invariants of a definition:
// well-formed ids, unique node ids, resolvable edge endpoints, at
// least one trigger node, and known kinds. Acyclicity is checked by
// Compile, which a loader must also call before publishing.
func (w *Workflow) Validate() error {
	if w.ID == "" || !workflowIDRe.MatchString(w.ID) {
		return &ValidationError{WorkflowID: w.ID, Field: "id", Message: "missing or malformed workflow id"}
	}
	if w.Name == "" {
		return &ValidationError{WorkflowID: w.ID, Field: "name", Message: "name is required"}
	}
	if len(w.Nodes) == 0 {
		return &ValidationError{WorkflowID: w.ID, Field: "nodes", Message: "at least one node is required"}
	}

	seen := make(map[string]bool, len(w.Nodes))
	triggers := 0
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if n.ID == "" {
			return &ValidationError{WorkflowID: w.ID, Field: "nodes", Message: "node with empty id"}
		}
		if seen[n.ID] {
			return &ValidationError{WorkflowID: w.ID, Field: "nodes", Message: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = true
		if !n.Kind.Valid() {
			return &ValidationError{WorkflowID: w.ID, Field: "nodes", Message: fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind)}
		}
		if n.Kind.IsTrigger() {
			triggers++
		}
	}
	if triggers == 0 {
		return &ValidationError{WorkflowID: w.ID, Field: "nodes", Message: "at least one trigger node (Webhook or Cron) is required"}
	}

	for _, e := range w.Edges {
		if !seen[e.From] {
			return &ValidationError{WorkflowID: w.ID, Field: "edges", Message: fmt.Sprintf("edge references unknown node %q", e.From)}
		}
		if !seen[e.To] {
			return &ValidationError{WorkflowID: w.ID, Field: "edges", Message: fmt.Sprintf("edge references unknown node %q", e.To)}
		}
	}
	return nil
}
