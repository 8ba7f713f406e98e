package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/insanalamin/mechaway/internal/wire"
)

// Kind is the closed set of node kinds the engine can execute.
// Dispatch is a tagged variant over this set, not open inheritance.
type Kind string

const (
	KindWebhook     Kind = "Webhook"
	KindCron        Kind = "Cron"
	KindHTTPClient  Kind = "HTTPClient"
	KindScript      Kind = "Script"
	KindTableWriter Kind = "TableWriter"
	KindTableReader Kind = "TableReader"
	KindTableQuery  Kind = "TableQuery"
	KindPGQuery     Kind = "PGQuery"
)

// Kinds lists every valid node kind.
var Kinds = []Kind{
	KindWebhook, KindCron, KindHTTPClient, KindScript,
	KindTableWriter, KindTableReader, KindTableQuery, KindPGQuery,
}

// Valid reports whether k names a known node kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsTrigger reports whether nodes of this kind start activations
// (Webhook and Cron). Trigger nodes carry no processing logic; their
// output is the trigger payload.
func (k Kind) IsTrigger() bool {
	return k == KindWebhook || k == KindCron
}

// Node is a single processing unit in a workflow DAG.
type Node struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Params holds kind-specific configuration (url, script, table, ...).
	Params map[string]any `json:"params,omitempty"`
	// InputPins maps output field names to binding expressions. A pin
	// name ending in "?" is optional.
	InputPins map[string]string `json:"input_pins,omitempty"`
	// Secrets lists secret references ($secret.<name>) the node
	// requires, e.g. the PGQuery connection string.
	Secrets []string `json:"secrets,omitempty"`
}

// Edge directs data flow from one node to another.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a complete DAG definition. Definitions are persisted as
// JSON in the per-project workflow database and compiled on load.
type Workflow struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Name      string `json:"name"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	// Version is assigned by the registry: bumped iff the canonical
	// JSON of the definition differs from the previously published one.
	Version int64 `json:"version,omitempty"`
}

// Parse decodes a workflow definition from JSON. The definition is
// shape-checked against the embedded CUE schema before decoding, so a
// malformed document is rejected with a positioned error rather than
// a half-populated struct.
func Parse(raw []byte) (*Workflow, error) {
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}
	var w Workflow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &w, nil
}

// MarshalDefinition encodes the workflow definition for persistence.
func (w *Workflow) MarshalDefinition() ([]byte, error) {
	return json.Marshal(w)
}

// ContentHash returns the canonical-JSON hash of the definition with
// the version field zeroed, so the hash reflects content only.
func (w *Workflow) ContentHash() (string, error) {
	clone := *w
	clone.Version = 0
	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", err
	}
	return wire.CanonicalHash(tree)
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// StringParam reads a string-valued param, with ok reporting presence.
func (n *Node) StringParam(key string) (string, bool) {
	v, ok := n.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntParam reads an integer-valued param (JSON numbers arrive as
// float64).
func (n *Node) IntParam(key string) (int, bool) {
	v, ok := n.Params[key]
	if !ok {
		return 0, false
	}
	switch num := v.(type) {
	case float64:
		return int(num), true
	case int:
		return num, true
	default:
		return 0, false
	}
}
