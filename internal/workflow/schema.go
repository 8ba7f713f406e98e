package workflow

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

// workflowSchema is the CUE shape a raw workflow definition must
// satisfy before structural validation runs. Structural rules that
// need graph context (edge endpoints, cycles, trigger presence) live
// in Validate; this catches malformed documents with a useful
// position instead of a decode panic downstream.
const workflowSchema = `
#Edge: {
	from: string & !=""
	to:   string & !=""
}

#Node: {
	id: string & !=""
	kind: "Webhook" | "Cron" | "HTTPClient" | "Script" |
		"TableWriter" | "TableReader" | "TableQuery" | "PGQuery"
	params?: {...}
	input_pins?: {[string]: string}
	secrets?: [...string]
}

#Workflow: {
	id:          string & !=""
	project_id?: string
	name:        string & !=""
	nodes: [#Node, ...#Node]
	edges: [...#Edge]
	version?: int
}

#Workflow
`

var compileSchema = sync.OnceValues(func() (*cue.Context, cue.Value) {
	cctx := cuecontext.New()
	return cctx, cctx.CompileString(workflowSchema)
})

// ValidateSchema checks a raw JSON definition against the workflow
// schema. It returns nil for a well-shaped document; the error for a
// malformed one carries CUE's field positions.
func ValidateSchema(raw []byte) error {
	cctx, schema := compileSchema()
	if err := schema.Err(); err != nil {
		return fmt.Errorf("workflow schema: %w", err)
	}

	expr, err := cuejson.Extract("workflow.json", raw)
	if err != nil {
		return fmt.Errorf("workflow definition is not valid JSON: %w", err)
	}
	doc := cctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("workflow definition: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("workflow definition does not match schema: %w", err)
	}
	return nil
}
