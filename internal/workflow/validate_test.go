package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf-1",
		Name: "ok",
		Nodes: []Node{
			{ID: "hook", Kind: KindWebhook, Params: map[string]any{"path": "/x"}},
			{ID: "s", Kind: KindScript, Params: map[string]any{"script": "return 1"}},
		},
		Edges: []Edge{{From: "hook", To: "s"}},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validWorkflow().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *Workflow)
		field  string
	}{
		{"empty id", func(w *Workflow) { w.ID = "" }, "id"},
		{"malformed id", func(w *Workflow) { w.ID = "has space" }, "id"},
		{"empty name", func(w *Workflow) { w.Name = "" }, "name"},
		{"no nodes", func(w *Workflow) { w.Nodes = nil }, "nodes"},
		{"duplicate node id", func(w *Workflow) { w.Nodes = append(w.Nodes, w.Nodes[1]) }, "nodes"},
		{"unknown kind", func(w *Workflow) { w.Nodes[1].Kind = "Mystery" }, "nodes"},
		{"no trigger", func(w *Workflow) { w.Nodes = w.Nodes[1:]; w.Edges = nil }, "nodes"},
		{"edge from unknown", func(w *Workflow) { w.Edges = []Edge{{From: "ghost", To: "s"}} }, "edges"},
		{"edge to unknown", func(w *Workflow) { w.Edges = []Edge{{From: "hook", To: "ghost"}} }, "edges"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validWorkflow()
			tt.mutate(w)
			err := w.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
