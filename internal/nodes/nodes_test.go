package nodes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/sandbox"
	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/testutil"
	"github.com/insanalamin/mechaway/internal/workflow"
)

func activation(t *testing.T) *engine.Activation {
	t.Helper()
	handle, err := testutil.NewManager(t).Project("p")
	require.NoError(t, err)
	return &engine.Activation{
		ID:         "act-test",
		Project:    handle,
		WorkflowID: "wf",
		Trigger:    []any{map[string]any{"kind": "trigger"}},
		Outputs:    map[string][]any{},
		Scripts:    sandbox.New(),
	}
}

func TestCatalog_TriggerNodesEchoPayload(t *testing.T) {
	act := activation(t)
	catalog := NewCatalog()

	for _, kind := range []workflow.Kind{workflow.KindWebhook, workflow.KindCron} {
		out, err := catalog.Run(context.Background(), act,
			&workflow.Node{ID: "trigger", Kind: kind}, nil)
		require.NoError(t, err)
		assert.Equal(t, act.Trigger, out)
	}
}

func TestScript_EvaluatesWithData(t *testing.T) {
	act := activation(t)
	node := &workflow.Node{
		ID: "s", Kind: workflow.KindScript,
		Params: map[string]any{"script": "return {doubled = data[1].score*2}"},
	}
	out, err := NewCatalog().Run(context.Background(), act, node,
		[]any{map[string]any{"score": 85.0}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"doubled": 170.0}, out[0])
}

func TestScript_ArrayResultFansOut(t *testing.T) {
	act := activation(t)
	node := &workflow.Node{
		ID: "s", Kind: workflow.KindScript,
		Params: map[string]any{"script": "return {1, 2, 3}"},
	}
	out, err := NewCatalog().Run(context.Background(), act, node, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, out)
}

func TestScript_ErrorClassification(t *testing.T) {
	act := activation(t)
	catalog := NewCatalog()

	tests := []struct {
		script string
		code   engine.Code
	}{
		{"return {{{", engine.CodeScriptCompile},
		{`return os.getenv("HOME")`, engine.CodeScriptRuntime},
	}
	for _, tt := range tests {
		node := &workflow.Node{ID: "s", Kind: workflow.KindScript,
			Params: map[string]any{"script": tt.script}}
		_, err := catalog.Run(context.Background(), act, node, nil)
		require.Error(t, err)
		assert.Equal(t, tt.code, engine.CodeOf(err), "script %q", tt.script)
	}
}

func TestScript_MissingParam(t *testing.T) {
	act := activation(t)
	node := &workflow.Node{ID: "s", Kind: workflow.KindScript}
	_, err := NewCatalog().Run(context.Background(), act, node, nil)
	assert.Equal(t, engine.CodeBindingEval, engine.CodeOf(err))
}

func TestHTTPClient_Success(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer upstream.Close()

	act := activation(t)
	node := &workflow.Node{
		ID: "h", Kind: workflow.KindHTTPClient,
		Params: map[string]any{"url": upstream.URL, "method": "GET"},
	}
	out, err := NewCatalog().Run(context.Background(), act, node, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"ok": true}}, out)
}

func TestHTTPClient_PinsBecomeJSONBody(t *testing.T) {
	var gotBody string
	var gotContentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`"ack"`))
	}))
	defer upstream.Close()

	act := activation(t)
	node := &workflow.Node{
		ID: "h", Kind: workflow.KindHTTPClient,
		Params:    map[string]any{"url": upstream.URL, "method": "POST"},
		InputPins: map[string]string{"score": "$json.score"},
	}
	_, err := NewCatalog().Run(context.Background(), act, node,
		[]any{map[string]any{"score": 42.0}})
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"score": 42}`, gotBody)
}

func TestHTTPClient_Non2xxIsUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer upstream.Close()

	act := activation(t)
	node := &workflow.Node{
		ID: "h", Kind: workflow.KindHTTPClient,
		Params: map[string]any{"url": upstream.URL},
	}
	_, err := NewCatalog().Run(context.Background(), act, node, nil)
	require.Error(t, err)
	assert.Equal(t, engine.CodeUpstream, engine.CodeOf(err))
}

func TestHTTPClient_BadMethod(t *testing.T) {
	act := activation(t)
	node := &workflow.Node{
		ID: "h", Kind: workflow.KindHTTPClient,
		Params: map[string]any{"url": "http://localhost", "method": "TELEPORT"},
	}
	_, err := NewCatalog().Run(context.Background(), act, node, nil)
	assert.Equal(t, engine.CodeBindingEval, engine.CodeOf(err))
}

func TestTableWriter_InsertsResolvedPins(t *testing.T) {
	act := activation(t)
	node := &workflow.Node{
		ID: "w", Kind: workflow.KindTableWriter,
		Params: map[string]any{"table": "grades", "columns": []any{"student", "doubled"}},
		InputPins: map[string]string{
			"student": "$json.student_id",
			"doubled": "$json.doubled",
		},
	}
	out, err := NewCatalog().Run(context.Background(), act, node,
		[]any{map[string]any{"student_id": "s1", "doubled": 170.0}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	result := out[0].(map[string]any)
	assert.Equal(t, 1.0, result["_inserted_id"])
	assert.Equal(t, 1.0, result["_rows_affected"])

	rows, err := act.Project.SelectRows(context.Background(), store.SelectQuery{Table: "grades"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0]["student"])
	assert.Equal(t, 170.0, rows[0]["doubled"])
}

func TestTableWriter_FallsBackToItemFields(t *testing.T) {
	act := activation(t)
	node := &workflow.Node{
		ID: "w", Kind: workflow.KindTableWriter,
		Params: map[string]any{"table": "t", "columns": []any{"v"}},
	}
	_, err := NewCatalog().Run(context.Background(), act, node,
		[]any{map[string]any{"v": "direct"}})
	require.NoError(t, err)

	rows, err := act.Project.SelectRows(context.Background(), store.SelectQuery{Table: "t"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "direct", rows[0]["v"])
}

func TestTableReader_WhereWithPinBinds(t *testing.T) {
	act := activation(t)
	require.NoError(t, act.Project.EnsureTable(context.Background(), "posts", []string{"slug", "title"}))
	for _, row := range [][]any{{"intro", "Intro"}, {"deep", "Deep dive"}} {
		_, _, err := act.Project.InsertRow(context.Background(), "posts", []string{"slug", "title"}, row)
		require.NoError(t, err)
	}

	node := &workflow.Node{
		ID: "q", Kind: workflow.KindTableQuery,
		Params:    map[string]any{"table": "posts", "where": "slug = ?"},
		InputPins: map[string]string{"slug": "$json.slug"},
	}
	out, err := NewCatalog().Run(context.Background(), act, node,
		[]any{map[string]any{"slug": "deep"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Deep dive", out[0].(map[string]any)["title"])
}

func TestTableReader_MissingTableIsClientError(t *testing.T) {
	act := activation(t)
	node := &workflow.Node{
		ID: "r", Kind: workflow.KindTableReader,
		Params: map[string]any{"table": "ghost"},
	}
	_, err := NewCatalog().Run(context.Background(), act, node, nil)
	require.Error(t, err)
	assert.Equal(t, engine.CodeBindingEval, engine.CodeOf(err))
}

func TestPGQuery_MissingSecret(t *testing.T) {
	act := activation(t)
	catalog := NewCatalog()

	// No secrets field at all.
	node := &workflow.Node{
		ID: "pg", Kind: workflow.KindPGQuery,
		Params: map[string]any{"query": "SELECT 1"},
	}
	_, err := catalog.Run(context.Background(), act, node, nil)
	assert.Equal(t, engine.CodeMissingSecret, engine.CodeOf(err))

	// Secret referenced but absent from the store.
	node.Secrets = []string{"$secret.pg_main"}
	_, err = catalog.Run(context.Background(), act, node, nil)
	assert.Equal(t, engine.CodeMissingSecret, engine.CodeOf(err))

	// Malformed reference.
	node.Secrets = []string{"not-a-reference"}
	_, err = catalog.Run(context.Background(), act, node, nil)
	assert.Equal(t, engine.CodeMissingSecret, engine.CodeOf(err))
}
