// Package server binds the trigger surface and the management API to
// the registry and engine.
//
// The webhook surface is derived from the registry snapshot: a
// request resolves (project, workflow, path) against the snapshot it
// observes. The activation then reads the current snapshot once more
// when it starts and runs to completion against that one, even if a
// reload swaps it mid-flight.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/registry"
	"github.com/insanalamin/mechaway/internal/store"
)

const defaultProject = "default"

// Server wires storage, registry, and engine behind the HTTP surface.
type Server struct {
	mgr    *store.Manager
	reg    *registry.Registry
	eng    *engine.Engine
	log    *slog.Logger
	router *gin.Engine
}

// New builds the Server and its routes.
func New(mgr *store.Manager, reg *registry.Registry, eng *engine.Engine, log *slog.Logger) *Server {
	s := &Server{mgr: mgr, reg: reg, eng: eng, log: log}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api")
	{
		api.GET("/workflows", s.listWorkflows)
		api.POST("/workflows", s.createWorkflow)
		api.GET("/workflows/:id", s.getWorkflow)
		api.PUT("/workflows/:id", s.updateWorkflow)
		api.DELETE("/workflows/:id", s.deleteWorkflow)
	}

	r.Any("/webhook/:workflow/*path", s.executeWebhook)

	s.router = r
	return s
}

// Router exposes the gin engine for tests and embedding.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// RunActivation resolves and executes one activation against the
// current snapshot.
func (s *Server) RunActivation(ctx context.Context, project, workflowID, entryNode string, payload any) ([]any, error) {
	snap := s.reg.Get()
	entry, ok := snap.Workflow(project, workflowID)
	if !ok {
		return nil, engine.E(engine.CodeUnknownWorkflow, "workflow %q is not active", workflowID)
	}
	handle, err := s.mgr.Project(project)
	if err != nil {
		return nil, engine.Wrap(engine.CodeStorageUnavailable, err, "project unavailable")
	}
	return s.eng.Execute(ctx, engine.Request{
		Project:   handle,
		Workflow:  entry.Workflow,
		DAG:       entry.DAG,
		EntryNode: entryNode,
		Payload:   payload,
	})
}

// SubmitCron is the scheduler's activation sink: it looks up the
// freshest snapshot, runs the workflow from the cron node, and logs
// any failure (cron activations have no caller to surface errors to).
func (s *Server) SubmitCron(ctx context.Context, entry registry.CronEntry, payload map[string]any) {
	_, err := s.RunActivation(ctx, entry.Project, entry.WorkflowID, entry.NodeID, payload)
	if err != nil {
		s.log.Error("cron activation failed",
			"project", entry.Project,
			"workflow", entry.WorkflowID,
			"node", entry.NodeID,
			"code", string(engine.CodeOf(err)),
			"error", err,
		)
	}
}

// projectSlug resolves the tenant for a request.
func projectSlug(c *gin.Context) string {
	if slug := c.Query("project"); slug != "" {
		return slug
	}
	return defaultProject
}

// httpStatus maps activation error codes onto status classes:
// client-attributable failures are 4xx, infrastructure and upstream
// failures 5xx.
func httpStatus(code engine.Code) int {
	switch code {
	case engine.CodeUnknownWorkflow, engine.CodeUnknownNode:
		return http.StatusNotFound
	case engine.CodeInvalidGraph, engine.CodeBindingEval,
		engine.CodeScriptCompile, engine.CodeScriptRuntime,
		engine.CodeScriptExhausted, engine.CodeMissingSecret:
		return http.StatusUnprocessableEntity
	case engine.CodeUpstream:
		return http.StatusBadGateway
	case engine.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case engine.CodeStorageUnavailable, engine.CodeCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail renders an activation error. The message is the classified
// one-liner; binding expressions and secret values never reach it.
func fail(c *gin.Context, err error) {
	code := engine.CodeOf(err)
	var classified *engine.Error
	message := "internal error"
	if errors.As(err, &classified) {
		message = classified.Message
	}
	c.JSON(httpStatus(code), gin.H{"error": message, "code": string(code)})
}
