package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/insanalamin/mechaway/internal/store"
)

// listWorkflows returns listing metadata for the request's project,
// most recently updated first.
func (s *Server) listWorkflows(c *gin.Context) {
	handle, err := s.mgr.Project(projectSlug(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	metas, err := handle.ListWorkflows(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if metas == nil {
		metas = []store.WorkflowMeta{}
	}
	c.JSON(http.StatusOK, gin.H{"workflows": metas})
}

// getWorkflow returns the published definition, version included.
func (s *Server) getWorkflow(c *gin.Context) {
	slug := projectSlug(c)
	id := c.Param("id")

	if entry, ok := s.reg.Get().Workflow(slug, id); ok {
		c.JSON(http.StatusOK, entry.Workflow)
		return
	}

	// Stored but excluded from the snapshot (e.g. failed validation
	// after an out-of-band edit): surface the raw definition so the
	// owner can repair it.
	handle, err := s.mgr.Project(slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stored, err := handle.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", stored.Definition)
}

// createWorkflow persists and publishes a new workflow. Posting an id
// that already exists conflicts; use PUT to update.
func (s *Server) createWorkflow(c *gin.Context) {
	slug := projectSlug(c)
	raw, id, err := readDefinition(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, err := s.mgr.Project(slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := handle.GetWorkflow(c.Request.Context(), id); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "workflow already exists"})
		return
	} else if !errors.Is(err, store.ErrWorkflowNotFound) {
		fail(c, err)
		return
	}

	published, err := s.reg.Upsert(c.Request.Context(), slug, raw)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": published.ID, "version": published.Version})
}

// updateWorkflow upserts a definition; the path id must match the
// definition's id.
func (s *Server) updateWorkflow(c *gin.Context) {
	slug := projectSlug(c)
	raw, id, err := readDefinition(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if id != c.Param("id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "definition id does not match path"})
		return
	}

	published, err := s.reg.Upsert(c.Request.Context(), slug, raw)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": published.ID, "version": published.Version})
}

// deleteWorkflow removes a definition and hot-reloads the project.
func (s *Server) deleteWorkflow(c *gin.Context) {
	slug := projectSlug(c)
	deleted, err := s.reg.Delete(c.Request.Context(), slug, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// readDefinition reads the request body as a workflow definition,
// accepting both the bare definition and the {"workflow": {...}}
// envelope.
func readDefinition(c *gin.Context) (raw []byte, id string, err error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, "", err
	}

	var envelope struct {
		Workflow json.RawMessage `json:"workflow"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Workflow) > 0 {
		body = envelope.Workflow
	}

	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, "", errors.New("request body is not valid JSON")
	}
	if probe.ID == "" {
		return nil, "", errors.New("workflow id is required")
	}
	return body, probe.ID, nil
}
