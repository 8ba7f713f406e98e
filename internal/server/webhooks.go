package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// executeWebhook dispatches /webhook/{workflow_id}/{path}. The pair
// is looked up in the snapshot's webhook index; a miss is a 404. Any
// method is accepted unless the webhook node declares one, in which
// case a mismatch is a 405 (the declared restriction is enforced, not
// ignored).
func (s *Server) executeWebhook(c *gin.Context) {
	slug := projectSlug(c)
	workflowID := c.Param("workflow")
	path := c.Param("path")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	snap := s.reg.Get()
	nodeID, ok := snap.Webhook(slug, workflowID, path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no webhook registered at this path"})
		return
	}

	entry, _ := snap.Workflow(slug, workflowID)
	if node, ok := entry.DAG.Node(nodeID); ok {
		if declared, ok := node.StringParam("method"); ok && declared != "" {
			if !strings.EqualFold(declared, c.Request.Method) {
				c.Header("Allow", strings.ToUpper(declared))
				c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed for this webhook"})
				return
			}
		}
	}

	var payload any
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
			return
		}
	}

	result, err := s.RunActivation(c.Request.Context(), slug, workflowID, nodeID, payload)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
