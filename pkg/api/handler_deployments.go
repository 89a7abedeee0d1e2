package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recoverloop/redrive/pkg/models"
)

// createDeploymentRequest is the POST /api/v1/deployments body. Deployment
// pipelines call this right after a rollout so the Monitor can correlate
// failure spikes against it.
type createDeploymentRequest struct {
	ID         string     `json:"id"`
	Service    string     `json:"service"`
	Version    string     `json:"version" binding:"required"`
	Author     string     `json:"author"`
	DeployedAt *time.Time `json:"deployed_at"`
}

// createDeploymentHandler handles POST /api/v1/deployments.
func (s *Server) createDeploymentHandler(c *gin.Context) {
	var req createDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version is required"})
		return
	}

	dep := models.Deployment{
		ID:      req.ID,
		Service: req.Service,
		Version: req.Version,
		Author:  req.Author,
	}
	if req.DeployedAt != nil {
		dep.DeployedAt = *req.DeployedAt
	}

	stored, err := s.deploys.Record(c.Request.Context(), dep)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record deployment"})
		return
	}
	c.JSON(http.StatusCreated, stored)
}
