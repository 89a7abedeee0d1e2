package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recoverloop/redrive/pkg/version"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Liveness only: it never touches
// dependencies, so an unhealthy broker cannot get the process restarted.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  statusHealthy,
		"version": version.GitCommit,
	})
}

// readyHandler handles GET /ready: every registered dependency check must
// pass within the probe budget.
func (s *Server) readyHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := statusHealthy
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = statusUnhealthy
			checks[name] = err.Error()
			continue
		}
		checks[name] = statusHealthy
	}

	httpStatus := http.StatusOK
	if status == statusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":  status,
		"version": version.GitCommit,
		"checks":  checks,
	})
}
