package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// runMonitorHandler handles POST /api/v1/monitor/run. The invocation is
// asynchronous: the trigger coalesces with any already-pending run.
func (s *Server) runMonitorHandler(c *gin.Context) {
	s.monitor.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}
