package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/records"
)

// getRecordHandler handles GET /api/v1/records/:message_id.
func (s *Server) getRecordHandler(c *gin.Context) {
	rec, err := s.records.Get(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// listRecordsHandler handles GET /api/v1/records with queue/category/since/
// limit/offset filters.
func (s *Server) listRecordsHandler(c *gin.Context) {
	filters := models.RecordFilters{
		Queue:        c.Query("queue"),
		Category:     models.Category(c.Query("category")),
		SemanticHash: c.Query("semantic_hash"),
		Deployment:   c.Query("deployment"),
	}
	if filters.Category != "" && !filters.Category.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category " + string(filters.Category)})
		return
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filters.Since = &since
	}
	var err error
	if filters.Limit, err = intQuery(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	if filters.Offset, err = intQuery(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	recs, err := s.records.List(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

// statsHandler handles GET /api/v1/stats: per-category counts over the
// requested window (default 24h).
func (s *Server) statsHandler(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration"})
			return
		}
		window = parsed
	}

	since := time.Now().Add(-window)
	counts, err := s.records.StatsSince(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	total := 0
	for _, cc := range counts {
		total += cc.Count
	}
	c.JSON(http.StatusOK, gin.H{
		"since":      since.UTC(),
		"total":      total,
		"categories": counts,
	})
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
