// Package api serves the operational HTTP surface: liveness and readiness
// probes, Prometheus metrics, classification record queries, deployment
// marker ingest and a manual Monitor trigger. Nothing on this surface sits
// in the pipeline's data path.
package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
)

// RecordReader serves classification record queries.
type RecordReader interface {
	Get(ctx context.Context, messageID string) (*models.ClassificationRecord, error)
	List(ctx context.Context, f models.RecordFilters) ([]models.ClassificationRecord, error)
	StatsSince(ctx context.Context, since time.Time) ([]models.CategoryCount, error)
}

// DeploymentRecorder ingests deployment markers.
type DeploymentRecorder interface {
	Record(ctx context.Context, dep models.Deployment) (models.Deployment, error)
}

// MonitorTrigger requests an immediate Monitor invocation.
type MonitorTrigger interface {
	Trigger()
}

// ReadyCheck pings one dependency for the readiness probe.
type ReadyCheck func(ctx context.Context) error

// Server is the ops API server.
type Server struct {
	records RecordReader
	deploys DeploymentRecorder
	monitor MonitorTrigger
	checks  map[string]ReadyCheck

	authToken string
	http      *http.Server
}

// NewServer creates the ops API server. Readiness checks are keyed by
// dependency name and run on every /ready request.
func NewServer(cfg *config.APIConfig, records RecordReader, deploys DeploymentRecorder, monitor MonitorTrigger, checks map[string]ReadyCheck) *Server {
	s := &Server{
		records: records,
		deploys: deploys,
		monitor: monitor,
		checks:  checks,
	}
	if cfg.AuthTokenEnv != "" {
		s.authToken = os.Getenv(cfg.AuthTokenEnv)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes(engine)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/health", s.healthHandler)
	engine.GET("/ready", s.readyHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	v1.GET("/records/:message_id", s.getRecordHandler)
	v1.GET("/records", s.listRecordsHandler)
	v1.GET("/stats", s.statsHandler)

	mutating := v1.Group("", s.requireAuth())
	mutating.POST("/monitor/run", s.runMonitorHandler)
	mutating.POST("/deployments", s.createDeploymentHandler)
}

// Start serves HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
