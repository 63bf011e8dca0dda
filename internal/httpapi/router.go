// Package httpapi exposes the six HTTP routes of spec.md §6 as a gin
// router over the Environment Registry, Program Store/Orchestrator, and
// Benchmark Service.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"sandkasten-go/internal/benchmark"
	"sandkasten-go/internal/config"
	"sandkasten-go/internal/environments"
	"sandkasten-go/internal/metrics"
	"sandkasten-go/internal/program"
)

// Server bundles the collaborators the handlers need.
type Server struct {
	cfg          config.Config
	environments *environments.Registry
	orchestrator *program.Orchestrator
	benchmarks   *benchmark.Service
}

// NewServer constructs a Server.
func NewServer(cfg config.Config, reg *environments.Registry, orch *program.Orchestrator, bench *benchmark.Service) *Server {
	return &Server{cfg: cfg, environments: reg, orchestrator: orch, benchmarks: bench}
}

// Router builds the gin engine: middleware stack, then the six routes
// mounted at root, plus /metrics.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(), RequestLogger())
	if s.cfg.RateLimitPerSecond > 0 {
		r.Use(RateLimit(s.cfg.RateLimitPerSecond, s.cfg.RateLimitBurst))
	}

	r.GET("/metrics", metrics.Handler())

	// cfg.Server is the externally-advertised base URL (e.g. for API doc
	// generation); routes themselves are always mounted at root, matching
	// the single-service, single-prefix deployment model.
	r.GET("/environments", s.listEnvironments)
	r.GET("/environments/:id/resource_usage", s.resourceUsage)
	r.POST("/run", s.buildAndRun)
	r.POST("/programs", s.createProgram)
	r.POST("/programs/:id/run", s.runProgram)
	r.GET("/config", s.getConfig)

	return r
}
