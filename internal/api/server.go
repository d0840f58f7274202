// Package api is the HTTP boundary: run submission, artifact retrieval,
// advisories and workflow sessions.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/rungov/internal/orchestrator"
	"github.com/user/rungov/internal/ratelimit"
	"github.com/user/rungov/internal/types"
	"github.com/user/rungov/internal/workflow"
)

// Runner executes governed runs.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Outcome, error)
}

// RateLimitConfig bounds requests per key per window. Requests <= 0 disables
// limiting.
type RateLimitConfig struct {
	Requests   int
	Window     time.Duration
	FailClosed bool
}

// Deps are the collaborators of a Server. Sessions may be nil, in which
// case the workflow routes answer 503.
type Deps struct {
	Runner    Runner
	Artifacts types.ArtifactStore
	Sessions  *workflow.Manager
	Limiter   ratelimit.Limiter
	RateLimit RateLimitConfig
}

// Server is the gin-backed HTTP handler.
type Server struct {
	r         *gin.Engine
	runner    Runner
	artifacts types.ArtifactStore
	sessions  *workflow.Manager
	limiter   ratelimit.Limiter
	limit     RateLimitConfig
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		r:         r,
		runner:    deps.Runner,
		artifacts: deps.Artifacts,
		sessions:  deps.Sessions,
		limiter:   deps.Limiter,
		limit:     deps.RateLimit,
	}
	if s.limit.Window <= 0 {
		s.limit.Window = time.Minute
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.r.POST("/runs", s.limitByClient(routeRunsCreate), s.handleCreateRun)
	s.r.GET("/runs", s.handleListRuns)
	s.r.GET("/runs/:id", s.handleGetRun)
	s.r.GET("/runs/:id/verify", s.handleVerifyRun)
	s.r.POST("/runs/:id/advisories", s.limitByClient(routeAdvisoriesAppend), s.handleAppendAdvisory)
	s.r.GET("/runs/:id/advisories", s.handleListAdvisories)

	sessions := s.r.Group("/sessions", s.requireSessions)
	{
		sessions.POST("", s.limitByClient(routeSessionsCreate), s.handleCreateSession)
		sessions.GET("", s.handleListSessions)
		sessions.GET("/:id", s.handleGetSession)
		sessions.POST("/:id/actions", s.limitByClient(routeSessionsAdvance), s.handleAdvanceSession)
	}
}

func (s *Server) requireSessions(c *gin.Context) {
	if s.sessions == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "WORKFLOW_DISABLED", "workflow sessions are not configured", nil)
		return
	}
	c.Next()
}
