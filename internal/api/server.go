// Package api is the lab's thin control-plane HTTP edge: start/stop a
// run, read live guardrail/quality/bandit state, and list run history.
// Grounded on api/tactics.go's gin handler shape (methods on a *Server,
// gin.H JSON responses, an auth check before anything mutating) — the
// teacher's handlers operate on a per-user tactic store that has no
// equivalent here (this domain has one operator, not many tenants with
// saved configs), so the object graph tactics.go closed over (Server.store
// .Tactic(), decision.TacticEngine, market.Data, mcp.AIClient) could not
// be ported; only the request/response shape survives.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ziggylab/internal/bandit"
	"ziggylab/internal/durability"
	"ziggylab/internal/engine"
	"ziggylab/internal/guardrail"
	"ziggylab/internal/metrics"
	"ziggylab/internal/quality"
	"ziggylab/internal/store"
)

// Server is the control-plane HTTP server. It holds references to the
// already-constructed components it exposes rather than owning their
// lifecycle.
type Server struct {
	addr   string
	secret string

	engine  *engine.Engine
	guard   *guardrail.Guardrail
	quality *quality.Monitor
	alloc   *bandit.Allocator
	store   *store.Store
	durMgr  *durability.Manager

	log    zerolog.Logger
	router *gin.Engine
	http   *http.Server
}

// NewServer wires a Server against the caller's already-built
// components. secret is the operator's shared auth token
// (config.Config.OperatorAuthToken); an empty secret disables the bearer
// check entirely, which is only ever appropriate for local development.
func NewServer(
	addr, secret string,
	eng *engine.Engine,
	guard *guardrail.Guardrail,
	mon *quality.Monitor,
	alloc *bandit.Allocator,
	st *store.Store,
	durMgr *durability.Manager,
	log zerolog.Logger,
) *Server {
	s := &Server{
		addr:    addr,
		secret:  secret,
		engine:  eng,
		guard:   guard,
		quality: mon,
		alloc:   alloc,
		store:   st,
		durMgr:  durMgr,
		log:     log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	r.POST("/v1/auth", s.handleIssueToken)

	v1 := r.Group("/v1")
	if s.secret != "" {
		v1.Use(s.requireOperator())
	}
	{
		v1.POST("/runs", s.handleStartRun)
		v1.POST("/runs/stop", s.handleStopRun)
		v1.GET("/runs/status", s.handleRunStatus)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/guardrail", s.handleGuardrailState)
		v1.GET("/quality", s.handleQualityStats)
		v1.GET("/bandit", s.handleBanditAllocations)
		v1.POST("/snapshot/save", s.handleSaveSnapshot)
		v1.POST("/snapshot/restore", s.handleRestoreSnapshot)
	}
	return r
}

// requestLogger mirrors the teacher's reliance on zerolog for structured
// request/response logging, in place of gin's default text logger.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.http = &http.Server{Addr: s.addr, Handler: s.router}
	s.log.Info().Str("addr", s.addr).Msg("control plane listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
