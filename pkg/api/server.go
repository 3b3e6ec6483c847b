// Package api provides the HTTP control surface over a running pipeline:
// status, pause/resume/cancel, decision history, resource counters, a
// state-change event stream, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dirgogoo/mdap/pkg/pipeline"
	"github.com/dirgogoo/mdap/pkg/resource"
	"github.com/dirgogoo/mdap/pkg/track"
	"github.com/dirgogoo/mdap/pkg/version"
)

// Server is the control API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	orch       *pipeline.Orchestrator
	tracker    *track.Tracker
	resources  *resource.Manager
	notifier   *pipeline.Notifier
}

// NewServer wires the control API over a pipeline run. notifier feeds the
// /events stream; it must be the same instance the state machine
// publishes to.
func NewServer(orch *pipeline.Orchestrator, tracker *track.Tracker, resources *resource.Manager, notifier *pipeline.Notifier) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		orch:      orch,
		tracker:   tracker,
		resources: resources,
		notifier:  notifier,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.resources.Registry(), promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/events", s.handleEvents)
	v1.POST("/pause", s.handlePause)
	v1.POST("/resume", s.handleResume)
	v1.POST("/cancel", s.handleCancel)
	v1.POST("/await", s.handleAwait)
	v1.POST("/decision", s.handleDecision)
	v1.GET("/history", s.handleHistory)
	v1.GET("/decisions/:phase", s.handleDecisionsByPhase)
	v1.GET("/explain/:step", s.handleExplain)
	v1.GET("/resources", s.handleResources)
	v1.POST("/budget", s.handleBudget)
}

// Start begins serving in a background goroutine.
func (s *Server) Start(addr string) {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	go func() {
		slog.Info("Control API listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Control API server failed", "error", err)
		}
	}()
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Full(),
		"state":   s.orch.Status().State,
	})
}
