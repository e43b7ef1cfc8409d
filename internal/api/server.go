// Package api is the inbound HTTP surface: one endpoint per client wire
// format, all funneling into the orchestrator, plus health and stats.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/orchestrator"
	"github.com/modelgate/modelgate/internal/usage"
)

type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Pool         *connpool.Pool
	Tracker      *usage.Tracker
}

type Server struct {
	engine  *gin.Engine
	orch    *orchestrator.Orchestrator
	pool    *connpool.Pool
	tracker *usage.Tracker
	srv     *http.Server
}

func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogger(), logging.GinRecovery(), corsMiddleware())

	s := &Server{
		engine:  engine,
		orch:    opts.Orchestrator,
		pool:    opts.Pool,
		tracker: opts.Tracker,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/v1/stats", s.handleStats)

	s.engine.POST("/v1/chat/completions", s.handleOpenAIChat)
	s.engine.POST("/v1/responses", s.handleResponses)
	s.engine.POST("/v1/messages", s.handleClaudeMessages)

	// Gemini actions ride in the final path segment after a colon
	// (…/models/gemini-2.5-flash:streamGenerateContent), which the router
	// cannot split, so the models subtree uses a wildcard.
	s.engine.POST("/v1beta/models/*action", s.handleGemini)
	s.engine.POST("/v1/models/*action", s.handleGemini)

	// Cloud Code clients call bare :generateContent methods at the root.
	s.engine.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodPost {
			path := c.Request.URL.Path
			if strings.HasSuffix(path, ":generateContent") || strings.HasSuffix(path, ":streamGenerateContent") {
				s.handleCloudCode(c)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "not found"}})
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	type connStatus struct {
		ID      string `json:"id"`
		Backend string `json:"backend"`
		Label   string `json:"label,omitempty"`
	}
	conns := s.pool.Connections()
	out := make([]connStatus, 0, len(conns))
	for _, conn := range conns {
		out = append(out, connStatus{ID: conn.ID, Backend: conn.Backend, Label: conn.Label})
	}
	c.JSON(http.StatusOK, gin.H{
		"usage":       s.tracker.Snapshot(),
		"connections": out,
	})
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(port int) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
