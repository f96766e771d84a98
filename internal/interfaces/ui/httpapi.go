package ui

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
	"github.com/autodrive/autodrive/internal/domain/history"
	"github.com/autodrive/autodrive/internal/domain/rollout"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string
	Port int
	Mode string // debug, release
}

// Server exposes the coordinator to a detached UI process: an SSE feed
// of every coordinator event it is handed through Emit, command endpoints for ack/stop/prompt, the
// websocket bridge, and the rollout catalog.
type Server struct {
	server *http.Server
	hub    *Hub
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan Envelope
	nextSubID   int
}

// NewServer builds the gin router and wires all routes. rollouts may be
// nil (no catalog endpoints then).
func NewServer(cfg ServerConfig, submit Submitter, hub *Hub, rollouts rollout.Repository, logger *zap.Logger) *Server {
	if cfg.Mode == "production" || cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	s := &Server{
		hub:         hub,
		logger:      logger,
		subscribers: make(map[int]chan Envelope),
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/turns", s.streamTurns)

		v1.POST("/ack", func(c *gin.Context) {
			var req struct {
				Seq uint64 `json:"seq" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			submit(coordinator.Command{Kind: coordinator.CmdAckDecision, Seq: req.Seq})
			c.JSON(http.StatusOK, gin.H{"acked": req.Seq})
		})

		v1.POST("/stop", func(c *gin.Context) {
			submit(coordinator.Command{Kind: coordinator.CmdStop})
			c.JSON(http.StatusOK, gin.H{"stopping": true})
		})

		v1.POST("/prompt", func(c *gin.Context) {
			var req struct {
				Text string `json:"text" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			submit(coordinator.Command{
				Kind:             coordinator.CmdHandleUserPrompt,
				UserConversation: history.History{history.NewUserMessage(req.Text)},
			})
			c.JSON(http.StatusAccepted, gin.H{"queued": true})
		})

		if rollouts != nil {
			v1.GET("/rollouts", func(c *gin.Context) {
				list, err := rollouts.ListRecent(c.Request.Context(), 50)
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
					return
				}
				c.JSON(http.StatusOK, gin.H{"rollouts": list})
			})
			v1.GET("/rollouts/:id", func(c *gin.Context) {
				r, err := rollouts.Get(c.Request.Context(), c.Param("id"))
				if err != nil {
					c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
					return
				}
				c.JSON(http.StatusOK, r)
			})
		}
	}

	if hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Emit implements coordinator.EventSink for the SSE feed.
func (s *Server) Emit(ev coordinator.Event) {
	env := ToEnvelope(ev)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- env:
		default:
			s.logger.Warn("SSE subscriber lagging, dropping event", zap.Int("subscriber", id))
		}
	}
}

// streamTurns serves the event feed as server-sent events.
func (s *Server) streamTurns(c *gin.Context) {
	ch := make(chan Envelope, 64)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case env := <-ch:
			c.SSEvent(env.Kind, env)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// ginLogger adapts request logging onto the shared zap logger.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
