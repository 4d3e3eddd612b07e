// Package httpapi exposes the conversation engine to the messaging
// gateway. The gateway owns transport and authentication; this surface
// only resolves the tenant, runs the turn and reports the outcome.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/conversation"
	"github.com/brisaai/sicc/internal/orchestrator"
	"github.com/brisaai/sicc/internal/tenant"
)

// Publisher emits a conversation-close event for the learning pipeline.
type Publisher func(tenantID, conversationID string) error

// Server wires the HTTP surface to the orchestrator.
type Server struct {
	echo     *echo.Echo
	orch     *orchestrator.Orchestrator
	log      *conversation.Log
	resolver tenant.Resolver
	publish  Publisher
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the API server. The publisher is optional; without
// one, closed conversations wait for the next learning sweep.
func NewServer(orch *orchestrator.Orchestrator, log *conversation.Log, resolver tenant.Resolver, publish Publisher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("tenant resolver cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		orch:     orch,
		log:      log,
		resolver: resolver,
		publish:  publish,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/turns", s.handleTurn)
	v1.POST("/conversations/:id/close", s.handleClose)
}

// TurnRequest is the request body for POST /api/v1/turns.
type TurnRequest struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// CloseRequest is the request body for POST /api/v1/conversations/:id/close.
type CloseRequest struct {
	TenantID string `json:"tenant_id"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// scopedContext resolves the tenant or fails the request closed.
func (s *Server) scopedContext(c echo.Context, tenantID string) (context.Context, error) {
	if tenantID == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "tenant_id field is required")
	}
	scope, err := s.resolver.Resolve(c.Request().Context(), tenantID)
	if err != nil {
		s.logger.Warn("tenant resolution failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusForbidden, "unknown tenant")
	}
	return tenant.NewContext(c.Request().Context(), scope), nil
}

// handleTurn runs one conversation turn.
func (s *Server) handleTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ConversationID == "" || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id and message fields are required")
	}

	ctx, err := s.scopedContext(c, req.TenantID)
	if err != nil {
		return err
	}

	result, err := s.orch.ProcessTurn(ctx, req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, conversation.ErrClosed) {
			return echo.NewHTTPError(http.StatusConflict, "conversation is closed")
		}
		s.logger.Error("turn processing failed",
			zap.String("conversation_id", req.ConversationID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "turn processing failed")
	}
	return c.JSON(http.StatusOK, result)
}

// handleClose closes a conversation and hands it to the learning
// pipeline.
func (s *Server) handleClose(c echo.Context) error {
	var req CloseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conversationID := c.Param("id")

	ctx, err := s.scopedContext(c, req.TenantID)
	if err != nil {
		return err
	}

	if err := s.log.Close(ctx, conversationID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		s.logger.Error("closing conversation failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "closing conversation failed")
	}

	if s.publish != nil {
		if err := s.publish(req.TenantID, conversationID); err != nil {
			// The close itself succeeded; learning will pick the
			// conversation up on a later event or sweep.
			s.logger.Warn("publishing close event failed",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return c.NoContent(http.StatusAccepted)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
