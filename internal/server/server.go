package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"matjip-chat/config"
	"matjip-chat/internal/handler"
	"matjip-chat/internal/middleware"
	"matjip-chat/internal/redis"
	"matjip-chat/internal/services"
	"matjip-chat/internal/transport/httpdto"
	"matjip-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Auth      *handler.AuthHandler
	Chat      *handler.ChatHandler
	WebSocket *WebSocketHandler
}

// Dependencies are the cross-cutting collaborators of the route table. Limiter and Health may be nil.
type Dependencies struct {
	AuthService *services.AuthService
	Users       middleware.UserRecorder
	Limiter     *redis.RateLimiter
	Health      func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Dependencies) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), httpdto.CodeUnhealthy))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	auth := middleware.AuthMiddleware(deps.AuthService, deps.Users)

	var sendLimit, connectLimit []gin.HandlerFunc
	if deps.Limiter != nil {
		sendLimit = append(sendLimit, middleware.MessageRateLimitMiddleware(deps.Limiter))
		connectLimit = append(connectLimit, middleware.WebSocketRateLimitMiddleware(deps.Limiter))
	}

	if s.config.AppMode != ReleaseMode && handlers.Auth != nil {
		s.engine.POST("/api/auth/dev-token", handlers.Auth.DevToken)
	}

	api := s.engine.Group("/api", auth)
	handlers.Chat.Register(api, sendLimit...)

	ws := append([]gin.HandlerFunc{auth}, connectLimit...)
	s.engine.GET("/ws", append(ws, handlers.WebSocket.Handle)...)
}

// Run serves until ctx is cancelled, then shuts down within five seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil && s.logger != nil {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
		return err
	case <-ctx.Done():
	}

	if s.logger != nil {
		s.logger.Infof("Shutting down the server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}
	return nil
}
