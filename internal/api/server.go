// Package api exposes the execution core over HTTP: signal intake,
// guardian dispatch, and health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/fleet"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/guard"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/guardian"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/rules"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
}

// Pinger is the health-check slice of the database layer.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// RulesSource loads per-user rules.
type RulesSource interface {
	Get(ctx context.Context, userID, strategy string) (*rules.UserRules, error)
}

// Server is the HTTP front of the execution core.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	fleet      *fleet.Fleet
	rules      RulesSource
	engine     *rules.Engine
	guard      *guard.Guard
	dispatcher *guardian.Dispatcher

	db     Pinger
	rdb    *redis.Client
	logger *logging.Logger
}

// NewServer wires the HTTP layer over the execution components. db and
// rdb may be nil; health then reports them as disabled.
func NewServer(config ServerConfig, fl *fleet.Fleet, rulesSource RulesSource, engine *rules.Engine, g *guard.Guard, dispatcher *guardian.Dispatcher, db Pinger, rdb *redis.Client, logger *logging.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if logger == nil {
		logger = logging.WithComponent("api")
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:     router,
		config:     config,
		fleet:      fl,
		rules:      rulesSource,
		engine:     engine,
		guard:      g,
		dispatcher: dispatcher,
		db:         db,
		rdb:        rdb,
		logger:     logger,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/trade", s.traceMiddleware(), s.handleTrade)
	s.router.POST("/guardian", s.traceMiddleware(), s.handleGuardian)
}

// traceMiddleware tags every request with a trace ID carried through
// the logs and echoed back to the caller.
func (s *Server) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-Id", traceID)
		c.Next()
	}
}

func (s *Server) requestLogger(c *gin.Context) *logging.Logger {
	if traceID, ok := c.Get("trace_id"); ok {
		return s.logger.WithTraceID(traceID.(string))
	}
	return s.logger
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("http server listening", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports component health. The venue is deliberately not
// probed here; a health poller must not burn API weight.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"
	if s.db != nil {
		dbStatus = "healthy"
		if err := s.db.HealthCheck(ctx); err != nil {
			dbStatus = "unhealthy"
			status = "degraded"
		}
	}

	redisStatus := "disabled"
	if s.rdb != nil {
		redisStatus = "healthy"
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"database": dbStatus,
		"redis":    redisStatus,
		"users":    s.fleet.Size(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}
