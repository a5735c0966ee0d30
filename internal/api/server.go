// Package api provides the HTTP API server for the voice proxy. It wires the gin engine,
// the shared middleware stack and the speech, chat and memory routes, and handles
// graceful shutdown and configuration updates.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/VoiceProxyAPI/internal/api/handlers"
	"github.com/router-for-me/VoiceProxyAPI/internal/api/middleware"
	"github.com/router-for-me/VoiceProxyAPI/internal/config"
	"github.com/router-for-me/VoiceProxyAPI/internal/logging"
	"github.com/router-for-me/VoiceProxyAPI/internal/metrics"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// Server represents the main API server.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	handler *handlers.Handler

	// cfg holds the current configuration; replaced by UpdateConfig.
	cfg atomic.Pointer[config.Config]
}

// NewServer creates and initializes a new API server over the given services.
func NewServer(cfg *config.Config, deps handlers.Deps, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	metrics.SetEnabled(cfg.Metrics)

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(corsMiddleware())
	engine.Use(middleware.RequestDecompressionMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	deps.KeepAlive = keepAliveInterval(cfg)
	s := &Server{
		engine:  engine,
		handler: handlers.New(deps),
	}
	s.cfg.Store(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func keepAliveInterval(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Streaming.KeepAliveSeconds <= 0 {
		return 0
	}
	return time.Duration(cfg.Streaming.KeepAliveSeconds) * time.Second
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes() {
	s.handler.Register(s.engine)

	// OpenAI-style clients usually add the /v1 prefix.
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/chat/completions", s.handler.ChatCompletions)
		v1.POST("/speech-to-text", s.handler.SpeechToText)
		v1.POST("/text-to-speech", s.handler.TextToSpeech)
	}

	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.engine.GET("/debug/logs", s.recentLogs)

	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Voice Proxy API Server",
			"endpoints": []string{
				"POST /chat/completions",
				"POST /speech-to-text",
				"POST /text-to-speech",
				"POST /memory",
				"GET /memory",
				"GET /memory/search",
			},
		})
	})

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Error: "not found"})
	})
}

// recentLogs serves the in-memory log buffer while debug mode is on.
func (s *Server) recentLogs(c *gin.Context) {
	if cfg := s.cfg.Load(); cfg == nil || !cfg.Debug {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Error: "not found"})
		return
	}
	n := 100
	if raw := c.Query("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			n = v
		}
	}
	level := log.DebugLevel
	if raw := c.Query("level"); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: "Invalid level: " + raw})
			return
		}
		level = parsed
	}
	logging.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{"entries": logging.GlobalBuffer.Recent(n, level)})
}

// Engine exposes the Gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins listening for and serving HTTP requests.
// It's a blocking call and will only return on an unrecoverable error.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Infof("API server listening on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.WithField("in_flight", middleware.InFlight()).Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateConfig applies the hot-reloadable parts of cfg: log level and output, metrics
// and the SSE heartbeat interval. Listener address and providers need a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	old := s.cfg.Swap(cfg)

	if old == nil || old.LogLevel != cfg.LogLevel || old.Debug != cfg.Debug {
		level := cfg.LogLevel
		if cfg.Debug {
			level = "debug"
		}
		logging.SetLogLevel(level)
	}
	if old == nil || old.LoggingToFile != cfg.LoggingToFile || old.LogDir != cfg.LogDir {
		if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
			log.Errorf("failed to reconfigure log output: %v", err)
		}
	}
	if old == nil || old.Metrics != cfg.Metrics {
		metrics.SetEnabled(cfg.Metrics)
		log.Debugf("metrics toggled to %t", cfg.Metrics)
	}
	s.handler.SetKeepAlive(keepAliveInterval(cfg))

	if old != nil && (old.Addr() != cfg.Addr() || old.Chat.Provider != cfg.Chat.Provider) {
		log.Warn("listen address or provider changes take effect after a restart")
	}
}

// corsMiddleware allows browser clients from any origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); origin != "" {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "*")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
