// Package api exposes the REST and WebSocket surface of the engine.
// Every error crossing this boundary is rendered as
// {success: false, message: ...}; no failure terminates the process.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/backtest"
	"grid-trading-bot/internal/bot"
	"grid-trading-bot/internal/database"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
	"grid-trading-bot/internal/portfolio"
	"grid-trading-bot/internal/scanner"
	"grid-trading-bot/internal/strategy"
)

// RateLimiter is a simple in-memory per-endpoint limiter
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether another request fits in the window for key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Deps carries everything the handlers reach into
type Deps struct {
	Config    *config.Config
	Engine    *bot.Engine
	Runner    *backtest.Runner
	Scanner   *scanner.Scanner
	Allocator *portfolio.Allocator
	Analyzer  *analysis.Analyzer
	Repo      *database.Repository
	Bus       *events.EventBus
}

// Server is the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	deps        Deps
	rateLimiter *RateLimiter
	hub         *WSHub
	logger      zerolog.Logger
}

// NewServer builds the router and wires the WebSocket hub onto the bus
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		deps:        deps,
		rateLimiter: NewRateLimiter(120, time.Minute),
		hub:         NewWSHub(logger),
		logger:      logger,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go s.hub.Run()
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/config", s.handleGetConfig)
		api.POST("/config/update", s.handleUpdateConfig)

		api.POST("/bot/start", s.handleBotStart)
		api.POST("/bot/stop", s.handleBotStop)
		api.POST("/bot/pause", s.handleBotPause)
		api.POST("/bot/resume", s.handleBotResume)
		api.GET("/bot/status", s.handleBotStatus)
		api.GET("/bot/metrics", s.handleBotMetrics)
		api.GET("/bot/orders", s.handleBotOrders)

		api.POST("/backtest/run", s.handleBacktestRun)
		api.GET("/backtest/status", s.handleBacktestStatus)
		api.GET("/backtest/results", s.handleBacktestResults)
		api.POST("/backtest/stop", s.handleBacktestStop)
		api.GET("/backtest/results/:run_id", s.handleBacktestResultByID)

		api.GET("/history/fills", s.handleHistoryFills)
		api.GET("/history/trades", s.handleHistoryTrades)

		api.POST("/market/scan", s.handleMarketScan)
		api.GET("/market/scanner-config", s.handleGetScannerConfig)
		api.POST("/market/scanner-config", s.handleUpdateScannerConfig)

		api.POST("/multi-pair/start", s.handleMultiPairStart)
		api.POST("/multi-pair/stop", s.handleMultiPairStop)
		api.GET("/multi-pair/status", s.handleMultiPairStatus)

		api.GET("/mtf/status", s.handleMTFStatus)
		api.POST("/mtf/analyze", s.handleMTFAnalyze)
	}
}

// internal-state endpoints never touch the exchange, no limit needed
var noRateLimitPaths = map[string]bool{
	"/api/bot/status":            true,
	"/api/bot/metrics":           true,
	"/api/bot/orders":            true,
	"/api/backtest/status":       true,
	"/api/backtest/results":      true,
	"/api/config":                true,
	"/api/market/scanner-config": true,
	"/api/multi-pair/status":     true,
	"/api/mtf/status":            true,
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if noRateLimitPaths[path] {
			c.Next()
			return
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "rate limit exceeded, slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// fail renders the uniform error envelope
func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"message": err.Error(),
	})
}

// statusFor maps engine errors onto HTTP statuses: conflicts are 409,
// missing resources 404, caller mistakes 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backtest.ErrAlreadyRunning),
		errors.Is(err, bot.ErrAlreadyRunning),
		errors.Is(err, portfolio.ErrAlreadyRunning),
		errors.Is(err, grid.ErrRecenterInFlight):
		return http.StatusConflict
	case errors.Is(err, backtest.ErrNoResults),
		errors.Is(err, portfolio.ErrPairNotFound),
		errors.Is(err, pgx.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, bot.ErrNotRunning),
		errors.Is(err, portfolio.ErrNotRunning),
		errors.Is(err, portfolio.ErrCapitalExhausted),
		errors.Is(err, strategy.ErrInsufficientData):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}
