// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/chainguard/internal/chain"
	"github.com/mbd888/chainguard/internal/circuitbreaker"
	"github.com/mbd888/chainguard/internal/config"
	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/goplus"
	"github.com/mbd888/chainguard/internal/health"
	"github.com/mbd888/chainguard/internal/interpret"
	"github.com/mbd888/chainguard/internal/logging"
	"github.com/mbd888/chainguard/internal/metrics"
	"github.com/mbd888/chainguard/internal/ratelimit"
	"github.com/mbd888/chainguard/internal/realtime"
	"github.com/mbd888/chainguard/internal/retry"
	"github.com/mbd888/chainguard/internal/scan"
	"github.com/mbd888/chainguard/internal/scanner"
	"github.com/mbd888/chainguard/internal/security"
	"github.com/mbd888/chainguard/internal/traces"
	"github.com/mbd888/chainguard/internal/validation"
)

// breakerThreshold trips a data source's circuit after this many
// consecutive failures; breakerOpenFor is how long it stays open.
const (
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	chains       *chain.Registry
	engine       *scanner.Engine
	store        scan.Store
	interpreter  *interpret.Service
	realtimeHub  *realtime.Hub
	healthReg    *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	closeTracer  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithEngine sets a custom scan engine (for testing)
func WithEngine(engine *scanner.Engine) Option {
	return func(s *Server) {
		s.engine = engine
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, cfg.LogFormat),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set engine/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Databases come up slower than the service in container
		// environments, so give the first connection a few tries.
		if err := retry.Do(ctx, 5, time.Second, func() error {
			return db.Ping()
		}); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		store := scan.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate scan store", "error", err)
		}

		s.db = db
		s.store = store
		s.healthReg.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = scan.NewMemoryStore()
		s.logger.Info("using in-memory storage (scan history will not persist)")
	}

	// Chain registry with lazy per-chain RPC clients
	s.chains = chain.NewRegistry(cfg.ChainInfos(), s.logger)
	s.healthReg.Register("chains", health.ChainChecker(s.chains))

	// Build the engine unless one was injected
	if s.engine == nil {
		breaker := circuitbreaker.New(breakerThreshold, breakerOpenFor)

		explorers := make(map[int64]scanner.Explorer, len(cfg.Explorers))
		for chainID, ec := range cfg.Explorers {
			explorers[chainID] = explorer.New(ec.BaseURL, ec.APIKey,
				explorer.WithBreaker(breaker),
				explorer.WithLogger(s.logger),
			)
		}

		securityClient := goplus.New(cfg.GoPlusBaseURL,
			goplus.WithBreaker(breaker),
			goplus.WithLogger(s.logger),
		)

		var provider interpret.Provider
		if cfg.GeminiAPIKey != "" {
			provider = interpret.NewGemini(cfg.GeminiAPIKey, interpret.WithGeminiModel(cfg.GeminiModel))
			s.logger.Info("AI interpretation enabled", "model", cfg.GeminiModel)
		} else {
			s.logger.Info("AI interpretation disabled, using rule-based analysis")
		}
		s.interpreter = interpret.New(provider, interpret.WithLogger(s.logger))

		s.engine = scanner.New(s.chains, explorers, securityClient, s.interpreter,
			scanner.WithTimeouts(scanner.Timeouts{
				RPC:      cfg.RPCTimeout,
				Explorer: cfg.ExplorerTimeout,
				Security: cfg.SecurityTimeout,
			}),
		)
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time scan streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	scanHandler := scanner.NewHandler(s.engine, s.store).WithEvents(s.realtimeHub)
	scanHandler.RegisterRoutes(v1)

	// Realtime hub statistics
	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "ChainGuard",
		"description": "Blockchain address risk scanner",
		"version":     "0.1.0",
		"chains":      s.engine.Chains(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Distributed tracing (no-op when no collector is configured)
	shutdownTracer, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.closeTracer = shutdownTracer
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"chains", len(s.cfg.Chains),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample DB pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush any buffered trace spans
	if s.closeTracer != nil {
		if err := s.closeTracer(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	// Close chain RPC clients
	s.chains.Close()

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
