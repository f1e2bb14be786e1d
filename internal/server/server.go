// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
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

	"github.com/mbd888/scrollguard/internal/audit"
	"github.com/mbd888/scrollguard/internal/authproof"
	"github.com/mbd888/scrollguard/internal/classifier"
	"github.com/mbd888/scrollguard/internal/config"
	"github.com/mbd888/scrollguard/internal/health"
	"github.com/mbd888/scrollguard/internal/ingest"
	"github.com/mbd888/scrollguard/internal/logging"
	"github.com/mbd888/scrollguard/internal/metrics"
	"github.com/mbd888/scrollguard/internal/penalty"
	"github.com/mbd888/scrollguard/internal/ratelimit"
	"github.com/mbd888/scrollguard/internal/realtime"
	"github.com/mbd888/scrollguard/internal/scoring"
	"github.com/mbd888/scrollguard/internal/security"
	"github.com/mbd888/scrollguard/internal/session"
	"github.com/mbd888/scrollguard/internal/validation"
	"github.com/mbd888/scrollguard/internal/vault"
)

// staleJobInterval is how often orphaned in_progress jobs are requeued.
const staleJobInterval = time.Minute

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        session.Store
	queue        penalty.Queue
	engine       *scoring.Engine
	ingestSvc    *ingest.Service
	worker       *penalty.Worker
	vault        *vault.Vault
	settler      *vault.Chain
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	verifier     authproof.Verifier
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithVerifier sets a custom event-proof verifier (for testing)
func WithVerifier(v authproof.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set verifier/logger)
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

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		sessionStore := session.NewPostgresStore(db)
		if err := sessionStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate session store", "error", err)
		}
		s.store = sessionStore

		queue := penalty.NewPostgresQueue(db)
		if err := queue.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate penalty queue", "error", err)
		}
		s.queue = queue

		vaultStore := vault.NewPostgresStore(db)
		if err := vaultStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate vault store", "error", err)
		}
		s.vault = s.buildVault(vaultStore)

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.store = session.NewMemoryStore()
		s.queue = penalty.NewMemoryQueue()
		s.vault = s.buildVault(vault.NewMemoryStore())
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Scoring engine with policy from config
	s.engine = scoring.NewEngine(scoringConfig(cfg))

	// Event-proof verifier (injectable for tests)
	if s.verifier == nil {
		s.verifier = authproof.NewLocalVerifier()
	}

	// Content classifier (optional external service with keyword fallback)
	var cls classifier.Client
	if cfg.ClassifierURL != "" {
		cls = classifier.NewHTTPClient(cfg.ClassifierURL, s.logger)
		s.logger.Info("content classifier enabled", "url", cfg.ClassifierURL)
	} else {
		cls = classifier.Noop{}
		s.logger.Info("no classifier configured, content signal disabled")
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Ingestion pipeline
	s.ingestSvc = ingest.NewService(
		s.store,
		s.engine,
		s.queue,
		s.verifier,
		cls,
		s.logger,
		cfg.PenaltyThreshold,
		cfg.PenaltyAmount,
		ingest.WithNotifier(s.realtimeHub),
	)

	// Penalty worker slashing the custodial vault
	s.worker = penalty.NewWorker(s.queue, s.vault, s.logger,
		penalty.WithMaxAttempts(cfg.MaxJobAttempts),
		penalty.WithNotifier(s.realtimeHub),
	)

	s.healthReg.Register("penalty_queue", func(ctx context.Context) health.Status {
		if _, err := s.queue.Depth(ctx); err != nil {
			return health.Status{Name: "penalty_queue", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "penalty_queue", Healthy: true}
	})

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

// buildVault wires the custodial store with an optional on-chain settler.
func (s *Server) buildVault(store vault.Store) *vault.Vault {
	if !s.cfg.OnChain() {
		s.logger.Info("vault in off-chain mode, slashes settle against the ledger only")
		return vault.New(store, s.logger)
	}

	chain, err := vault.NewChain(vault.ChainConfig{
		RPCURL:       s.cfg.RPCURL,
		PrivateKey:   s.cfg.PrivateKey,
		ChainID:      s.cfg.ChainID,
		USDCContract: s.cfg.USDCContract,
		Treasury:     s.cfg.TreasuryAddress,
	})
	if err != nil {
		s.logger.Warn("failed to create chain settler, falling back to off-chain slashing", "error", err)
		return vault.New(store, s.logger)
	}

	s.settler = chain
	s.logger.Info("on-chain settlement enabled",
		"chain_id", s.cfg.ChainID,
		"treasury", s.cfg.TreasuryAddress,
	)
	return vault.New(store, s.logger, vault.WithSettler(chain))
}

// scoringConfig maps the environment tunables onto the scoring policy.
func scoringConfig(cfg *config.Config) scoring.Config {
	sc := scoring.Default()
	sc.WindowSize = cfg.WindowSize
	sc.DefaultBaselineVariance = cfg.DefaultBaselineVariance
	sc.SteadyStateBonus = cfg.SteadyStateBonus
	sc.DoomVelocityTrigger = cfg.DoomVelocityTrigger
	sc.DoomscrollBonus = cfg.DoomscrollBonus
	sc.NightStartHour = cfg.NightStartHour
	sc.NightEndHour = cfg.NightEndHour
	sc.NightMultiplier = cfg.NightMultiplier
	sc.SessionGapSeconds = float64(cfg.SessionGapSeconds)
	sc.MinSessionEvents = cfg.MinSessionEvents
	return sc
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

	// Security headers and CORS
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limitCfg)
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

// adminAuthMiddleware gates operator routes on the X-Admin-Secret header.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "no admin secret configured",
			})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid admin secret",
			})
			return
		}
		c.Next()
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

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info endpoints
	s.router.GET("/", s.infoHandler)
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	ingest.NewHandlers(s.ingestSvc).RegisterRoutes(v1)
	audit.NewHandlers(s.engine).RegisterRoutes(v1)
	penalty.NewHandlers(s.queue).RegisterRoutes(v1)
	vault.NewHandlers(s.vault).RegisterRoutes(v1)

	// Realtime hub stats (operator curiosity endpoint, read-only)
	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// Operator routes
	admin := s.router.Group("/admin")
	admin.Use(s.adminAuthMiddleware(), validation.AddressParamMiddleware())
	penalty.NewHandlers(s.queue).RegisterAdminRoutes(admin)
	vault.NewHandlers(s.vault).RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
		"name":        "ScrollGuard",
		"description": "Behavioral scoring and penalty pipeline for compulsive-use commitment devices",
		"version":     "0.1.0",
		"chain":       "base-sepolia",
		"currency":    "USDC",
		"on_chain":    s.cfg.OnChain(),
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

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start penalty worker
	go s.worker.Start(runCtx)

	// Requeue jobs orphaned by a previous crash (Postgres only)
	if pq, ok := s.queue.(*penalty.PostgresQueue); ok {
		go s.requeueStaleLoop(runCtx, pq)
	}

	// DB pool gauge collector
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

// requeueStaleLoop periodically returns orphaned in_progress jobs to the queue.
func (s *Server) requeueStaleLoop(ctx context.Context, queue *penalty.PostgresQueue) {
	ticker := time.NewTicker(staleJobInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.RequeueStale(ctx, 5*time.Minute)
			if err != nil {
				s.logger.Error("stale job requeue failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Warn("requeued stale penalty jobs", "count", n)
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, worker, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

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

	// Close chain settler connection
	if s.settler != nil {
		if err := s.settler.Close(); err != nil {
			s.logger.Error("settler close error", "error", err)
		} else {
			s.logger.Info("chain settler closed")
		}
	}

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
