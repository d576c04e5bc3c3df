// Package seller runs the image gateway's HTTP surface: the paywalled
// generation route, deferred settlement, signed receipts, metrics, and
// realtime streaming.
package seller

import (
	"context"
	"database/sql"
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

	"github.com/pixelmint/pixelmint/internal/config"
	"github.com/pixelmint/pixelmint/internal/facilitator"
	"github.com/pixelmint/pixelmint/internal/idgen"
	"github.com/pixelmint/pixelmint/internal/logging"
	"github.com/pixelmint/pixelmint/internal/metrics"
	"github.com/pixelmint/pixelmint/internal/paywall"
	"github.com/pixelmint/pixelmint/internal/pricing"
	"github.com/pixelmint/pixelmint/internal/realtime"
	"github.com/pixelmint/pixelmint/internal/receipts"
	"github.com/pixelmint/pixelmint/internal/usdc"
	"github.com/pixelmint/pixelmint/pkg/x402"
)

// Server wraps the gateway HTTP server and its dependencies.
type Server struct {
	cfg          *config.Config
	paywall      *paywall.Paywall
	facilitator  *facilitator.Client
	receipts     *receipts.Service
	realtimeHub  *realtime.Hub
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

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

// WithFacilitator sets a custom facilitator client (for testing)
func WithFacilitator(f *facilitator.Client) Option {
	return func(s *Server) {
		s.facilitator = f
	}
}

// New creates a new gateway server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg.SellerWallet == "" {
		return nil, fmt.Errorf("SELLER_WALLET is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Receipt storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var store receipts.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		store = receipts.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL receipt storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = receipts.NewMemoryStore()
		s.logger.Info("using in-memory receipt storage (data will not persist)")
	}

	signer := receipts.NewSigner(cfg.ReceiptSecret)
	if signer == nil {
		s.logger.Warn("RECEIPT_HMAC_SECRET not set, receipt signing disabled")
	}
	s.receipts = receipts.NewService(store, signer)

	if s.facilitator == nil {
		s.facilitator = facilitator.New(cfg.FacilitatorURL)
	}
	if s.facilitator == nil {
		s.logger.Info("no facilitator configured, settlements use dev-mode pseudo transactions")
	} else {
		s.logger.Info("facilitator configured", "url", cfg.FacilitatorURL)
	}

	s.realtimeHub = realtime.NewHub(s.logger)

	s.paywall = paywall.New(paywall.Config{
		Recipient:    cfg.SellerWallet,
		Chain:        chainName(cfg.ChainID),
		ChainID:      cfg.ChainID,
		Contract:     cfg.USDCContract,
		DefaultPrice: pricing.DefaultPrice(),
		OnPaymentReceived: func(proof *x402.PaymentProof, route string) {
			metrics.VouchersTotal.WithLabelValues("accepted").Inc()
			s.realtimeHub.BroadcastVoucher(map[string]interface{}{
				"from":   proof.From,
				"to":     proof.To,
				"amount": proof.Value,
				"nonce":  proof.Nonce,
				"route":  route,
			})
		},
		OnPaymentFailed: func(proof *x402.PaymentProof, err error) {
			metrics.VouchersTotal.WithLabelValues("rejected").Inc()
			s.logger.Warn("voucher rejected", "error", err)
		},
	})

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

func chainName(chainID int64) string {
	switch chainID {
	case 8453:
		return "base"
	case 84532:
		return "base-sepolia"
	default:
		return fmt.Sprintf("chain-%d", chainID)
	}
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
			requestID = idgen.Nonce(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400 && status != http.StatusPaymentRequired:
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.POST("/generate_image", s.challengeCounter(), s.paywall.Middleware(), s.handleGenerate)
	s.router.POST("/settle", s.handleSettle)

	// Read-only receipt endpoints
	receipts.NewHandler(s.receipts).RegisterRoutes(s.router.Group("/v1"))
}

// challengeCounter observes 402 responses emitted by the paywall.
func (s *Server) challengeCounter() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		// Rejected vouchers are also 402s; only fresh challenges set the header
		if c.Writer.Status() == http.StatusPaymentRequired &&
			c.Writer.Header().Get("X-Payment-Required") == "true" {
			metrics.ChallengesIssuedTotal.Inc()
			s.realtimeHub.Broadcast(&realtime.Event{
				Type:      realtime.EventChallenge,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"route": c.FullPath()},
			})
		}
	}
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	PendingSettlement int    `json:"pendingSettlements"`
	Timestamp         string `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	pending := s.paywall.PendingCount()
	metrics.PendingSettlements.Set(float64(pending))

	c.JSON(http.StatusOK, HealthResponse{
		Status:            "healthy",
		Version:           "0.1.0",
		PendingSettlement: pending,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting gateway",
			"port", s.cfg.Port,
			"seller", s.cfg.SellerWallet,
			"chain", chainName(s.cfg.ChainID),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("gateway ready")
	}()

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if pending := s.paywall.PendingCount(); pending > 0 {
		s.logger.Warn("shutting down with unsettled payments", "count", pending)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// requirementFor rebuilds the payment requirement a voucher was issued
// against, for facilitator settlement.
func (s *Server) requirementFor(pending *paywall.PendingSettlement) *x402.PaymentRequirement {
	return &x402.PaymentRequirement{
		Price:     usdc.Format(pending.Amount),
		Currency:  "USDC",
		Chain:     chainName(s.cfg.ChainID),
		ChainID:   s.cfg.ChainID,
		Recipient: s.cfg.SellerWallet,
		Contract:  s.cfg.USDCContract,
		Nonce:     pending.Nonce,
	}
}
