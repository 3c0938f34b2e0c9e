package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/health"
	intnet "github.com/energizer-project/rconctl/internal/network"
	"github.com/energizer-project/rconctl/internal/util"
)

// HistoryReader reads recorded commands. *db.HistoryStore satisfies it.
type HistoryReader interface {
	List(ctx context.Context, filter db.HistoryFilter) ([]db.HistoryEntry, error)
}

// HealthReader reports the latest profile probes. *health.Monitor
// satisfies it.
type HealthReader interface {
	Statuses() []health.Status
}

// Server is the HTTP gateway.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	executor console.Executor
	history  HistoryReader
	health   HealthReader
	tokens   *TokenIssuer
	logger   zerolog.Logger

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a gateway. history may be nil when history is disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, executor console.Executor, history HistoryReader) *Server {
	security := cfg.GetSecurity()
	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		executor: executor,
		history:  history,
		tokens:   NewTokenIssuer(security.JWTSecret, security.JWTIssuer),
		logger:   util.ComponentLogger("gateway"),
	}
}

// SetHealth attaches a health reader. Without one /api/health answers 404.
func (s *Server) SetHealth(h HealthReader) {
	s.health = h
}

// Tokens returns the issuer used to verify bearer tokens.
func (s *Server) Tokens() *TokenIssuer {
	return s.tokens
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	gw := s.cfg.GetGateway()
	addr := net.JoinHostPort(gw.BindAddress, strconv.Itoa(gw.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if gw.TLSEnabled {
		if err := s.prepareCertificate(gw); err != nil {
			return err
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", gw.TLSEnabled).Msg("gateway starting")
	s.emit(ctx, events.EventGatewayStarted, addr, gw.TLSEnabled)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if gw.TLSEnabled {
		err = s.httpServer.ServeTLS(ln, gw.TLSCertFile, gw.TLSKeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}

	s.emit(context.WithoutCancel(ctx), events.EventGatewayStopped, addr, gw.TLSEnabled)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway error: %w", err)
	}

	s.logger.Info().Msg("gateway stopped")
	return nil
}

// prepareCertificate generates a self-signed pair when asked to and the
// configured files are missing.
func (s *Server) prepareCertificate(gw config.GatewayConfig) error {
	if util.FileExists(gw.TLSCertFile) && util.FileExists(gw.TLSKeyFile) {
		return nil
	}
	if !gw.AutoGenerateCert {
		return fmt.Errorf("TLS certificate %s or key %s not found", gw.TLSCertFile, gw.TLSKeyFile)
	}
	if err := util.GenerateSelfSignedCert(gw.TLSCertFile, gw.TLSKeyFile, gw.BindAddress, "localhost"); err != nil {
		return fmt.Errorf("failed to generate gateway certificate: %w", err)
	}
	return nil
}

func (s *Server) emit(ctx context.Context, typ events.EventType, addr string, useTLS bool) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(ctx, events.Event{
		Type:    typ,
		Source:  console.SourceGateway,
		Payload: events.GatewayPayload{Address: addr, TLS: useTLS},
	})
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	security := s.cfg.GetSecurity()
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.tokens, security)

	// ---- Public endpoints (no auth required) ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	// ---- Protected endpoints ----
	protected := router.Group("/api")
	protected.Use(auth.IPWhitelist(), auth.RequireAuth())
	{
		protected.GET("/profiles", s.handleListProfiles)
		protected.POST("/profiles/:name/execute", s.handleExecuteProfile)
		protected.POST("/execute", s.handleExecuteAdhoc)
		protected.GET("/history", s.handleHistory)
		protected.GET("/health", s.handleHealth)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the gateway.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
