package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/server/handler"
	"github.com/alanyoungcy/ledgersync/internal/server/middleware"
	"github.com/alanyoungcy/ledgersync/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RequestsPerMinute caps requests per client IP when Limiter is set.
	RequestsPerMinute int
	Limiter           domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit and Updates are optional.
type Handlers struct {
	Health       *handler.HealthHandler
	Session      *handler.SessionHandler
	Account      *handler.AccountHandler
	Orderbook    *handler.OrderbookHandler
	Transactions *handler.TransactionHandler
	Audit        *handler.AuditHandler
	Updates      *handler.UpdatesHandler
}

// Server is the HTTP and WebSocket API over one wallet session.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Session lifecycle.
	mux.HandleFunc("GET /api/session", handlers.Session.GetSession)
	mux.HandleFunc("POST /api/session/login", handlers.Session.LogIn)
	mux.HandleFunc("POST /api/session/logout", handlers.Session.LogOut)
	mux.HandleFunc("PUT /api/session/orderbook", handlers.Session.SetOrderbook)
	mux.HandleFunc("POST /api/session/vote", handlers.Session.Vote)
	mux.HandleFunc("POST /api/session/vote/dismiss", handlers.Session.DismissVote)

	// Account reads.
	mux.HandleFunc("GET /api/account", handlers.Account.GetAccount)
	mux.HandleFunc("GET /api/account/balances/{asset}", handlers.Account.GetBalance)
	mux.HandleFunc("GET /api/account/history", handlers.Account.GetHistory)
	mux.HandleFunc("GET /api/account/offers", handlers.Account.GetOffers)

	// Market data.
	mux.HandleFunc("GET /api/orderbook", handlers.Orderbook.GetOrderbook)
	mux.HandleFunc("GET /api/trades/{base}/{counter}", handlers.Orderbook.GetArchivedTrades)

	// Mutations.
	mux.HandleFunc("POST /api/offers", handlers.Transactions.CreateOffer)
	mux.HandleFunc("DELETE /api/offers/{id}", handlers.Transactions.RemoveOffer)
	mux.HandleFunc("POST /api/payments", handlers.Transactions.SendPayment)
	mux.HandleFunc("POST /api/trust", handlers.Transactions.ChangeTrust)
	mux.HandleFunc("DELETE /api/trust/{asset}", handlers.Transactions.RemoveTrust)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}

	if handlers.Updates != nil {
		mux.HandleFunc("GET /api/views/{name}", handlers.Updates.GetView)
		mux.HandleFunc("GET /api/updates/effects", handlers.Updates.ReplayEffects)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux

	if cfg.Limiter != nil && cfg.RequestsPerMinute > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RequestsPerMinute, time.Minute, logger)(h)
	}

	// Auth skips itself when APIKey is empty.
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
