package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ledgersync/internal/crypto"
	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/server"
	"github.com/alanyoungcy/ledgersync/internal/server/handler"
	"github.com/alanyoungcy/ledgersync/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// WatchMode logs in with the configured credential, selects the configured
// pair and publishes updates until ctx is cancelled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startPublisher(ctx, g, deps)

	if err := a.startSession(ctx, deps); err != nil {
		return err
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

// ServerMode runs the HTTP and WebSocket API. A configured credential is
// logged in at startup; otherwise clients log in through the API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	if deps.SignalBus == nil {
		return errors.New("app: server mode: redis signal bus is required")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startPublisher(ctx, g, deps)

	if a.cfg.Wallet.HasCredential() {
		if err := a.startSession(ctx, deps); err != nil {
			return err
		}
	} else if err := a.selectPair(ctx, deps); err != nil {
		return err
	}

	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startPublisher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Publisher.Run(ctx)
	})
}

// startSession resolves the configured credential and logs in. An invalid
// credential or a failed account load is fatal at startup.
func (a *App) startSession(ctx context.Context, deps *Dependencies) error {
	cred, err := crypto.ResolveCredential(a.cfg.Wallet.CredentialSource())
	if err != nil {
		return fmt.Errorf("app: resolve credential: %w", err)
	}
	if err := deps.Session.LogIn(ctx, cred); err != nil {
		return fmt.Errorf("app: log in: %w", err)
	}

	view := deps.Session.View()
	switch {
	case view.InvalidCredential:
		return fmt.Errorf("app: log in: %w", domain.ErrSigning)
	case view.SetupError:
		return errors.New("app: log in: account setup failed")
	}
	a.logger.InfoContext(ctx, "session started",
		slog.String("account", view.AccountID),
		slog.String("state", string(view.State)),
		slog.Bool("can_sign", view.CanSign),
	)

	return a.selectPair(ctx, deps)
}

func (a *App) selectPair(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Orderbook.Enabled() {
		return nil
	}
	pair, err := a.cfg.Orderbook.Pair()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := deps.Session.SetOrderbook(ctx, pair); err != nil {
		return fmt.Errorf("app: select orderbook %s: %w", pair, err)
	}
	a.logger.InfoContext(ctx, "orderbook selected", slog.String("pair", pair.String()))
	return nil
}

// startHTTPServer registers the API and the WebSocket hub and shuts both
// down when ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
		Status:    deps.Session.View,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.Health, a.logger),
		Session:      handler.NewSessionHandler(deps.Session, a.logger),
		Account:      handler.NewAccountHandler(deps.Session, a.logger),
		Transactions: handler.NewTransactionHandler(deps.Session, a.logger),
	}
	var series handler.TradeSeriesReader
	if deps.TradeStore != nil {
		series = deps.TradeStore
	}
	handlers.Orderbook = handler.NewOrderbookHandler(deps.Session, series, a.logger)
	if deps.ViewCache != nil {
		handlers.Updates = handler.NewUpdatesHandler(deps.SignalBus, deps.ViewCache, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
		Limiter:           deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
