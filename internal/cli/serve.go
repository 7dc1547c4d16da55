package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hwid-license-server/internal/config"
	"hwid-license-server/internal/httpapi"
	"hwid-license-server/internal/lifecycle"
	"hwid-license-server/internal/metrics"
	"hwid-license-server/internal/session"
	"hwid-license-server/internal/store"
	"hwid-license-server/internal/telegram"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the license HTTP server (and the Telegram admin bot when configured)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigFile)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log, cmd.ErrOrStderr())
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}
			return serve(ctx, cfg, ln, log)
		},
	}
}

// serve runs until ctx is cancelled or a component fails, then shuts the
// HTTP server down gracefully. It takes ownership of ln.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, log *slog.Logger) error {
	defer ln.Close()

	st, err := store.Open(cfg.DB.Driver, cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeLogged(log, "store", st)
	log.Info("store ready", "driver", cfg.DB.Driver, "path", cfg.DB.Path)

	sinks, closeSinks, err := openAudit(cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	var (
		bot      *telegram.Bot
		notifier *telegram.Notifier
		tgAPI    telegram.API
	)
	if cfg.TelegramEnabled() {
		api, err := telegram.Dial(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		tgAPI = api
		notifier = telegram.NewNotifier(tgAPI, cfg.Telegram.AdminChatID, log)
		sinks = append(sinks, notifier)
	}

	eng := lifecycle.New(st, lifecycle.WithAudit(sinks), lifecycle.WithLogger(log))
	if tgAPI != nil {
		bot = telegram.NewBot(tgAPI, cfg.Telegram.AdminChatID, eng, log)
	}

	sessStore, closeSessions, err := openSessions(ctx, cfg.Admin)
	if err != nil {
		return err
	}
	defer closeSessions()
	sessions := session.NewManager(cfg.Admin.Password, cfg.Admin.SessionTTL, sessStore)

	var limiter *httpapi.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, err = httpapi.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Clients)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	api := httpapi.New(eng, sessions, httpapi.Options{
		Metrics:       metrics.New(),
		Limiter:       limiter,
		Logger:        log,
		SecureCookies: cfg.Server.SecureCookies,
		TrustProxy:    cfg.Server.TrustProxy,
	})
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
		g.Go(func() error { return notifier.Run(gctx) })
	}
	return g.Wait()
}
