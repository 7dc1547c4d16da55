package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"hwid-license-server/internal/audit"
	"hwid-license-server/internal/config"
	"hwid-license-server/internal/session"
)

// openAudit opens every configured audit sink. The returned func closes them
// in reverse order.
func openAudit(cfg config.AuditConfig, log *slog.Logger) (audit.Multi, func(), error) {
	var (
		sinks   audit.Multi
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.LogPath != "" {
		fs, err := audit.OpenFile(cfg.LogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open action log: %w", err)
		}
		sinks = append(sinks, fs)
		closers = append(closers, func() { closeLogged(log, "action log", fs) })
	}
	if cfg.NatsURL != "" {
		ns, closeNATS, err := audit.ConnectNATS(cfg.NatsURL, cfg.NatsSubject, "licensed")
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, ns)
		closers = append(closers, closeNATS)
		log.Info("publishing audit events", "subject", cfg.NatsSubject)
	}
	return sinks, closeAll, nil
}

func openSessions(ctx context.Context, cfg config.AdminConfig) (session.Store, func(), error) {
	if cfg.SessionBackend != "redis" {
		return session.NewMemoryStore(cfg.MaxSessions, cfg.SessionTTL), func() {}, nil
	}
	client := session.DialRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return session.NewRedisStore(client, cfg.MaxSessions), func() { _ = client.Close() }, nil
}

func closeLogged(log *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Error("close failed", "what", what, "err", err)
	}
}
