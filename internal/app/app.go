// Package app wires configuration into the long-lived pieces the binaries
// share: the ledger service, event publisher, token keys and audit chain.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/example/shop-ledger/internal/auth"
	"github.com/example/shop-ledger/internal/config"
	"github.com/example/shop-ledger/internal/events"
	"github.com/example/shop-ledger/internal/ledger"
	"github.com/example/shop-ledger/internal/security"
	"github.com/example/shop-ledger/pkg/audit"
)

// NewLogger returns the JSON logger every binary uses. Development gets
// debug output.
func NewLogger(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "development" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Runtime owns the connections opened for one process.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Ledger    *ledger.LedgerService
	Publisher events.Publisher
	// Redis is nil unless REDIS_ADDR is set.
	Redis *redis.Client

	closers []func() error
}

// Start opens the Entry Store and the event sink named by cfg.
func Start(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger}

	if cfg.RedisAddr != "" {
		rt.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rt.closers = append(rt.closers, rt.Redis.Close)
	}

	switch cfg.EventSink {
	case config.EventSinkRedis:
		if rt.Redis == nil {
			return nil, errors.New("redis event sink needs REDIS_ADDR")
		}
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("redis event sink: %w", err)
		}
		rt.Publisher = events.NewRedisPublisher(rt.Redis, "")
	case config.EventSinkKafka:
		rt.Publisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
	default:
		rt.Publisher = events.Nop{}
	}
	rt.closers = append(rt.closers, rt.Publisher.Close)

	store, err := ledger.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	rt.Ledger = ledger.NewLedgerService(store, ledger.NewValidator(cfg.NetCreditPolicy), rt.Publisher, logger)
	rt.closers = append(rt.closers, rt.Ledger.Close)

	logger.Info("ledger runtime started", "driver", cfg.DBDriver, "event_sink", cfg.EventSink, "env", cfg.Environment)
	return rt, nil
}

// Close releases everything Start opened, newest first.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Keys loads the token signing key. Outside production a missing key file
// means an ephemeral key, so tokens do not survive a restart.
func (rt *Runtime) Keys() (*auth.KeySet, error) {
	if rt.Config.SigningKeyFile != "" {
		return auth.LoadKeySet(rt.Config.SigningKeyFile)
	}
	rt.Logger.Warn("TOKEN_SIGNING_KEY_FILE not set, using an ephemeral signing key")
	return auth.NewKeySet()
}

// ClientStore loads the registered API clients. Without a clients file the
// store is empty and every token request is refused.
func (rt *Runtime) ClientStore() (auth.ClientStore, error) {
	if rt.Config.ClientsFile == "" {
		rt.Logger.Warn("API_CLIENTS_FILE not set, no API clients can obtain tokens")
		store, err := auth.NewStaticClientStore()
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := auth.LoadClientStore(rt.Config.ClientsFile)
	if err != nil {
		return nil, err
	}
	rt.Logger.Info("loaded api clients", "count", store.Len())
	return store, nil
}

// Auth builds the token issuer and the validator that checks its tokens.
func (rt *Runtime) Auth() (*auth.OAuthServer, *auth.JWTValidator, error) {
	keys, err := rt.Keys()
	if err != nil {
		return nil, nil, fmt.Errorf("load signing key: %w", err)
	}
	clients, err := rt.ClientStore()
	if err != nil {
		return nil, nil, fmt.Errorf("load api clients: %w", err)
	}
	oauth := &auth.OAuthServer{
		Store:          clients,
		Keys:           keys,
		Issuer:         rt.Config.TokenIssuer,
		AccessTokenTTL: rt.Config.TokenTTL,
	}
	return oauth, &auth.JWTValidator{KeySet: keys, Issuer: rt.Config.TokenIssuer}, nil
}

// Auditor returns the audit chain, mirrored to AUDIT_LOG_FILE when set. An
// existing file is verified and the new entries chain onto its last one.
func (rt *Runtime) Auditor() (*audit.ChainLogger, error) {
	if rt.Config.AuditLogFile == "" {
		return audit.NewChainLogger(), nil
	}
	f, err := os.OpenFile(rt.Config.AuditLogFile, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	existing, err := audit.ReadChain(f)
	if err == nil {
		err = audit.VerifyChain(existing)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audit log %s: %w", rt.Config.AuditLogFile, err)
	}
	rt.closers = append(rt.closers, f.Close)

	opts := []audit.Option{audit.WithSink(f)}
	if n := len(existing); n > 0 {
		last := existing[n-1]
		opts = append(opts, audit.WithHead(last.Seq, last.Hash))
		rt.Logger.Info("resuming audit chain", "seq", last.Seq)
	}
	return audit.NewChainLogger(opts...), nil
}

// RateLimiter is nil when Redis is not configured.
func (rt *Runtime) RateLimiter() *security.RedisTokenBucket {
	if rt.Redis == nil {
		return nil
	}
	return &security.RedisTokenBucket{
		Redis:      rt.Redis,
		Prefix:     "ledger_api",
		Capacity:   rt.Config.RateLimitCapacity,
		RefillRate: float64(rt.Config.RateLimitRefillSec),
	}
}

// TLS returns the server TLS settings from the config.
func (rt *Runtime) TLS() security.TLSConfig {
	return security.TLSConfig{
		CertFile:          rt.Config.TLSCertFile,
		KeyFile:           rt.Config.TLSKeyFile,
		CAFile:            rt.Config.TLSCAFile,
		RequireClientAuth: rt.Config.TLSCAFile != "",
	}
}
