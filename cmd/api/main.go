package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/shop-ledger/internal/api"
	"github.com/example/shop-ledger/internal/app"
	"github.com/example/shop-ledger/internal/config"
	"github.com/example/shop-ledger/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ledger api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		return err
	}

	rt, err := app.Start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	oauthServer, jwtValidator, err := rt.Auth()
	if err != nil {
		return err
	}
	auditor, err := rt.Auditor()
	if err != nil {
		return err
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		OAuth:        oauthServer,
		JWTValidator: jwtValidator,
		Ledger:       rt.Ledger,
		Auditor:      auditor,
		RateLimiter:  rt.RateLimiter(),
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		return err
	}
	if tlsOpts := rt.TLS(); tlsOpts.Enabled() {
		tlsCfg, err := security.LoadServerTLSConfig(tlsOpts)
		if err != nil {
			ln.Close()
			return err
		}
		srv.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	} else if cfg.IsProduction() {
		logger.Warn("serving plain HTTP in production; terminate TLS upstream")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ledger api listening", "addr", cfg.APIAddr, "tls", srv.TLSConfig != nil)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := auditor.SinkErr(); err != nil {
		logger.Warn("audit log sink failed", "error", err)
	}
	logger.Info("ledger api stopped", "audit_head", auditor.Head())
	return nil
}
