// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/internal/storage/postgres"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkey/pkg/rp"
	"github.com/jeremyhahn/go-passkey/pkg/rp/rphttp"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "passkey-server",
		Short: "Passkey relying party server",
		Long: `passkey-server hosts WebAuthn registration and authentication
ceremonies over HTTP, backed by an in-memory or Postgres credential store.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("passkey-server\n")
			cmd.Printf("  Version:    %s\n", version)
			cmd.Printf("  Git Commit: %s\n", commit)
			cmd.Printf("  Built:      %s\n", date)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	challenges := rp.NewMemoryChallengeStore()
	challenges.StartEviction(ctx, time.Minute)

	checker := health.NewChecker(5 * time.Second)

	var creds rp.CredentialStore
	if cfg.Database.DSN != "" {
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, cfg.Database.DSN); err != nil {
				return err
			}
		}
		pool, err := postgres.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := postgres.NewCredentialStore(pool)
		store.StrictSignCount = cfg.RP.StrictSignCount
		creds = store
		checker.Register("database", pool.Ping)
		logger.Info("using postgres credential store")
	} else {
		store := rp.NewMemoryCredentialStore()
		store.StrictSignCount = cfg.RP.StrictSignCount
		creds = store
		logger.Warn("using in-memory credential store, registrations will not survive restarts")
	}

	party, err := rp.New(rp.Params{
		Config:          &cfg.RP,
		ChallengeStore:  challenges,
		CredentialStore: creds,
		SessionSecret:   []byte(cfg.Session.Secret),
		SessionTTL:      cfg.Session.TTL,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create relying party: %w", err)
	}

	handler := rphttp.NewHandler(party).
		WithLogger(logger).
		WithLoginPath(cfg.Session.LoginPath).
		WithSecureCookies(cfg.Session.CookieSecure)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		})
		defer limiter.Close()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Route("/api/v1/passkey", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		rphttp.Mount(r, handler)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", checker.LivenessHandler())
	r.Get("/readyz", checker.ReadinessHandler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	logger.Info("server started",
		"listen", cfg.Listen,
		"rp_id", cfg.RP.RPID,
		"version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}
