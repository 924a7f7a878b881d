package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/aspace-os/contractguard/pkg/api"
	"github.com/aspace-os/contractguard/pkg/contractsync"
	"github.com/aspace-os/contractguard/pkg/guard"
)

// runServeCmd runs the HTTP API until SIGINT or SIGTERM.
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		watch      bool
		addr       string
	)
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.BoolVar(&watch, "watch", false, "Re-sync when files in the examples directory change")
	cmd.StringVar(&addr, "addr", "", "Listen address (default :$PORT)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if addr == "" {
		addr = cfg.Addr()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.Close(context.Background())
	slog.SetDefault(rt.logger)

	if rt.guard.Mode() == guard.ModeReady {
		if _, err := rt.syncer.Run(ctx); err != nil {
			rt.logger.WarnContext(ctx, "initial sync failed", "error", err)
		}
	} else {
		rt.logger.InfoContext(ctx, "initial sync skipped: Air Lock mode active")
	}

	if watch {
		w, err := contractsync.NewWatcher(rt.syncer, contractsync.DefaultDebounce)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := w.Start(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer w.Stop()
	}

	srv := api.NewServer(api.Options{
		Guard:   rt.guard,
		Syncer:  rt.syncer,
		Auth:    api.NewJWTValidator(cfg.JWTSecret),
		Limiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Logger:  rt.logger,
	})
	if cfg.JWTSecret == "" {
		rt.logger.WarnContext(ctx, "API_JWT_SECRET not set: mutating endpoints are unauthenticated")
	}

	_, _ = fmt.Fprintf(stdout, "contractguard listening on %s (mode %s)\n", addr, rt.guard.Mode())
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.ErrorContext(ctx, "server failed", "error", err)
		return 1
	}
	return 0
}
