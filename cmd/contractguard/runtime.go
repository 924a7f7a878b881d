package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aspace-os/contractguard/pkg/auditlog"
	"github.com/aspace-os/contractguard/pkg/config"
	"github.com/aspace-os/contractguard/pkg/contractsync"
	"github.com/aspace-os/contractguard/pkg/database"
	"github.com/aspace-os/contractguard/pkg/guard"
	"github.com/aspace-os/contractguard/pkg/observability"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
	projstore "github.com/aspace-os/contractguard/pkg/store/projection"
	"github.com/aspace-os/contractguard/pkg/synclock"
)

// runtime is the wired set of subsystems shared by serve, sync and the
// ledger read commands.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	tel    *observability.Provider
	guard  *guard.Guard
	syncer *contractsync.Syncer

	closers []func() error
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

func newRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime, error) {
	rt := &runtime{
		cfg:    cfg,
		logger: observability.NewLogger(cfg.LogLevel, cfg.LogFormat, logOut),
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tel, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	rt.tel = tel

	opts := guard.Options{
		Registry:    schema.NewRegistry(cfg.SchemasDir),
		ExamplesDir: cfg.ExamplesDir,
		AirLock:     cfg.AirLock,
		Logger:      rt.logger,
		Telemetry:   tel,
	}
	if !cfg.WritesDisabled() {
		opts.Ledger, opts.Projections = rt.openStores(ctx)
	}
	rt.guard = guard.New(ctx, opts)

	sink, err := auditlog.NewSink(ctx, cfg.Audit())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to init audit sink: %w", err)
	}
	if c, ok := sink.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, c.Close)
	}

	rt.syncer = contractsync.NewSyncer(rt.guard, contractsync.Options{
		Dir:    cfg.ExamplesDir,
		Sink:   sink,
		Locker: rt.locker(ctx),
		Logger: rt.logger,
	})
	return rt, nil
}

// openStores returns nil stores when the database cannot be reached; the
// guard then starts in Air Lock mode.
func (rt *runtime) openStores(ctx context.Context) (ledger.Ledger, projstore.Store) {
	db, err := database.Open(ctx, rt.cfg.DatabaseURL)
	if err != nil {
		rt.logger.WarnContext(ctx, "database unavailable", "error", err)
		return nil, nil
	}
	rt.closers = append(rt.closers, db.Close)

	l := ledger.NewSQLLedger(db)
	if err := l.Init(ctx); err != nil {
		rt.logger.WarnContext(ctx, "ledger schema init failed", "error", err)
		return nil, nil
	}
	p := projstore.NewSQLStore(db)
	if err := p.Init(ctx); err != nil {
		rt.logger.WarnContext(ctx, "projection schema init failed", "error", err)
		return nil, nil
	}
	return l, p
}

func (rt *runtime) locker(ctx context.Context) synclock.Locker {
	if rt.cfg.RedisAddr == "" {
		return synclock.NewLocalLocker()
	}
	rl := synclock.NewRedisLocker(rt.cfg.RedisAddr, "", 0)
	if err := rl.Ping(ctx); err != nil {
		rt.logger.WarnContext(ctx, "redis unavailable, using in-process sync lock", "addr", rt.cfg.RedisAddr, "error", err)
		_ = rl.Close()
		return synclock.NewLocalLocker()
	}
	rt.closers = append(rt.closers, rl.Close)
	return rl
}

// Close releases subsystems in reverse order of creation.
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.WarnContext(ctx, "close failed", "error", err)
		}
	}
	rt.closers = nil
	if rt.tel != nil {
		if err := rt.tel.Shutdown(ctx); err != nil {
			rt.logger.WarnContext(ctx, "telemetry shutdown failed", "error", err)
		}
	}
}
