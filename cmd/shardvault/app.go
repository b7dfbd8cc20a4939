package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"shardvault/internal/config"
	"shardvault/internal/envelope"
	"shardvault/internal/kv"
	"shardvault/internal/ledger"
	"shardvault/internal/metrics"
	"shardvault/internal/pipeline"
	"shardvault/internal/provider"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

// depositor is implemented by ledgers that can be funded.
type depositor interface {
	Deposit(lane string, resource string, amount uint64) error
	Balances() ([]ledger.Balance, error)
}

// app holds everything a command needs, opened from one Config.
type app struct {
	cfg      config.Config
	db       kv.Store
	credits  ledger.Ledger
	registry *provider.Registry
	metrics  *metrics.Metrics
	pipe     *pipeline.Pipeline
	closers  []io.Closer
}

// openApp opens the store, ledger and providers named by cfg. Without any
// configured provider, shards go to a dir provider under the data dir.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Backend != kv.BackendMemory || cfg.Ledger == config.LedgerSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	a := &app{cfg: cfg, metrics: metrics.New()}

	db, err := kv.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	switch cfg.Ledger {
	case config.LedgerMemory:
		a.credits = ledger.NewMemory()
	case config.LedgerUnlimited:
		a.credits = ledger.Unlimited{}
	default:
		l, err := ledger.OpenSQLite(ctx, cfg.LedgerPath())
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		a.credits = l
		a.closers = append(a.closers, l)
	}

	specs := cfg.Providers
	if len(specs) == 0 {
		specs = []provider.Spec{{ID: "local", Kind: provider.KindDir, Path: filepath.Join(cfg.DataDir, "shards")}}
	}
	registry, err := provider.BuildRegistry(specs)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}
	a.registry = registry

	r, _ := cfg.RedundancyPolicy()
	ladder, _ := cfg.ChunkLadder()
	compression, _ := envelope.ParseCompression(cfg.Compression)

	pipe, err := pipeline.New(db, a.credits, registry,
		pipeline.WithRedundancy(r),
		pipeline.WithKeyMode(envelope.KeyMode(cfg.KeyMode)),
		pipeline.WithCompression(compression),
		pipeline.WithLadder(ladder),
		pipeline.WithCacheSize(cfg.CacheSize),
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.pipe = pipe
	return a, nil
}

func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

// withApp opens the app for cmd, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(a *app) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(a)
}
