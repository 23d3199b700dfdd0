package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flashLedger/internal/aggregate"
	"flashLedger/internal/config"
	"flashLedger/internal/model"
	"flashLedger/internal/storage/leveldb"
	"flashLedger/internal/storage/postgres"
)

func newAggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate receipts into pool window metrics",
		RunE:  runAggregate,
	}

	flags := cmd.Flags()
	flags.String("in", "./data/receipts.jsonl", "receipts JSONL input path")
	flags.String("window", "5m", "aggregation window (e.g. 5m, 1h)")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.Int("batch-size", 1000, "rows per upsert batch")
	flags.String("state-file", "", "state file path (empty uses the ledger_state table)")
	flags.String("recompute-from", "", "recompute from unix seconds or RFC3339")
	flags.Bool("ensure-schema", false, "create tables before aggregating")
	return cmd
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAggregate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}

	windowDuration, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}
	if windowDuration <= 0 {
		return fmt.Errorf("window must be positive")
	}
	windowSeconds := uint64(windowDuration.Seconds())
	if windowSeconds == 0 {
		return fmt.Errorf("window must be at least 1s")
	}

	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pools, err := loadPoolInfo(ctx, cfg.StateDir)
	if err != nil {
		return err
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var stateStore aggregate.StateStore
	if cfg.StateFile != "" {
		stateStore = &aggregate.FileStateStore{Path: cfg.StateFile, WindowSeconds: windowSeconds}
	} else {
		stateStore = &aggregate.DBStateStore{Store: store, Name: fmt.Sprintf("aggregator:%d", windowSeconds)}
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: recomputeFrom,
		StateStore:    stateStore,
		PoolInfo: func(address string) (model.Pool, bool) {
			pool, ok := pools[address]
			return pool, ok
		},
	}, store, logger)

	logger.Info("aggregate start",
		zap.String("input", cfg.Input),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", recomputeFrom),
		zap.Int("known_pools", len(pools)),
	)

	return agg.Run(ctx, cfg.Input)
}

// loadPoolInfo indexes the pools in the state directory by pool id. A
// missing state directory yields no pool info.
func loadPoolInfo(ctx context.Context, stateDir string) (map[string]model.Pool, error) {
	out := make(map[string]model.Pool)
	if stateDir == "" {
		return out, nil
	}
	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		return out, nil
	}
	store, err := leveldb.Open(stateDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	snap, _, err := store.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, pool := range snap.Pools {
		out[pool.ID.Hex()] = model.Pool{
			Address:      pool.ID.Hex(),
			ReserveAsset: pool.ReserveAsset.Hex(),
			ShareAsset:   pool.ShareAsset.Hex(),
			Owner:        pool.Owner.Hex(),
			Decimals:     pool.Decimals,
		}
	}
	return out, nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
