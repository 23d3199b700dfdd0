package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flashLedger/internal/config"
	"flashLedger/internal/instruction"
	"flashLedger/internal/metrics"
	"flashLedger/internal/replay"
	"flashLedger/internal/storage"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply an instruction journal to the ledger and write receipts",
		RunE:  runReplay,
	}

	flags := cmd.Flags()
	flags.String("in", "", "instruction JSONL input path")
	flags.String("receipts", "./data/receipts.jsonl", "receipts JSONL output path")
	flags.String("failures", "./data/replay_failures.jsonl", "replay failures JSONL output path")
	flags.Uint64("from", 0, "first sequence number to apply")
	flags.Uint64("to", 0, "last sequence number to apply (0 = journal end)")
	flags.Uint64("batch-size", 500, "instructions per batch")
	flags.String("checkpoint", "./data/replay_checkpoint.json", "checkpoint file path")
	flags.Bool("checkpoint-enabled", true, "resume from and write the checkpoint")
	flags.String("selector-map", "", "selector aliases, e.g. 0x12345678=deposit")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while replaying")
	return cmd
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Receipts == "" || cfg.Failures == "" {
		return fmt.Errorf("receipts and failures paths are required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	a, err := openApp(ctx, cfg.Config, logger, collector)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warn("close state store", zap.Error(err))
		}
	}()

	decoder, err := instruction.NewProgramDecoder(instruction.DecoderConfig{SelectorMap: cfg.SelectorMap})
	if err != nil {
		return err
	}

	runner := replay.NewRunner(replay.RunConfig{
		InputPath:         cfg.In,
		FromSeq:           cfg.FromSeq,
		ToSeq:             cfg.ToSeq,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
	}, replay.Deps{
		Service:  a.svc,
		Host:     a.host,
		Executor: replay.NewExecutor(a.svc, a.coord),
		Decoder:  decoder,
		Receipts: storage.NewJsonlStorage(cfg.Receipts),
		Failures: storage.NewJsonlStorage(cfg.Failures),
		State:    a.store,
		Logger:   logger,
		Metrics:  collector,
	})

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.String("receipts", cfg.Receipts),
		zap.String("state_dir", cfg.StateDir),
		zap.Uint64("from", cfg.FromSeq),
		zap.Uint64("to", cfg.ToSeq),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	stats, err := runner.Run(ctx)
	logger.Info("replay done",
		zap.Int("total", stats.Total),
		zap.Int("applied", stats.Applied),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("invalid", stats.Invalid),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
