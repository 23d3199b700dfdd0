package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flashLedger/internal/borrower"
	"flashLedger/internal/config"
	"flashLedger/internal/flash"
	"flashLedger/internal/host"
	"flashLedger/internal/ledger"
	"flashLedger/internal/metrics"
	"flashLedger/internal/storage"
	"flashLedger/internal/storage/leveldb"
)

var seedFaucet = []byte("faucet")

// app is a ledger loaded from the state directory, with borrower programs
// registered on its host.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *leveldb.Store
	host    *host.MemoryHost
	svc     *ledger.Service
	coord   *flash.Coordinator
	metrics *metrics.Collector
}

// loadApp reads the shared configuration and opens the ledger.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a, err := openApp(cmd.Context(), cfg, logger, nil)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func openApp(ctx context.Context, cfg config.Config, logger *zap.Logger, collector *metrics.Collector) (*app, error) {
	program := ledger.DefaultProgramID
	if cfg.Program != "" {
		parsed, err := config.ParseAddress(cfg.Program)
		if err != nil {
			return nil, fmt.Errorf("parse program: %w", err)
		}
		program = parsed
	}
	borrowers, err := config.ParseAddresses(cfg.Borrowers)
	if err != nil {
		return nil, fmt.Errorf("parse borrowers: %w", err)
	}
	if len(borrowers) == 0 {
		borrowers = []common.Address{borrower.DefaultProgramID}
	}

	store, err := leveldb.Open(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	h := host.NewMemoryHost(logger)
	svc := ledger.NewService(h, nil, ledger.Options{Program: program, Logger: logger, Metrics: collector})
	snap, found, err := store.LoadSnapshot(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if found {
		snap.Apply(svc, h)
	}
	for _, id := range borrowers {
		h.RegisterProgram(id, &borrower.Sample{ID: id, Logger: logger})
	}

	coord, err := flash.NewCoordinator(svc, ledger.FeeRate{Numerator: cfg.FeeNumerator, Denominator: cfg.FeeDenominator})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Debug("ledger opened",
		zap.String("state_dir", cfg.StateDir),
		zap.String("program", program.Hex()),
		zap.Bool("restored", found),
		zap.Int("pools", len(snap.Pools)),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		host:    h,
		svc:     svc,
		coord:   coord,
		metrics: collector,
	}, nil
}

func (a *app) save(ctx context.Context) error {
	if err := a.store.SaveSnapshot(ctx, storage.Capture(a.svc, a.host)); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close state store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// faucetAuthority mints reserve assets registered through the CLI.
func (a *app) faucetAuthority(asset common.Address) host.Authority {
	return a.host.DeriveCapability(a.svc.Program(), seedFaucet, asset.Bytes()).Authority()
}

// formatAmount renders base units with thousands separators and, for
// assets with decimals, the whole-token value.
func formatAmount(amount uint64, decimals uint8) string {
	raw := humanize.BigComma(new(big.Int).SetUint64(amount))
	if decimals == 0 {
		return raw
	}
	whole := new(big.Float).SetUint64(amount)
	whole.Quo(whole, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	value, _ := whole.Float64()
	return fmt.Sprintf("%s (%s)", raw, humanize.CommafWithDigits(value, int(decimals)))
}
