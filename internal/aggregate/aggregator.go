package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"flashLedger/internal/model"
)

// Store receives aggregated rows. *postgres.Store satisfies it.
type Store interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
	// PoolInfo fills share asset and owner for exported pools. Optional.
	PoolInfo func(poolAddress string) (model.Pool, bool)
}

// Aggregator folds receipts into pool window metrics.
type Aggregator struct {
	cfg          Config
	store        Store
	logger       *zap.Logger
	accumulators map[string]*Accumulator
	poolSeen     map[string]model.Pool
}

func NewAggregator(cfg Config, store Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		accumulators: make(map[string]*Accumulator),
		poolSeen:     make(map[string]model.Pool),
	}
}

// Run executes aggregation over a receipts JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.store == nil {
		return fmt.Errorf("store is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.PoolWindowMetrics, 0, a.cfg.BatchSize)
	pools := make([]model.Pool, 0, 256)
	maxTs := startTs
	var total, windows, skipped, failed int

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var receipt model.Receipt
		if err := json.Unmarshal(line, &receipt); err != nil {
			failed++
			a.logger.Warn("decode receipt", zap.Error(err))
			continue
		}

		if receipt.Timestamp <= startTs || receipt.Pool == "" {
			skipped++
			continue
		}

		windowStart := windowStart(receipt.Timestamp, a.cfg.WindowSeconds)
		windowEnd := windowStart + a.cfg.WindowSeconds

		accKey := poolKey(receipt.Pool)
		acc := a.accumulators[accKey]
		if acc == nil {
			acc = NewAccumulator(receipt, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		} else if acc.WindowStart != windowStart {
			metrics, pool := a.flushAccumulator(acc)
			batch = append(batch, metrics)
			windows++
			if pool != nil {
				pools = append(pools, *pool)
			}
			acc = NewAccumulator(receipt, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		}

		acc.AddReceipt(receipt)

		if receipt.Timestamp > maxTs {
			maxTs = receipt.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.flushBatches(ctx, batch, pools); err != nil {
				return err
			}
			batch = batch[:0]
			pools = pools[:0]

			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	for _, acc := range a.accumulators {
		metrics, pool := a.flushAccumulator(acc)
		batch = append(batch, metrics)
		windows++
		if pool != nil {
			pools = append(pools, *pool)
		}
	}
	a.accumulators = make(map[string]*Accumulator)

	if len(batch) > 0 || len(pools) > 0 {
		if err := a.flushBatches(ctx, batch, pools); err != nil {
			return err
		}
	}

	a.cfg.RecomputeFrom = maxTs
	if err := a.saveState(ctx); err != nil {
		return err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	// open windows are recomputed on the next run
	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.PoolWindowMetrics, pools []model.Pool) error {
	if len(pools) > 0 {
		if err := a.store.UpsertPools(ctx, pools); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		if err := a.store.UpsertWindowMetrics(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) flushAccumulator(acc *Accumulator) (model.PoolWindowMetrics, *model.Pool) {
	poolRecord := a.registerPool(acc)

	closingReserve := new(big.Int).SetUint64(acc.ClosingReserve)
	feeRate := computeRate(acc.FeeRevenue, closingReserve)

	metrics := model.PoolWindowMetrics{
		PoolAddress:    acc.PoolAddress,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		DepositCount:   acc.DepositCount,
		WithdrawCount:  acc.WithdrawCount,
		LoanCount:      acc.LoanCount,
		FailedCount:    acc.FailedCount,
		DepositVolume:  formatTokenAmount(acc.DepositVolume, acc.Decimals),
		WithdrawVolume: formatTokenAmount(acc.WithdrawVolume, acc.Decimals),
		LoanVolume:     formatTokenAmount(acc.LoanVolume, acc.Decimals),
		FeeRevenue:     formatTokenAmount(acc.FeeRevenue, acc.Decimals),
		ClosingReserve: formatTokenAmount(closingReserve, acc.Decimals),
		ClosingSupply:  formatTokenAmount(new(big.Int).SetUint64(acc.ClosingSupply), acc.Decimals),
		SharePrice:     computeSharePrice(acc.ClosingReserve, acc.ClosingSupply),
		FeeRate:        feeRate,
		APR:            computeAPR(feeRate, a.cfg.WindowSeconds),
	}

	return metrics, poolRecord
}

func (a *Aggregator) registerPool(acc *Accumulator) *model.Pool {
	key := poolKey(acc.PoolAddress)
	pool := model.Pool{
		Address:      acc.PoolAddress,
		ReserveAsset: acc.Reserve,
		Decimals:     acc.Decimals,
		FirstSeenSeq: acc.FirstSeq,
	}
	if a.cfg.PoolInfo != nil {
		if info, ok := a.cfg.PoolInfo(acc.PoolAddress); ok {
			pool.ShareAsset = info.ShareAsset
			pool.Owner = info.Owner
		}
	}

	existing, ok := a.poolSeen[key]
	if ok {
		if existing.FirstSeenSeq <= pool.FirstSeenSeq {
			return nil
		}
	}

	a.poolSeen[key] = pool
	return &pool
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func poolKey(address string) string {
	return strings.ToLower(address)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}
