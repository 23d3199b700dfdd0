package replay

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"flashLedger/internal/host"
	"flashLedger/internal/instruction"
	"flashLedger/internal/ledger"
	"flashLedger/internal/metrics"
	"flashLedger/internal/model"
	"flashLedger/internal/storage"
)

// Failure stages.
const (
	StageParse  = "parse"
	StageDecode = "decode"
	StageApply  = "apply"
)

// Replay outcomes reported to metrics.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeInvalid = "invalid"
)

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	InputPath         string
	FromSeq           uint64
	ToSeq             uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
}

// Stats summarises a replay run.
type Stats struct {
	Total   int `json:"total"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Invalid int `json:"invalid"`
}

// Runner applies an instruction journal to the ledger in batches,
// writing receipts and failures and persisting state after each batch.
type Runner struct {
	cfg        RunConfig
	svc        *ledger.Service
	host       *host.MemoryHost
	executor   *Executor
	decoder    instruction.Decoder
	receipts   storage.ReceiptSink
	failures   storage.FailureSink
	state      storage.StateStore
	logger     *zap.Logger
	metrics    *metrics.Collector
	checkpoint *CheckpointStore
}

// Deps are the collaborators of a Runner. State may be nil to skip
// persistence.
type Deps struct {
	Service  *ledger.Service
	Host     *host.MemoryHost
	Executor *Executor
	Decoder  instruction.Decoder
	Receipts storage.ReceiptSink
	Failures storage.FailureSink
	State    storage.StateStore
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		svc:        deps.Service,
		host:       deps.Host,
		executor:   deps.Executor,
		decoder:    deps.Decoder,
		receipts:   deps.Receipts,
		failures:   deps.Failures,
		state:      deps.State,
		logger:     logger,
		metrics:    deps.Metrics,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run executes the replay loop.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if r.executor == nil || r.decoder == nil {
		return stats, fmt.Errorf("executor and decoder are required")
	}
	if r.receipts == nil || r.failures == nil {
		return stats, fmt.Errorf("receipt and failure sinks are required")
	}
	if r.cfg.BatchSize == 0 {
		return stats, fmt.Errorf("batch size must be greater than zero")
	}
	if r.state != nil && (r.svc == nil || r.host == nil) {
		return stats, fmt.Errorf("state persistence needs the service and host")
	}

	file, err := os.Open(r.cfg.InputPath)
	if err != nil {
		return stats, fmt.Errorf("open input: %w", err)
	}
	instructions, parseFailures, err := ReadInstructions(file)
	file.Close()
	if err != nil {
		return stats, err
	}
	stats.Invalid += len(parseFailures)
	for range parseFailures {
		r.metrics.ObserveReplay(OutcomeInvalid)
	}
	if err := r.failures.PutFailureBatch(parseFailures); err != nil {
		return stats, fmt.Errorf("store failures: %w", err)
	}
	if len(instructions) == 0 {
		r.logger.Info("nothing to replay", zap.String("in", r.cfg.InputPath))
		return stats, nil
	}

	from := r.cfg.FromSeq
	to := r.cfg.ToSeq
	if to == 0 {
		to = instructions[len(instructions)-1].Seq
	}

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return stats, err
	}
	if ok && cp.LastAppliedSeq >= from {
		from = cp.LastAppliedSeq + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_applied", cp.LastAppliedSeq), zap.Uint64("from", from))
	}

	if from > to {
		r.logger.Info("nothing to replay", zap.Uint64("from", from), zap.Uint64("to", to))
		return stats, nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	next := 0
	for _, seqRange := range ranges {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		for next < len(instructions) && instructions[next].Seq < seqRange.From {
			next++
		}
		receipts := make([]model.Receipt, 0)
		failures := make([]model.ReplayError, 0)
		for next < len(instructions) && seqRange.Contains(instructions[next].Seq) {
			ins := instructions[next]
			next++
			stats.Total++

			receipt, failure, outcome := r.applyOne(ctx, ins)
			r.metrics.ObserveReplay(outcome)
			switch outcome {
			case OutcomeApplied:
				stats.Applied++
			case OutcomeFailed:
				stats.Failed++
			case OutcomeSkipped:
				stats.Skipped++
			case OutcomeInvalid:
				stats.Invalid++
			}
			if receipt != nil {
				receipts = append(receipts, *receipt)
			}
			if failure != nil {
				failures = append(failures, *failure)
			}
		}

		if err := r.receipts.PutReceiptBatch(receipts); err != nil {
			return stats, fmt.Errorf("store receipts: %w", err)
		}
		if err := r.failures.PutFailureBatch(failures); err != nil {
			return stats, fmt.Errorf("store failures: %w", err)
		}
		if r.state != nil {
			if err := r.state.SaveSnapshot(ctx, storage.Capture(r.svc, r.host)); err != nil {
				return stats, fmt.Errorf("save state: %w", err)
			}
		}
		if err := r.checkpoint.Save(seqRange.To); err != nil {
			return stats, err
		}

		r.logger.Info("batch complete",
			zap.Int("receipts", len(receipts)),
			zap.Int("failures", len(failures)),
			zap.Uint64("from", seqRange.From),
			zap.Uint64("to", seqRange.To),
		)
	}

	return stats, nil
}

func (r *Runner) applyOne(ctx context.Context, ins model.Instruction) (*model.Receipt, *model.ReplayError, string) {
	selector := instruction.Selector(ins.Data)
	if !r.decoder.CanDecode(selector) {
		r.logger.Debug("skip instruction", zap.Uint64("seq", ins.Seq), zap.String("selector", selector))
		return nil, nil, OutcomeSkipped
	}

	decoded, err := r.decoder.Decode(ins)
	if err != nil {
		return nil, &model.ReplayError{
			Seq:      ins.Seq,
			Signer:   ins.Signer,
			Selector: selector,
			Stage:    StageDecode,
			Error:    err.Error(),
		}, OutcomeInvalid
	}

	receipt, err := r.executor.Apply(ctx, decoded)
	if err != nil {
		return nil, &model.ReplayError{
			Seq:      ins.Seq,
			Signer:   ins.Signer,
			Selector: selector,
			Stage:    StageApply,
			Error:    err.Error(),
		}, OutcomeInvalid
	}
	if !receipt.OK() {
		return &receipt, &model.ReplayError{
			Seq:      ins.Seq,
			Signer:   ins.Signer,
			Selector: selector,
			Stage:    StageApply,
			Error:    receipt.Error,
		}, OutcomeFailed
	}
	return &receipt, nil, OutcomeApplied
}
