package storage

import (
	"context"

	"flashLedger/internal/host"
	"flashLedger/internal/ledger"
	"flashLedger/internal/model"
)

// ReceiptSink receives receipts of applied instructions.
type ReceiptSink interface {
	PutReceiptBatch(receipts []model.Receipt) error
}

// FailureSink receives instructions that could not be decoded or applied.
type FailureSink interface {
	PutFailureBatch(failures []model.ReplayError) error
}

// StateStore persists the ledger between process runs.
type StateStore interface {
	LoadSnapshot(ctx context.Context) (Snapshot, bool, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Snapshot is everything needed to resume a ledger: program state, host
// assets and balances, and pool counters.
type Snapshot struct {
	Program *ledger.ProgramState `json:"program,omitempty"`
	Host    host.MemoryState     `json:"host"`
	Pools   []ledger.Pool        `json:"pools"`
}

// Capture copies the current state of svc and h.
func Capture(svc *ledger.Service, h *host.MemoryHost) Snapshot {
	return Snapshot{
		Program: svc.State(),
		Host:    h.Export(),
		Pools:   svc.Ledger().Pools(),
	}
}

// Apply replaces the state of svc and h with the snapshot.
func (s Snapshot) Apply(svc *ledger.Service, h *host.MemoryHost) {
	svc.RestoreState(s.Program)
	h.Import(s.Host)
	svc.RestorePools(s.Pools)
}
