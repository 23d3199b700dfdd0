package aggregate

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flashLedger/internal/model"
)

type fakeStore struct {
	pools   []model.Pool
	metrics []model.PoolWindowMetrics
}

func (f *fakeStore) UpsertPools(_ context.Context, pools []model.Pool) error {
	f.pools = append(f.pools, pools...)
	return nil
}

func (f *fakeStore) UpsertWindowMetrics(_ context.Context, metrics []model.PoolWindowMetrics) error {
	f.metrics = append(f.metrics, metrics...)
	return nil
}

const poolAddr = "0x00000000000000000000000000000000000000P1"

func receipt(seq, ts uint64, method string, amount, fee, reserve, supply uint64, ok bool) model.Receipt {
	r := model.Receipt{
		Seq:            seq,
		Timestamp:      ts,
		Method:         method,
		Pool:           poolAddr,
		Reserve:        "0x00000000000000000000000000000000000005e1",
		Decimals:       6,
		Amount:         amount,
		Fee:            fee,
		ReserveBalance: reserve,
		ShareSupply:    supply,
		Status:         model.ReceiptOK,
	}
	if !ok {
		r.Status = model.ReceiptFailed
		r.Error = "ledger: insufficient shares"
	}
	return r
}

func writeReceipts(t *testing.T, receipts []model.Receipt) string {
	t.Helper()
	lines := make([]string, 0, len(receipts))
	for _, r := range receipts {
		raw, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		lines = append(lines, string(raw))
	}
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestAggregatorWindows(t *testing.T) {
	input := writeReceipts(t, []model.Receipt{
		{Seq: 0, Timestamp: 990, Method: "initialize", Status: model.ReceiptOK},
		receipt(1, 1000, "deposit", 1000, 0, 1000, 1000, true),
		receipt(2, 1010, "deposit", 500, 0, 1500, 1500, true),
		receipt(3, 1100, "lend_and_call", 1000, 3, 1500, 1500, true),
		receipt(4, 1150, "withdraw", 0, 0, 1500, 1500, false),
		receipt(5, 1250, "withdraw", 300, 0, 1200, 1200, true),
	})
	store := &fakeStore{}
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "aggregate_state.json")}
	agg := NewAggregator(Config{
		WindowSeconds: 300,
		StateStore:    state,
		PoolInfo: func(addr string) (model.Pool, bool) {
			return model.Pool{Owner: "0xowner"}, addr == poolAddr
		},
	}, store, nil)

	if err := agg.Run(context.Background(), input); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(store.pools) != 1 || store.pools[0].FirstSeenSeq != 1 || store.pools[0].Owner != "0xowner" {
		t.Fatalf("unexpected pools %+v", store.pools)
	}
	if len(store.metrics) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(store.metrics))
	}

	first := store.metrics[0]
	if first.WindowStart.Unix() != 900 || first.WindowEnd.Unix() != 1200 {
		t.Fatalf("unexpected window %s-%s", first.WindowStart, first.WindowEnd)
	}
	if first.DepositCount != 2 || first.LoanCount != 1 || first.FailedCount != 1 || first.WithdrawCount != 0 {
		t.Fatalf("unexpected counts %+v", first)
	}
	if first.DepositVolume != "0.001500" || first.LoanVolume != "0.001000" || first.FeeRevenue != "0.000003" {
		t.Fatalf("unexpected volumes %+v", first)
	}
	if first.ClosingReserve != "0.001500" || first.ClosingSupply != "0.001500" {
		t.Fatalf("unexpected closing state %+v", first)
	}
	if first.SharePrice == nil || *first.SharePrice != "1.000000000000000000" {
		t.Fatalf("unexpected share price %v", first.SharePrice)
	}
	if first.FeeRate == nil || *first.FeeRate != "0.002000000000000000" {
		t.Fatalf("unexpected fee rate %v", first.FeeRate)
	}
	if first.APR == nil || *first.APR != "210.240000000000000000" {
		t.Fatalf("unexpected apr %v", first.APR)
	}

	second := store.metrics[1]
	if second.WithdrawCount != 1 || second.WithdrawVolume != "0.000300" || second.ClosingReserve != "0.001200" {
		t.Fatalf("unexpected second window %+v", second)
	}
	if second.FeeRate != nil || second.APR != nil {
		t.Fatalf("window without loans has a fee rate")
	}

	last, ok, err := state.Load(context.Background())
	if err != nil || !ok || last != 1250 {
		t.Fatalf("state %d ok=%v err=%v", last, ok, err)
	}

	// a rerun starts after the saved timestamp
	rerun := &fakeStore{}
	if err := NewAggregator(Config{WindowSeconds: 300, StateStore: state}, rerun, nil).Run(context.Background(), input); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(rerun.metrics) != 0 || len(rerun.pools) != 0 {
		t.Fatalf("rerun produced rows: %+v", rerun)
	}
}

func TestAggregatorRequiresWindow(t *testing.T) {
	if err := NewAggregator(Config{}, &fakeStore{}, nil).Run(context.Background(), "unused"); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

func TestFormatTokenAmount(t *testing.T) {
	if got := formatTokenAmount(big.NewInt(1234567), 6); got != "1.234567" {
		t.Fatalf("got %s", got)
	}
	if got := formatTokenAmount(big.NewInt(42), 0); got != "42" {
		t.Fatalf("got %s", got)
	}
	if got := formatTokenAmount(nil, 6); got != "0" {
		t.Fatalf("got %s", got)
	}
}

func TestSharePriceEmptyPool(t *testing.T) {
	if computeSharePrice(0, 0) != nil {
		t.Fatalf("empty pool has a share price")
	}
	if got := computeSharePrice(1502, 1500); got == nil || *got != "1.001333333333333333" {
		t.Fatalf("unexpected share price %v", got)
	}
}

func TestFileStateStoreWindowMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	if err := (&FileStateStore{Path: path, WindowSeconds: 300}).Save(ctx, 1250); err != nil {
		t.Fatalf("save: %v", err)
	}

	ts, ok, err := (&FileStateStore{Path: path, WindowSeconds: 300}).Load(ctx)
	if err != nil || !ok || ts != 1250 {
		t.Fatalf("load: ts=%d ok=%v err=%v", ts, ok, err)
	}
	if _, _, err := (&FileStateStore{Path: path, WindowSeconds: 3600}).Load(ctx); err == nil {
		t.Fatalf("expected error for a different window size")
	}
}
