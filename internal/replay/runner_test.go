package replay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"flashLedger/internal/borrower"
	"flashLedger/internal/flash"
	"flashLedger/internal/host"
	"flashLedger/internal/instruction"
	"flashLedger/internal/ledger"
	"flashLedger/internal/model"
	"flashLedger/internal/storage"
)

var (
	reserve         = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	deployer        = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	alice           = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob             = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	faucet          = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	borrowerProgram = common.HexToAddress("0x000000000000000000000000000000000000b077")
)

type memorySink struct {
	receipts []model.Receipt
	failures []model.ReplayError
}

func (m *memorySink) PutReceiptBatch(receipts []model.Receipt) error {
	m.receipts = append(m.receipts, receipts...)
	return nil
}

func (m *memorySink) PutFailureBatch(failures []model.ReplayError) error {
	m.failures = append(m.failures, failures...)
	return nil
}

type memoryState struct {
	saves int
	last  storage.Snapshot
}

func (m *memoryState) LoadSnapshot(context.Context) (storage.Snapshot, bool, error) {
	return m.last, m.saves > 0, nil
}

func (m *memoryState) SaveSnapshot(_ context.Context, snap storage.Snapshot) error {
	m.saves++
	m.last = snap
	return nil
}

type env struct {
	svc   *ledger.Service
	host  *host.MemoryHost
	sink  *memorySink
	state *memoryState
	deps  Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	h := host.NewMemoryHost(nil)
	if err := h.RegisterAsset(ctx, host.AssetInfo{Address: reserve, Decimals: 6, MintAuthority: faucet}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, user := range []common.Address{alice, bob} {
		if err := h.MintTo(ctx, reserve, user, 10_000, host.Signer(faucet)); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	sample := &borrower.Sample{ID: borrowerProgram}
	h.RegisterProgram(borrowerProgram, sample)
	if err := h.MintTo(ctx, reserve, sample.Account(reserve), 10, host.Signer(faucet)); err != nil {
		t.Fatalf("fund borrower: %v", err)
	}

	svc := ledger.NewService(h, nil, ledger.Options{})
	coord, err := flash.NewCoordinator(svc, ledger.DefaultFeeRate)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	decoder, err := instruction.NewProgramDecoder(instruction.DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	e := &env{svc: svc, host: h, sink: &memorySink{}, state: &memoryState{}}
	e.deps = Deps{
		Service:  svc,
		Host:     h,
		Executor: NewExecutor(svc, coord),
		Decoder:  decoder,
		Receipts: e.sink,
		Failures: e.sink,
		State:    e.state,
	}
	return e
}

func line(t *testing.T, seq uint64, signer common.Address, method string, args ...interface{}) string {
	t.Helper()
	data, err := instruction.Encode(method, args...)
	if err != nil {
		t.Fatalf("encode %s: %v", method, err)
	}
	raw, err := json.Marshal(model.Instruction{Seq: seq, Signer: signer.Hex(), Data: data, Timestamp: 1700000000 + seq*60})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func writeJournal(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instructions.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write journal: %v", err)
	}
	return path
}

func journal(t *testing.T) []string {
	return []string{
		line(t, 1, deployer, instruction.MethodInitialize, deployer),
		line(t, 2, deployer, instruction.MethodCreatePool, reserve, uint8(6)),
		line(t, 3, alice, instruction.MethodDeposit, reserve, uint64(1000)),
		line(t, 4, bob, instruction.MethodDeposit, reserve, uint64(500)),
		line(t, 5, alice, instruction.MethodLendAndCall, reserve, uint64(1000), borrowerProgram),
		line(t, 6, bob, instruction.MethodWithdrawFees, reserve, bob),
		line(t, 7, deployer, instruction.MethodWithdrawFees, reserve, deployer),
		`{"seq":8,"signer":"` + alice.Hex() + `","data":"0xdeadbeef","timestamp":1700000480}`,
		`{"seq": "nine"`,
	}
}

func TestRunnerReplaysJournal(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	cfg := RunConfig{
		InputPath:         writeJournal(t, journal(t)),
		BatchSize:         2,
		CheckpointPath:    filepath.Join(dir, "checkpoint.json"),
		CheckpointEnabled: true,
	}

	stats, err := NewRunner(cfg, e.deps).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := Stats{Total: 8, Applied: 6, Failed: 1, Skipped: 1, Invalid: 1}
	if stats != want {
		t.Fatalf("stats %+v, want %+v", stats, want)
	}

	if len(e.sink.receipts) != 7 {
		t.Fatalf("expected 7 receipts, got %d", len(e.sink.receipts))
	}
	lend := e.sink.receipts[4]
	if lend.Method != instruction.MethodLendAndCall || !lend.OK() || lend.Fee != 3 || lend.FeeBalance != 3 || lend.ReserveBalance != 1500 {
		t.Fatalf("unexpected lend receipt %+v", lend)
	}
	if lend.ID == "" || lend.ID == e.sink.receipts[3].ID {
		t.Fatalf("receipt ids must be unique")
	}
	denied := e.sink.receipts[5]
	if denied.OK() || !strings.Contains(denied.Error, "unauthorized") {
		t.Fatalf("expected unauthorized receipt, got %+v", denied)
	}
	collected := e.sink.receipts[6]
	if !collected.OK() || collected.Amount != 3 || collected.FeeBalance != 0 {
		t.Fatalf("unexpected fee receipt %+v", collected)
	}
	if got := e.host.BalanceOf(reserve, deployer); got != 3 {
		t.Fatalf("deployer collected %d", got)
	}

	if len(e.sink.failures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", e.sink.failures)
	}
	if e.sink.failures[0].Stage != StageParse || e.sink.failures[1].Seq != 6 {
		t.Fatalf("unexpected failures %+v", e.sink.failures)
	}

	if e.state.saves != 5 {
		t.Fatalf("expected a state save per batch, got %d", e.state.saves)
	}
	if len(e.state.last.Pools) != 1 || e.state.last.Pools[0].ShareSupply != 1500 {
		t.Fatalf("unexpected saved pools %+v", e.state.last.Pools)
	}

	cp, ok, err := NewCheckpointStore(cfg.CheckpointPath, true).Load()
	if err != nil || !ok || cp.LastAppliedSeq != 8 {
		t.Fatalf("checkpoint %+v ok=%v err=%v", cp, ok, err)
	}

	// a second run resumes after the checkpoint and applies nothing
	again, err := NewRunner(cfg, e.deps).Run(context.Background())
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.Total != 0 || len(e.sink.receipts) != 7 {
		t.Fatalf("rerun applied instructions: %+v", again)
	}
}

func TestRunnerHonoursSeqWindow(t *testing.T) {
	e := newEnv(t)
	cfg := RunConfig{
		InputPath: writeJournal(t, journal(t)),
		ToSeq:     3,
		BatchSize: 10,
	}
	stats, err := NewRunner(cfg, e.deps).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Total != 3 || stats.Applied != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	pool, err := e.svc.Pool(reserve)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.ReserveBalance != 1000 || pool.ShareSupply != 1000 {
		t.Fatalf("unexpected pool %+v", pool)
	}
}

func TestRunnerRequiresBatchSize(t *testing.T) {
	e := newEnv(t)
	if _, err := NewRunner(RunConfig{InputPath: "unused"}, e.deps).Run(context.Background()); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestReadInstructionsOrdersAndDedupes(t *testing.T) {
	input := strings.Join([]string{
		`{"seq":3,"signer":"0x01","data":"0x"}`,
		`{"seq":1,"signer":"0x01","data":"0x"}`,
		``,
		`{"seq":3,"signer":"0x02","data":"0x"}`,
	}, "\n")
	got, failures, err := ReadInstructions(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 3 || got[1].Signer != "0x01" {
		t.Fatalf("unexpected instructions %+v", got)
	}
	if len(failures) != 1 || failures[0].Seq != 3 {
		t.Fatalf("unexpected failures %+v", failures)
	}
}
