package model

const (
	ReceiptOK     = "ok"
	ReceiptFailed = "failed"
)

// Receipt is the outcome of one replayed instruction, with the pool
// counters as they stood after it.
type Receipt struct {
	ID             string `json:"id"`
	Seq            uint64 `json:"seq"`
	Timestamp      uint64 `json:"timestamp"`
	Signer         string `json:"signer"`
	Method         string `json:"method"`
	Pool           string `json:"pool,omitempty"`
	Reserve        string `json:"reserve,omitempty"`
	Decimals       uint8  `json:"decimals"`
	Amount         uint64 `json:"amount"`
	Shares         uint64 `json:"shares"`
	Fee            uint64 `json:"fee"`
	Surplus        uint64 `json:"surplus"`
	ReserveBalance uint64 `json:"reserve_balance"`
	ShareSupply    uint64 `json:"share_supply"`
	FeeBalance     uint64 `json:"fee_balance"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

func (r Receipt) OK() bool { return r.Status == ReceiptOK }
