package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"flashLedger/internal/host"
)

var (
	seedPool           = []byte("pool")
	seedReserveAccount = []byte("pool_account")
	seedShareMint      = []byte("share_mint")
	seedFeeAccount     = []byte("fee_account")
)

// Pool is the accounting state of one lending pool. Addresses other than
// Owner and ReserveAsset are derived from the program id and the reserve.
type Pool struct {
	ID             common.Address `json:"id"`
	ReserveAsset   common.Address `json:"reserve_asset"`
	ShareAsset     common.Address `json:"share_asset"`
	ReserveAccount common.Address `json:"reserve_account"`
	FeeAccount     common.Address `json:"fee_account"`
	Owner          common.Address `json:"owner"`
	Decimals       uint8          `json:"decimals"`
	ReserveBalance uint64         `json:"reserve_balance"`
	ShareSupply    uint64         `json:"share_supply"`
	FeeBalance     uint64         `json:"fee_balance"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

// NewPool returns an empty pool for reserve with its derived addresses.
func NewPool(program, reserve, owner common.Address, decimals uint8) Pool {
	return Pool{
		ID:             PoolCapability(program, reserve).Address,
		ReserveAsset:   reserve,
		ShareAsset:     host.DeriveAddress(program, seedShareMint, reserve.Bytes()),
		ReserveAccount: ReserveCapability(program, reserve).Address,
		FeeAccount:     FeeCapability(program, reserve).Address,
		Owner:          owner,
		Decimals:       decimals,
	}
}

// PoolCapability signs for the pool itself; it is the share mint authority.
func PoolCapability(program, reserve common.Address) host.Capability {
	return host.DeriveCapability(program, seedPool, reserve.Bytes())
}

// ReserveCapability signs for the account holding the pool's reserve.
func ReserveCapability(program, reserve common.Address) host.Capability {
	return host.DeriveCapability(program, seedReserveAccount, reserve.Bytes())
}

// FeeCapability signs for the pool's fee account.
func FeeCapability(program, reserve common.Address) host.Capability {
	return host.DeriveCapability(program, seedFeeAccount, reserve.Bytes())
}

// Empty reports whether no shares are outstanding.
func (p Pool) Empty() bool {
	return p.ShareSupply == 0
}
