package ledger

import "errors"

var (
	ErrAlreadyExists      = errors.New("ledger: already exists")
	ErrInvalidAmount      = errors.New("ledger: invalid amount")
	ErrInvalidPool        = errors.New("ledger: invalid pool")
	ErrEmptyPool          = errors.New("ledger: empty pool")
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrRepaymentShortfall = errors.New("ledger: flash loan not repaid")
	ErrUnauthorized       = errors.New("ledger: unauthorized")
	ErrDecimalsMismatch   = errors.New("ledger: decimals do not match reserve asset")
	ErrNotInitialized     = errors.New("ledger: program not initialized")
	ErrReentrant          = errors.New("ledger: pool is locked by the current call")
	ErrInvalidFeeRate     = errors.New("ledger: invalid fee rate")
)
