package instruction

import "flashLedger/internal/model"

// Method names used in decoded instructions and receipts.
const (
	MethodInitialize   = "initialize"
	MethodCreatePool   = "create_pool"
	MethodDeposit      = "deposit"
	MethodWithdraw     = "withdraw"
	MethodWithdrawAll  = "withdraw_all"
	MethodLendAndCall  = "lend_and_call"
	MethodWithdrawFees = "withdraw_fees"
)

var abiNames = map[string]string{
	MethodInitialize:   "initialize",
	MethodCreatePool:   "createPool",
	MethodDeposit:      "deposit",
	MethodWithdraw:     "withdraw",
	MethodWithdrawAll:  "withdrawAll",
	MethodLendAndCall:  "lendAndCall",
	MethodWithdrawFees: "withdrawFees",
}

// Decoder defines an instruction decoder.
type Decoder interface {
	CanDecode(selector string) bool
	Decode(ins model.Instruction) (*model.DecodedInstruction, error)
}
