package instruction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Encode packs method arguments into hex calldata. Arguments follow the
// ABI types: common.Address, uint8 and uint64.
func Encode(method string, args ...interface{}) (string, error) {
	abiName, ok := abiNames[method]
	if !ok {
		return "", fmt.Errorf("unsupported method: %s", method)
	}
	programABI, err := ProgramABI()
	if err != nil {
		return "", err
	}
	data, err := programABI.Pack(abiName, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	return hexutil.Encode(data), nil
}
