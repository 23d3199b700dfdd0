package instruction

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"flashLedger/internal/model"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// SelectorMap adds selector -> method aliases, e.g. for calldata built
	// against an older ABI revision.
	SelectorMap map[string]string
}

// ProgramDecoder decodes pool program calldata.
type ProgramDecoder struct {
	programABI     abi.ABI
	selectorToName map[string]string
}

// NewProgramDecoder builds a decoder for every program method.
func NewProgramDecoder(cfg DecoderConfig) (*ProgramDecoder, error) {
	programABI, err := ProgramABI()
	if err != nil {
		return nil, err
	}

	selectorToName := make(map[string]string, len(abiNames))
	for name, abiName := range abiNames {
		method, ok := programABI.Methods[abiName]
		if !ok {
			return nil, fmt.Errorf("abi missing method %s", abiName)
		}
		selectorToName[hexutil.Encode(method.ID)] = name
	}

	for selector, name := range cfg.SelectorMap {
		original := name
		name = normalizeMethodName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported method name in selector map: %s", original)
		}
		if selector == "" {
			continue
		}
		selectorToName[strings.ToLower(selector)] = name
	}

	return &ProgramDecoder{
		programABI:     programABI,
		selectorToName: selectorToName,
	}, nil
}

// Selector returns the lowercase hex selector of hex calldata, or "" when
// the data is too short or not hex.
func Selector(data string) string {
	raw, err := hexutil.Decode(data)
	if err != nil || len(raw) < 4 {
		return ""
	}
	return hexutil.Encode(raw[:4])
}

// CanDecode checks if the selector is supported.
func (d *ProgramDecoder) CanDecode(selector string) bool {
	if selector == "" {
		return false
	}
	_, ok := d.selectorToName[strings.ToLower(selector)]
	return ok
}

// Decode converts an Instruction into a DecodedInstruction.
func (d *ProgramDecoder) Decode(ins model.Instruction) (*model.DecodedInstruction, error) {
	if !common.IsHexAddress(ins.Signer) {
		return nil, fmt.Errorf("invalid signer: %q", ins.Signer)
	}
	data, err := hexutil.Decode(ins.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	selector := hexutil.Encode(data[:4])
	name, ok := d.selectorToName[selector]
	if !ok {
		return nil, fmt.Errorf("unsupported selector: %s", selector)
	}

	method := d.programABI.Methods[abiNames[name]]
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", name, err)
	}
	if len(values) != len(method.Inputs) {
		return nil, fmt.Errorf("unexpected %s values: %d", name, len(values))
	}

	args, err := decodeArgs(name, values)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	return &model.DecodedInstruction{
		Seq:       ins.Seq,
		Signer:    common.HexToAddress(ins.Signer).Hex(),
		Timestamp: ins.Timestamp,
		Method:    name,
		Args:      args,
		Raw:       &model.RawCallRef{Selector: selector, Data: ins.Data},
	}, nil
}

func decodeArgs(name string, values []interface{}) (interface{}, error) {
	switch name {
	case MethodInitialize:
		deployer, err := asAddress(values[0])
		if err != nil {
			return nil, err
		}
		return model.InitializeArgs{Deployer: deployer}, nil
	case MethodCreatePool:
		reserve, err := asAddress(values[0])
		if err != nil {
			return nil, err
		}
		decimals, err := asUint8(values[1])
		if err != nil {
			return nil, err
		}
		return model.CreatePoolArgs{Reserve: reserve, Decimals: decimals}, nil
	case MethodDeposit:
		reserve, amount, err := addressAndAmount(values)
		if err != nil {
			return nil, err
		}
		return model.DepositArgs{Reserve: reserve, Amount: amount}, nil
	case MethodWithdraw:
		reserve, shares, err := addressAndAmount(values)
		if err != nil {
			return nil, err
		}
		return model.WithdrawArgs{Reserve: reserve, Shares: shares}, nil
	case MethodWithdrawAll:
		reserve, err := asAddress(values[0])
		if err != nil {
			return nil, err
		}
		return model.WithdrawAllArgs{Reserve: reserve}, nil
	case MethodLendAndCall:
		reserve, amount, err := addressAndAmount(values)
		if err != nil {
			return nil, err
		}
		borrower, err := asAddress(values[2])
		if err != nil {
			return nil, err
		}
		return model.LendAndCallArgs{Reserve: reserve, Amount: amount, Borrower: borrower}, nil
	case MethodWithdrawFees:
		reserve, err := asAddress(values[0])
		if err != nil {
			return nil, err
		}
		collector, err := asAddress(values[1])
		if err != nil {
			return nil, err
		}
		return model.WithdrawFeesArgs{Reserve: reserve, Collector: collector}, nil
	default:
		return nil, fmt.Errorf("unsupported method: %s", name)
	}
}

func addressAndAmount(values []interface{}) (common.Address, uint64, error) {
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, 0, err
	}
	amount, err := asUint64(values[1])
	if err != nil {
		return common.Address{}, 0, err
	}
	return addr, amount, nil
}

func normalizeMethodName(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "_", "")
	for method, abiName := range abiNames {
		if key == strings.ToLower(abiName) {
			return method
		}
	}
	return ""
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case *big.Int:
		if !v.IsUint64() {
			return 0, fmt.Errorf("uint64 overflow: %s", v.String())
		}
		return v.Uint64(), nil
	default:
		return 0, fmt.Errorf("unsupported uint64 type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
