package instruction

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"flashLedger/internal/model"
)

func buildInstruction(t *testing.T, seq uint64, signer common.Address, method string, args ...interface{}) model.Instruction {
	t.Helper()
	data, err := Encode(method, args...)
	if err != nil {
		t.Fatalf("encode %s: %v", method, err)
	}
	return model.Instruction{Seq: seq, Signer: signer.Hex(), Data: data, Timestamp: 1700000000 + seq}
}

func TestProgramDecoderDeposit(t *testing.T) {
	decoder, err := NewProgramDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	signer := common.HexToAddress("0x2222222222222222222222222222222222222222")
	reserve := common.HexToAddress("0x1111111111111111111111111111111111111111")
	ins := buildInstruction(t, 7, signer, MethodDeposit, reserve, uint64(1000))

	if !decoder.CanDecode(Selector(ins.Data)) {
		t.Fatalf("deposit selector should be decodable")
	}
	decoded, err := decoder.Decode(ins)
	if err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if decoded.Method != MethodDeposit || decoded.Seq != 7 {
		t.Fatalf("unexpected instruction %+v", decoded)
	}
	args, ok := decoded.Args.(model.DepositArgs)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", decoded.Args)
	}
	if args.Reserve != reserve || args.Amount != 1000 {
		t.Fatalf("args mismatch: %+v", args)
	}
	if decoded.SignerAddress() != signer {
		t.Fatalf("signer mismatch")
	}
}

func TestProgramDecoderAllMethods(t *testing.T) {
	decoder, err := NewProgramDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	signer := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	reserve := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	other := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	cases := []struct {
		ins  model.Instruction
		want interface{}
	}{
		{buildInstruction(t, 1, signer, MethodInitialize, signer), model.InitializeArgs{Deployer: signer}},
		{buildInstruction(t, 2, signer, MethodCreatePool, reserve, uint8(6)), model.CreatePoolArgs{Reserve: reserve, Decimals: 6}},
		{buildInstruction(t, 3, signer, MethodWithdraw, reserve, uint64(333)), model.WithdrawArgs{Reserve: reserve, Shares: 333}},
		{buildInstruction(t, 4, signer, MethodWithdrawAll, reserve), model.WithdrawAllArgs{Reserve: reserve}},
		{buildInstruction(t, 5, signer, MethodLendAndCall, reserve, uint64(1000), other), model.LendAndCallArgs{Reserve: reserve, Amount: 1000, Borrower: other}},
		{buildInstruction(t, 6, signer, MethodWithdrawFees, reserve, other), model.WithdrawFeesArgs{Reserve: reserve, Collector: other}},
	}
	for _, tc := range cases {
		decoded, err := decoder.Decode(tc.ins)
		if err != nil {
			t.Fatalf("decode seq %d: %v", tc.ins.Seq, err)
		}
		if decoded.Args != tc.want {
			t.Fatalf("seq %d: got %+v want %+v", tc.ins.Seq, decoded.Args, tc.want)
		}
	}
}

func TestProgramDecoderRejects(t *testing.T) {
	decoder, err := NewProgramDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	signer := common.HexToAddress("0x2222222222222222222222222222222222222222").Hex()

	if decoder.CanDecode("0xdeadbeef") {
		t.Fatalf("unknown selector should not be decodable")
	}
	if _, err := decoder.Decode(model.Instruction{Signer: signer, Data: "0x01"}); err == nil {
		t.Fatalf("expected error for short calldata")
	}
	if _, err := decoder.Decode(model.Instruction{Signer: "bob", Data: "0xdeadbeef"}); err == nil {
		t.Fatalf("expected error for bad signer")
	}
	truncated := buildInstruction(t, 1, common.HexToAddress(signer), MethodDeposit, common.Address{}, uint64(1))
	truncated.Data = truncated.Data[:len(truncated.Data)-8]
	if _, err := decoder.Decode(truncated); err == nil {
		t.Fatalf("expected error for truncated arguments")
	}
}

func TestProgramDecoderSelectorMap(t *testing.T) {
	if _, err := NewProgramDecoder(DecoderConfig{SelectorMap: map[string]string{"0x12345678": "swap"}}); err == nil {
		t.Fatalf("expected error for unknown method name")
	}
	decoder, err := NewProgramDecoder(DecoderConfig{SelectorMap: map[string]string{"0x12345678": "lend_and_call"}})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if !decoder.CanDecode("0x12345678") {
		t.Fatalf("alias selector should be decodable")
	}
}
