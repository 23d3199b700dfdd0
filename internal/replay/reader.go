package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"flashLedger/internal/model"
)

// ReadInstructions parses an instruction JSONL stream. Lines that fail to
// parse are returned as parse failures. The result is ordered by seq and
// later duplicates of a seq are dropped.
func ReadInstructions(r io.Reader) ([]model.Instruction, []model.ReplayError, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var (
		out      []model.Instruction
		failures []model.ReplayError
		line     int
	)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ins model.Instruction
		if err := json.Unmarshal(raw, &ins); err != nil {
			failures = append(failures, model.ReplayError{
				Stage: StageParse,
				Error: fmt.Sprintf("line %d: %v", line, err),
			})
			continue
		}
		out = append(out, ins)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan input: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	deduped := make([]model.Instruction, 0, len(out))
	for _, ins := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Seq == ins.Seq {
			failures = append(failures, model.ReplayError{
				Seq:    ins.Seq,
				Signer: ins.Signer,
				Stage:  StageParse,
				Error:  "duplicate seq",
			})
			continue
		}
		deduped = append(deduped, ins)
	}
	return deduped, failures, nil
}
