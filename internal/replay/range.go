package replay

import "fmt"

// SeqRange represents an inclusive range of instruction sequence numbers.
type SeqRange struct {
	From uint64
	To   uint64
}

// SplitRange splits a sequence range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]SeqRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to seq must be >= from seq")
	}

	ranges := make([]SeqRange, 0)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= batchSize {
			end = to
		} else {
			end = start + batchSize - 1
		}
		ranges = append(ranges, SeqRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}

// Contains reports whether seq falls inside the range.
func (r SeqRange) Contains(seq uint64) bool {
	return seq >= r.From && seq <= r.To
}
