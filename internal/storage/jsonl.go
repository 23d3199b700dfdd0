package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"flashLedger/internal/model"
)

// JsonlStorage appends records to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// Path returns the file the storage appends to.
func (s *JsonlStorage) Path() string { return s.path }

// PutReceiptBatch appends a batch of receipts as JSON lines.
func (s *JsonlStorage) PutReceiptBatch(receipts []model.Receipt) error {
	values := make([]interface{}, 0, len(receipts))
	for _, r := range receipts {
		values = append(values, r)
	}
	return s.append(values)
}

// PutFailureBatch appends a batch of replay failures as JSON lines.
func (s *JsonlStorage) PutFailureBatch(failures []model.ReplayError) error {
	values := make([]interface{}, 0, len(failures))
	for _, f := range failures {
		values = append(values, f)
	}
	return s.append(values)
}

func (s *JsonlStorage) append(values []interface{}) error {
	if len(values) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, value := range values {
		line, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
