package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateStore persists the timestamp of the last aggregated receipt.
type StateStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, ts uint64) error
}

// FileStateStore keeps the aggregation cursor in a JSON file. When
// WindowSeconds is set, a file written for another window size is
// rejected, since its cursor sits on different window boundaries.
type FileStateStore struct {
	Path          string
	WindowSeconds uint64
}

type fileState struct {
	LastReceiptTs uint64 `json:"last_receipt_ts"`
	WindowSeconds uint64 `json:"window_seconds,omitempty"`
	SavedAt       string `json:"saved_at"`
}

func (s *FileStateStore) Load(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.Path == "" {
		return 0, false, nil
	}
	raw, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read aggregate state: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(raw, &state); err != nil {
		return 0, false, fmt.Errorf("parse aggregate state %s: %w", s.Path, err)
	}
	if s.WindowSeconds != 0 && state.WindowSeconds != 0 && state.WindowSeconds != s.WindowSeconds {
		return 0, false, fmt.Errorf("aggregate state %s was written for %ds windows, not %ds",
			s.Path, state.WindowSeconds, s.WindowSeconds)
	}
	return state.LastReceiptTs, true, nil
}

func (s *FileStateStore) Save(ctx context.Context, ts uint64) error {
	if s == nil || s.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create aggregate state dir: %w", err)
	}

	raw, err := json.Marshal(fileState{
		LastReceiptTs: ts,
		WindowSeconds: s.WindowSeconds,
		SavedAt:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write aggregate state: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
