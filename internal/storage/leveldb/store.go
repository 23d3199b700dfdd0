package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"flashLedger/internal/host"
	"flashLedger/internal/ledger"
	"flashLedger/internal/storage"
)

const (
	programKey    = "state/program"
	assetPrefix   = "asset/"
	balancePrefix = "balance/"
	poolPrefix    = "pool/"
)

// Store keeps the ledger state in a LevelDB directory, one JSON value per
// program state, asset, balance and pool.
type Store struct {
	db *goleveldb.DB
}

// Open opens (or creates) a LevelDB database at dir.
func Open(dir string) (*Store, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("state dir required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}
	db, err := goleveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func assetKey(asset common.Address) []byte {
	return []byte(assetPrefix + asset.Hex())
}

func balanceKey(asset, account common.Address) []byte {
	return []byte(balancePrefix + asset.Hex() + "/" + account.Hex())
}

func poolKey(reserve common.Address) []byte {
	return []byte(poolPrefix + reserve.Hex())
}

// LoadSnapshot reads the whole state. ok is false for a fresh database.
func (s *Store) LoadSnapshot(ctx context.Context) (storage.Snapshot, bool, error) {
	var snap storage.Snapshot
	found := false

	raw, err := s.db.Get([]byte(programKey), nil)
	switch {
	case errors.Is(err, goleveldb.ErrNotFound):
	case err != nil:
		return snap, false, fmt.Errorf("load program state: %w", err)
	default:
		var state ledger.ProgramState
		if err := json.Unmarshal(raw, &state); err != nil {
			return snap, false, fmt.Errorf("parse program state: %w", err)
		}
		snap.Program = &state
		found = true
	}

	err = s.scan(ctx, assetPrefix, func(value []byte) error {
		var info host.AssetInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("parse asset: %w", err)
		}
		snap.Host.Assets = append(snap.Host.Assets, info)
		return nil
	})
	if err != nil {
		return snap, false, err
	}

	err = s.scan(ctx, balancePrefix, func(value []byte) error {
		var entry host.BalanceEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("parse balance: %w", err)
		}
		snap.Host.Balances = append(snap.Host.Balances, entry)
		return nil
	})
	if err != nil {
		return snap, false, err
	}

	err = s.scan(ctx, poolPrefix, func(value []byte) error {
		var pool ledger.Pool
		if err := json.Unmarshal(value, &pool); err != nil {
			return fmt.Errorf("parse pool: %w", err)
		}
		snap.Pools = append(snap.Pools, pool)
		return nil
	})
	if err != nil {
		return snap, false, err
	}

	found = found || len(snap.Host.Assets) > 0 || len(snap.Pools) > 0
	return snap, found, nil
}

func (s *Store) scan(ctx context.Context, prefix string, fn func(value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	return nil
}

// SaveSnapshot replaces the stored state in a single write batch. Keys
// missing from snap, such as balances that dropped to zero, are removed.
func (s *Store) SaveSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(goleveldb.Batch)

	for _, prefix := range []string{assetPrefix, balancePrefix, poolPrefix} {
		iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		err := iter.Error()
		iter.Release()
		if err != nil {
			return fmt.Errorf("iterate %s: %w", prefix, err)
		}
	}

	put := func(key []byte, value interface{}) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		batch.Put(key, data)
		return nil
	}

	if snap.Program != nil {
		if err := put([]byte(programKey), snap.Program); err != nil {
			return err
		}
	} else {
		batch.Delete([]byte(programKey))
	}
	for _, info := range snap.Host.Assets {
		if err := put(assetKey(info.Address), info); err != nil {
			return err
		}
	}
	for _, entry := range snap.Host.Balances {
		if entry.Amount == 0 {
			continue
		}
		if err := put(balanceKey(entry.Asset, entry.Account), entry); err != nil {
			return err
		}
	}
	for _, pool := range snap.Pools {
		if err := put(poolKey(pool.ReserveAsset), pool); err != nil {
			return err
		}
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
