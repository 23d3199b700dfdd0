package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flashLedger/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_address   TEXT PRIMARY KEY,
	reserve_asset  TEXT NOT NULL,
	share_asset    TEXT NOT NULL,
	owner          TEXT NOT NULL,
	decimals       SMALLINT NOT NULL,
	first_seen_seq BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pool_window_metrics (
	pool_address        TEXT NOT NULL,
	window_size_seconds BIGINT NOT NULL,
	window_start_ts     TIMESTAMPTZ NOT NULL,
	window_end_ts       TIMESTAMPTZ NOT NULL,
	deposit_count       BIGINT NOT NULL,
	withdraw_count      BIGINT NOT NULL,
	loan_count          BIGINT NOT NULL,
	failed_count        BIGINT NOT NULL,
	deposit_volume      NUMERIC NOT NULL,
	withdraw_volume     NUMERIC NOT NULL,
	loan_volume         NUMERIC NOT NULL,
	fee_revenue         NUMERIC NOT NULL,
	closing_reserve     NUMERIC NOT NULL,
	closing_supply      NUMERIC NOT NULL,
	share_price         NUMERIC,
	fee_rate            NUMERIC,
	apr                 NUMERIC,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_address, window_size_seconds, window_start_ts)
);
CREATE TABLE IF NOT EXISTS ledger_state (
	name              TEXT PRIMARY KEY,
	last_processed_ts BIGINT NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for pool reports.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the report tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertPools inserts or updates pool metadata.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_address, reserve_asset, share_asset, owner, decimals, first_seen_seq, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (pool_address)
			DO UPDATE SET
				reserve_asset = EXCLUDED.reserve_asset,
				share_asset = EXCLUDED.share_asset,
				owner = EXCLUDED.owner,
				decimals = EXCLUDED.decimals,
				first_seen_seq = LEAST(pools.first_seen_seq, EXCLUDED.first_seen_seq),
				updated_at = now()
		`,
			pool.Address,
			pool.ReserveAsset,
			pool.ShareAsset,
			pool.Owner,
			int16(pool.Decimals),
			int64(pool.FirstSeenSeq),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool_address, window_size_seconds, window_start_ts, window_end_ts,
				deposit_count, withdraw_count, loan_count, failed_count,
				deposit_volume, withdraw_volume, loan_volume, fee_revenue,
				closing_reserve, closing_supply, share_price, fee_rate, apr, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())
			ON CONFLICT (pool_address, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				deposit_count = EXCLUDED.deposit_count,
				withdraw_count = EXCLUDED.withdraw_count,
				loan_count = EXCLUDED.loan_count,
				failed_count = EXCLUDED.failed_count,
				deposit_volume = EXCLUDED.deposit_volume,
				withdraw_volume = EXCLUDED.withdraw_volume,
				loan_volume = EXCLUDED.loan_volume,
				fee_revenue = EXCLUDED.fee_revenue,
				closing_reserve = EXCLUDED.closing_reserve,
				closing_supply = EXCLUDED.closing_supply,
				share_price = EXCLUDED.share_price,
				fee_rate = EXCLUDED.fee_rate,
				apr = EXCLUDED.apr,
				updated_at = now()
		`,
			m.PoolAddress,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.DepositCount),
			int64(m.WithdrawCount),
			int64(m.LoanCount),
			int64(m.FailedCount),
			m.DepositVolume,
			m.WithdrawVolume,
			m.LoanVolume,
			m.FeeRevenue,
			m.ClosingReserve,
			m.ClosingSupply,
			m.SharePrice,
			m.FeeRate,
			m.APR,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range metrics {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM ledger_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}
