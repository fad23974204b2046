package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rfqScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cache_entries_expires_at_idx ON cache_entries (expires_at);

CREATE TABLE IF NOT EXISTS sync_state (
	name       TEXT PRIMARY KEY,
	last_block BIGINT NOT NULL,
	block_hash TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS decode_errors (
	id           BIGSERIAL PRIMARY KEY,
	subscription TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	block_hash   TEXT NOT NULL,
	tx_hash      TEXT NOT NULL,
	log_index    BIGINT NOT NULL,
	address      TEXT NOT NULL,
	topic0       TEXT NOT NULL,
	error        TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for cached maker pricing, sync
// checkpoints and decode errors.
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

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get returns the value under key if it has not expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	row := s.pool.QueryRow(ctx, `SELECT value FROM cache_entries WHERE key=$1 AND expires_at > now()`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set replaces the value under key with a ttl measured on the database clock.
// A non-positive ttl deletes the key.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key=$1`, key)
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, now() + make_interval(secs => $3), now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()
	`, key, value, ttl.Seconds())
	return err
}

// Purge deletes expired entries and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LoadSyncState returns the checkpoint for a synchronizer name.
func (s *Store) LoadSyncState(ctx context.Context, name string) (model.SyncState, bool, error) {
	if name == "" {
		return model.SyncState{}, false, fmt.Errorf("state name required")
	}
	state := model.SyncState{Name: name}
	var lastBlock int64
	row := s.pool.QueryRow(ctx, `SELECT last_block, block_hash, updated_at FROM sync_state WHERE name=$1`, name)
	if err := row.Scan(&lastBlock, &state.BlockHash, &state.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncState{}, false, nil
		}
		return model.SyncState{}, false, err
	}
	state.LastBlock = uint64(lastBlock)
	return state, true, nil
}

// SaveSyncState upserts the checkpoint for a synchronizer.
func (s *Store) SaveSyncState(ctx context.Context, state model.SyncState) error {
	if state.Name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (name, last_block, block_hash, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, block_hash = EXCLUDED.block_hash, updated_at = now()
	`, state.Name, int64(state.LastBlock), state.BlockHash)
	return err
}

// PutDecodeErrors records skipped logs.
func (s *Store) PutDecodeErrors(records []model.DecodeError) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO decode_errors (
				subscription, block_number, block_hash, tx_hash, log_index, address, topic0, error
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			r.Subscription,
			int64(r.BlockNumber),
			r.BlockHash,
			r.TxHash,
			int64(r.LogIndex),
			r.Address,
			r.Topic0,
			r.Error,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
