package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TimurManjosov/flagledger/internal/clock"
	"github.com/TimurManjosov/flagledger/internal/rollout"
)

const sqliteFlagColumns = `key, name, description, is_enabled, rollout_type, rollout_value, starts_at_ms, ends_at_ms, created_at_ms, updated_at_ms`

// SQLiteStore is a SQLite implementation of the Store interface.
// Timestamps are stored as Unix milliseconds. The handle is expected to be limited to a
// single connection (see db.OpenSQLite), which serializes writers.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLiteStore creates a store on an already-migrated database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: clock.System{}}
}

// DB exposes the underlying handle so the decision log can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// GetFlagByKey retrieves a single flag by its key.
func (s *SQLiteStore) GetFlagByKey(ctx context.Context, key string) (*Flag, error) {
	return getSQLiteFlag(ctx, s.db, key)
}

// GetFlagsByKeys retrieves the flags for keys in request order.
func (s *SQLiteStore) GetFlagsByKeys(ctx context.Context, keys []string) ([]Flag, error) {
	if len(keys) == 0 {
		return []Flag{}, nil
	}
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, key := range keys {
		placeholders[i] = "?"
		args[i] = key
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteFlagColumns+` FROM flags WHERE key IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, unavailable("get flags", err)
	}
	found, err := collectSQLiteFlags(rows)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]Flag, len(found))
	for _, f := range found {
		byKey[f.Key] = f
	}
	result := make([]Flag, 0, len(found))
	for _, key := range keys {
		if f, ok := byKey[key]; ok {
			result = append(result, f)
			delete(byKey, key)
		}
	}
	return result, nil
}

// ListFlags returns all flags ordered by key.
func (s *SQLiteStore) ListFlags(ctx context.Context) ([]Flag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteFlagColumns+` FROM flags ORDER BY key`)
	if err != nil {
		return nil, unavailable("list flags", err)
	}
	return collectSQLiteFlags(rows)
}

// ListEnabledFlags returns flags whose master switch is on.
func (s *SQLiteStore) ListEnabledFlags(ctx context.Context) ([]Flag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteFlagColumns+` FROM flags WHERE is_enabled = 1 ORDER BY key`)
	if err != nil {
		return nil, unavailable("list enabled flags", err)
	}
	return collectSQLiteFlags(rows)
}

// UpsertFlag creates or replaces a flag, preserving created_at_ms on replace.
func (s *SQLiteStore) UpsertFlag(ctx context.Context, params UpsertParams) (*Flag, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var out *Flag
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.writeTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFlag applies mutate inside a transaction on the single writer connection.
func (s *SQLiteStore) UpdateFlag(ctx context.Context, key string, mutate func(*UpsertParams) error) (*Flag, error) {
	var out *Flag
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getSQLiteFlag(ctx, tx, key)
		if err != nil {
			return err
		}
		params, err := applyMutation(*current, mutate)
		if err != nil {
			return err
		}
		out, err = s.writeTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFlag removes a flag.
func (s *SQLiteStore) DeleteFlag(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flags WHERE key = ?`, key)
	if err != nil {
		return false, unavailable("delete flag", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete flag", err)
	}
	return n > 0, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *SQLiteStore) writeTx(ctx context.Context, tx *sql.Tx, params UpsertParams) (*Flag, error) {
	value, err := rolloutValue(params.Rollout)
	if err != nil {
		return nil, err
	}
	nowMs := s.clock.Now().UTC().UnixMilli()

	var enabled int
	if params.Enabled {
		enabled = 1
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO flags (key, name, description, is_enabled, rollout_type, rollout_value, starts_at_ms, ends_at_ms, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    is_enabled = excluded.is_enabled,
    rollout_type = excluded.rollout_type,
    rollout_value = excluded.rollout_value,
    starts_at_ms = excluded.starts_at_ms,
    ends_at_ms = excluded.ends_at_ms,
    updated_at_ms = excluded.updated_at_ms;
`,
		params.Key, params.Name, params.Description, enabled, string(params.Rollout.Type()), value,
		toMillis(params.StartsAt), toMillis(params.EndsAt), nowMs, nowMs,
	); err != nil {
		return nil, unavailable("upsert flag", err)
	}
	return getSQLiteFlag(ctx, tx, params.Key)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func getSQLiteFlag(ctx context.Context, q sqliteQuerier, key string) (*Flag, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteFlagColumns+` FROM flags WHERE key = ?`, key)
	f, err := scanSQLiteFlag(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get flag", err)
	}
	return f, nil
}

func scanSQLiteFlag(row sqliteScanner) (*Flag, error) {
	var (
		f            Flag
		enabled      int
		rolloutType  string
		rolloutValue sql.NullString
		startsAtMs   sql.NullInt64
		endsAtMs     sql.NullInt64
		createdAtMs  int64
		updatedAtMs  int64
	)
	if err := row.Scan(&f.Key, &f.Name, &f.Description, &enabled, &rolloutType, &rolloutValue,
		&startsAtMs, &endsAtMs, &createdAtMs, &updatedAtMs); err != nil {
		return nil, err
	}

	var raw []byte
	if rolloutValue.Valid {
		raw = []byte(rolloutValue.String)
	}
	strategy, err := rollout.Parse(rollout.Type(rolloutType), raw)
	if err != nil {
		return nil, fmt.Errorf("decode flag %q: %w", f.Key, err)
	}

	f.Enabled = enabled == 1
	f.Rollout = strategy
	f.StartsAt = fromMillis(startsAtMs)
	f.EndsAt = fromMillis(endsAtMs)
	f.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	f.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	return &f, nil
}

func collectSQLiteFlags(rows *sql.Rows) ([]Flag, error) {
	defer rows.Close()

	flags := make([]Flag, 0)
	for rows.Next() {
		f, err := scanSQLiteFlag(rows)
		if err != nil {
			return nil, unavailable("scan flag", err)
		}
		flags = append(flags, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate flags", err)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Key < flags[j].Key })
	return flags, nil
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

var _ Store = (*SQLiteStore)(nil)
