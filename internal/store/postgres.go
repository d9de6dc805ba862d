package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/flagledger/internal/rollout"
)

const flagColumns = `key, name, description, is_enabled, rollout_type, rollout_value, starts_at, ends_at, created_at, updated_at`

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool so the decision log can share it.
func (p *PostgresStore) Pool() *pgxpool.Pool { return p.pool }

// GetFlagByKey retrieves a single flag by its key from the database.
func (p *PostgresStore) GetFlagByKey(ctx context.Context, key string) (*Flag, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+flagColumns+` FROM flags WHERE key = $1`, key)
	flag, err := scanPostgresFlag(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get flag", err)
	}
	return flag, nil
}

// GetFlagsByKeys retrieves the flags for keys in request order.
func (p *PostgresStore) GetFlagsByKeys(ctx context.Context, keys []string) ([]Flag, error) {
	if len(keys) == 0 {
		return []Flag{}, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT `+flagColumns+` FROM flags WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, unavailable("get flags", err)
	}
	found, err := collectPostgresFlags(rows)
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
func (p *PostgresStore) ListFlags(ctx context.Context) ([]Flag, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+flagColumns+` FROM flags ORDER BY key`)
	if err != nil {
		return nil, unavailable("list flags", err)
	}
	return collectPostgresFlags(rows)
}

// ListEnabledFlags returns flags whose master switch is on.
func (p *PostgresStore) ListEnabledFlags(ctx context.Context) ([]Flag, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+flagColumns+` FROM flags WHERE is_enabled ORDER BY key`)
	if err != nil {
		return nil, unavailable("list enabled flags", err)
	}
	return collectPostgresFlags(rows)
}

const upsertFlagSQL = `
INSERT INTO flags (key, name, description, is_enabled, rollout_type, rollout_value, starts_at, ends_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, now(), now())
ON CONFLICT (key) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    is_enabled = EXCLUDED.is_enabled,
    rollout_type = EXCLUDED.rollout_type,
    rollout_value = EXCLUDED.rollout_value,
    starts_at = EXCLUDED.starts_at,
    ends_at = EXCLUDED.ends_at,
    updated_at = now()
RETURNING ` + flagColumns

// UpsertFlag creates or replaces a flag in the database.
func (p *PostgresStore) UpsertFlag(ctx context.Context, params UpsertParams) (*Flag, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	args, err := postgresArgs(params)
	if err != nil {
		return nil, err
	}
	flag, err := scanPostgresFlag(p.pool.QueryRow(ctx, upsertFlagSQL, args...))
	if err != nil {
		return nil, unavailable("upsert flag", err)
	}
	return flag, nil
}

// UpdateFlag locks the row with SELECT ... FOR UPDATE, applies mutate and writes it back
// in the same transaction.
func (p *PostgresStore) UpdateFlag(ctx context.Context, key string, mutate func(*UpsertParams) error) (*Flag, error) {
	var (
		updated     *Flag
		mutationErr error
	)
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		current, err := scanPostgresFlag(tx.QueryRow(ctx, `SELECT `+flagColumns+` FROM flags WHERE key = $1 FOR UPDATE`, key))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return unavailable("lock flag", err)
		}

		params, err := applyMutation(*current, mutate)
		if err != nil {
			mutationErr = err
			return err
		}
		args, err := postgresArgs(params)
		if err != nil {
			mutationErr = err
			return err
		}
		updated, err = scanPostgresFlag(tx.QueryRow(ctx, upsertFlagSQL, args...))
		if err != nil {
			return unavailable("update flag", err)
		}
		return nil
	})
	switch {
	case mutationErr != nil:
		return nil, mutationErr
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
		return nil, err
	case err != nil:
		// begin or commit failed
		return nil, unavailable("update flag", err)
	}
	return updated, nil
}

// DeleteFlag removes a flag from the database.
func (p *PostgresStore) DeleteFlag(ctx context.Context, key string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM flags WHERE key = $1`, key)
	if err != nil {
		return false, unavailable("delete flag", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func postgresArgs(params UpsertParams) ([]any, error) {
	value, err := rolloutValue(params.Rollout)
	if err != nil {
		return nil, err
	}
	return []any{
		params.Key,
		params.Name,
		params.Description,
		params.Enabled,
		string(params.Rollout.Type()),
		value,
		utcTime(params.StartsAt),
		utcTime(params.EndsAt),
	}, nil
}

// rolloutValue returns the payload JSON, or nil for strategies without one.
func rolloutValue(s rollout.Strategy) (*string, error) {
	if s == nil || s.Payload() == nil {
		return nil, nil
	}
	raw, err := rollout.MarshalPayload(s)
	if err != nil {
		return nil, fmt.Errorf("encode rollout value: %w", err)
	}
	v := string(raw)
	return &v, nil
}

func scanPostgresFlag(row pgx.Row) (*Flag, error) {
	var (
		f            Flag
		rolloutType  string
		rolloutValue []byte
		startsAt     *time.Time
		endsAt       *time.Time
	)
	if err := row.Scan(&f.Key, &f.Name, &f.Description, &f.Enabled, &rolloutType, &rolloutValue,
		&startsAt, &endsAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	strategy, err := rollout.Parse(rollout.Type(rolloutType), rolloutValue)
	if err != nil {
		return nil, fmt.Errorf("decode flag %q: %w", f.Key, err)
	}
	f.Rollout = strategy
	f.StartsAt = utcTime(startsAt)
	f.EndsAt = utcTime(endsAt)
	f.CreatedAt = storedTime(f.CreatedAt)
	f.UpdatedAt = storedTime(f.UpdatedAt)
	return &f, nil
}

func collectPostgresFlags(rows pgx.Rows) ([]Flag, error) {
	defer rows.Close()

	flags := make([]Flag, 0)
	for rows.Next() {
		f, err := scanPostgresFlag(rows)
		if err != nil {
			return nil, unavailable("scan flag", err)
		}
		flags = append(flags, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate flags", err)
	}
	return flags, nil
}

var _ Store = (*PostgresStore)(nil)
