package store

import (
	"context"
	"fmt"

	mydb "github.com/TimurManjosov/flagledger/internal/db"
)

// Options selects and configures a store backend.
type Options struct {
	Type       string // "memory", "postgres" or "sqlite"
	DSN        string // postgres connection string
	SQLitePath string
}

// NewStore creates a new store based on opts.Type.
// Supported types: "memory", "postgres", "sqlite". SQL backends are migrated before use.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := mydb.NewPool(ctx, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := mydb.MigratePool(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case "sqlite":
		sqlDB, err := mydb.OpenSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return NewSQLiteStore(sqlDB), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}
}

// Healthcheck returns a readiness probe for s. The memory store is always healthy.
func Healthcheck(s Store) func(context.Context) error {
	switch st := s.(type) {
	case *PostgresStore:
		return mydb.Healthcheck(st.pool)
	case *SQLiteStore:
		return mydb.SQLiteHealthcheck(st.db)
	default:
		return func(context.Context) error { return nil }
	}
}
