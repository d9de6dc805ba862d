package decision

import (
	"github.com/TimurManjosov/flagledger/internal/store"
)

// LogFor returns a decision log sharing the flag store's database, or an in-memory log
// for the memory store.
func LogFor(st store.Store) Log {
	switch s := st.(type) {
	case *store.PostgresStore:
		return NewPostgresLog(s.Pool())
	case *store.SQLiteStore:
		return NewSQLiteLog(s.DB())
	default:
		return NewMemoryLog()
	}
}
