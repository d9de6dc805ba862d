package decision

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TimurManjosov/flagledger/internal/engine"
)

const insertDecisionSQLite = `
INSERT INTO flag_decisions (id, flag_key, enabled, reason, context, user_id, session_id, evaluated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

// SQLiteLog stores decisions in the flag_decisions table with millisecond timestamps.
type SQLiteLog struct {
	db *sql.DB
}

func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

func (s *SQLiteLog) Append(ctx context.Context, d Decision) error {
	return s.AppendBatch(ctx, []Decision{d})
}

func (s *SQLiteLog) AppendBatch(ctx context.Context, ds []Decision) error {
	if len(ds) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, d := range ds {
		rawCtx, err := encodeContext(d.Context)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		var enabled int
		if d.Enabled {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx, insertDecisionSQLite,
			d.ID, d.FlagKey, enabled, string(d.Reason), rawCtx,
			nullableString(d.UserID), nullableString(d.SessionID), d.EvaluatedAt.UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert decision: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit decisions: %w", err)
	}
	return nil
}

func (s *SQLiteLog) CountByReason(ctx context.Context, flagKey string, since time.Time) ([]ReasonCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT reason, enabled, COUNT(*)
FROM flag_decisions
WHERE flag_key = ? AND evaluated_at_ms >= ?
GROUP BY reason, enabled
ORDER BY reason, enabled;`, flagKey, since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	out := make([]ReasonCount, 0)
	for rows.Next() {
		var (
			reason  string
			enabled int
			count   int64
		)
		if err := rows.Scan(&reason, &enabled, &count); err != nil {
			return nil, fmt.Errorf("scan decision count: %w", err)
		}
		out = append(out, ReasonCount{Reason: engine.Reason(reason), Enabled: enabled == 1, Count: count})
	}
	return out, rows.Err()
}

func (s *SQLiteLog) History(ctx context.Context, q HistoryQuery) ([]Decision, error) {
	column, value := historyFilter(q)
	if column == "" {
		return []Decision{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, flag_key, enabled, reason, context, user_id, session_id, evaluated_at_ms
FROM flag_decisions
WHERE `+column+` = ?
ORDER BY evaluated_at_ms DESC, rowid DESC
LIMIT ?;`, value, limit)
	if err != nil {
		return nil, fmt.Errorf("query decision history: %w", err)
	}
	defer rows.Close()

	out := make([]Decision, 0)
	for rows.Next() {
		var (
			d           Decision
			enabled     int
			reason      string
			rawCtx      string
			userID      sql.NullString
			sessionID   sql.NullString
			evaluatedMs int64
		)
		if err := rows.Scan(&d.ID, &d.FlagKey, &enabled, &reason, &rawCtx, &userID, &sessionID, &evaluatedMs); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Enabled = enabled == 1
		d.Reason = engine.Reason(reason)
		if userID.Valid {
			d.UserID = &userID.String
		}
		if sessionID.Valid {
			d.SessionID = &sessionID.String
		}
		d.EvaluatedAt = time.UnixMilli(evaluatedMs).UTC()
		if err := decodeContext([]byte(rawCtx), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var _ Log = (*SQLiteLog)(nil)
