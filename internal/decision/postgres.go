package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/flagledger/internal/engine"
)

const insertDecisionSQL = `
INSERT INTO flag_decisions (id, flag_key, enabled, reason, context, user_id, session_id, evaluated_at)
VALUES ($1::text::uuid, $2, $3, $4, $5::jsonb, $6, $7, $8)`

// PostgresLog stores decisions in the flag_decisions table.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (p *PostgresLog) Append(ctx context.Context, d Decision) error {
	args, err := postgresDecisionArgs(d)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, insertDecisionSQL, args...); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// AppendBatch inserts ds in one transaction; either all rows land or none do.
func (p *PostgresLog) AppendBatch(ctx context.Context, ds []Decision) error {
	if len(ds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range ds {
		args, err := postgresDecisionArgs(d)
		if err != nil {
			return err
		}
		batch.Queue(insertDecisionSQL, args...)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert decision batch: %w", err)
		}
		return nil
	})
}

func (p *PostgresLog) CountByReason(ctx context.Context, flagKey string, since time.Time) ([]ReasonCount, error) {
	rows, err := p.pool.Query(ctx, `
SELECT reason, enabled, count(*)
FROM flag_decisions
WHERE flag_key = $1 AND evaluated_at >= $2
GROUP BY reason, enabled
ORDER BY reason, enabled`, flagKey, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	out := make([]ReasonCount, 0)
	for rows.Next() {
		var (
			rc     ReasonCount
			reason string
		)
		if err := rows.Scan(&reason, &rc.Enabled, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan decision count: %w", err)
		}
		rc.Reason = engine.Reason(reason)
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (p *PostgresLog) History(ctx context.Context, q HistoryQuery) ([]Decision, error) {
	column, value := historyFilter(q)
	if column == "" {
		return []Decision{}, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id::text, flag_key, enabled, reason, context, user_id, session_id, evaluated_at
FROM flag_decisions
WHERE `+column+` = $1
ORDER BY evaluated_at DESC
LIMIT $2`, value, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query decision history: %w", err)
	}
	defer rows.Close()

	out := make([]Decision, 0)
	for rows.Next() {
		var (
			d      Decision
			reason string
			rawCtx []byte
		)
		if err := rows.Scan(&d.ID, &d.FlagKey, &d.Enabled, &reason, &rawCtx, &d.UserID, &d.SessionID, &d.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Reason = engine.Reason(reason)
		d.EvaluatedAt = d.EvaluatedAt.UTC()
		if err := decodeContext(rawCtx, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func postgresDecisionArgs(d Decision) ([]any, error) {
	rawCtx, err := encodeContext(d.Context)
	if err != nil {
		return nil, err
	}
	return []any{d.ID, d.FlagKey, d.Enabled, string(d.Reason), rawCtx, d.UserID, d.SessionID, d.EvaluatedAt.UTC()}, nil
}

// historyFilter returns the column and value selected by q. Column names are fixed
// literals, never user input.
func historyFilter(q HistoryQuery) (string, string) {
	switch {
	case q.UserID != "":
		return "user_id", q.UserID
	case q.SessionID != "":
		return "session_id", q.SessionID
	default:
		return "", ""
	}
}

func encodeContext(ctx map[string]any) (string, error) {
	if ctx == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("encode decision context: %w", err)
	}
	return string(raw), nil
}

func decodeContext(raw []byte, d *Decision) error {
	d.Context = map[string]any{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &d.Context); err != nil {
		return fmt.Errorf("decode decision context: %w", err)
	}
	return nil
}

var _ Log = (*PostgresLog)(nil)
