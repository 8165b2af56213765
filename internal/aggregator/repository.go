package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"

	"campaign-dialer/pkg/utils"
)

// PostgresRepo stores the ledger in:
//
//	rollup_ledger (seq BIGSERIAL, id UUID PRIMARY KEY, call_id, key TEXT UNIQUE, kind, delta JSONB, reason, created_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const entryColumns = `id, call_id, key, kind, delta, reason, created_at`

func (r *PostgresRepo) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `INSERT INTO rollup_ledger (` + entryColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
		for _, e := range entries {
			delta, err := json.Marshal(e.Delta)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, q,
				e.ID,
				e.CallID,
				e.Key,
				string(e.Kind),
				delta,
				e.Reason,
				e.CreatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if utils.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepo) All(ctx context.Context) ([]Entry, error) {
	return r.query(ctx, `SELECT `+entryColumns+` FROM rollup_ledger ORDER BY seq`)
}

func (r *PostgresRepo) ForCall(ctx context.Context, callID string) ([]Entry, error) {
	return r.query(ctx, `SELECT `+entryColumns+` FROM rollup_ledger WHERE call_id = $1 ORDER BY seq`, callID)
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			delta []byte
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.Key, &e.Kind, &delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(delta, &e.Delta); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
