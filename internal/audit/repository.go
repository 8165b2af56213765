package audit

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// PostgresRepo writes to audit_events, which should carry an INSERT-only policy.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const auditColumns = `id, type, actor_id, actor_role, ip_address, campaign_id, call_id, script_id, message, metadata, created_at`

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (` + auditColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,'')::jsonb,$11)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.ActorID,
		e.ActorRole,
		e.IPAddress,
		e.CampaignID,
		e.CallID,
		e.ScriptID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, aq Query) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if aq.CampaignID != "" {
		where = append(where, "campaign_id = "+arg(aq.CampaignID))
	}
	if aq.CallID != "" {
		where = append(where, "call_id = "+arg(aq.CallID))
	}
	if aq.Type != "" {
		where = append(where, "type = "+arg(string(aq.Type)))
	}
	q := `SELECT id, type, actor_id, actor_role, ip_address, campaign_id, call_id, script_id, message, COALESCE(metadata::text, ''), created_at FROM audit_events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if aq.Limit > 0 {
		q += ` LIMIT ` + arg(aq.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.Type,
			&e.ActorID,
			&e.ActorRole,
			&e.IPAddress,
			&e.CampaignID,
			&e.CallID,
			&e.ScriptID,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
