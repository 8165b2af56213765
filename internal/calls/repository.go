package calls

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"campaign-dialer/internal/disposition"
	"campaign-dialer/pkg/utils"
)

// PostgresRepo assumes:
//
//	calls (id PK, executor_session_id, lead_id, campaign_id NULL, phone, direction, status, phase,
//	       script_id, script_version, script_state, disposition, sentiment, duration,
//	       cost_telephony, cost_stt, cost_tts, cost_llm, cost_total, classification_misses,
//	       created_at, updated_at, ended_at NULL, voided_at NULL,
//	       CHECK (cost_total = cost_telephony + cost_stt + cost_tts + cost_llm))
//	CREATE UNIQUE INDEX calls_one_live_per_lead ON calls (lead_id, COALESCE(campaign_id, '')) WHERE status = 'in_progress';
//
//	call_events (call_id, id, kind, speaker, content, label, script_state, latency_ms,
//	             cost_telephony, cost_stt, cost_tts, cost_llm, cost_total, at,
//	             PRIMARY KEY (call_id, id))
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, executor_session_id, lead_id, campaign_id, phone, direction, status, phase, script_id, script_version, script_state, disposition, sentiment, duration, cost_telephony, cost_stt, cost_tts, cost_llm, cost_total, classification_misses, created_at, updated_at, ended_at, voided_at`

const eventColumns = `call_id, id, kind, speaker, content, label, script_state, latency_ms, cost_telephony, cost_stt, cost_tts, cost_llm, cost_total, at`

func (r *PostgresRepo) Create(ctx context.Context, c Call, evs []Event) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
`
		if _, err := tx.ExecContext(ctx, q, callArgs(c)...); err != nil {
			return err
		}
		for _, ev := range evs {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func callArgs(c Call) []any {
	return []any{
		c.ID,
		c.ExecutorSessionID,
		c.LeadID,
		c.CampaignID,
		c.Phone,
		string(c.Direction),
		string(c.Status),
		string(c.Phase),
		c.ScriptID,
		c.ScriptVersion,
		c.ScriptState,
		string(c.Disposition),
		string(c.Sentiment),
		c.DurationSeconds,
		c.Cost.TelephonyMicros,
		c.Cost.STTMicros,
		c.Cost.TTSMicros,
		c.Cost.LLMMicros,
		c.Cost.TotalMicros,
		c.ClassificationMisses,
		c.CreatedAt,
		c.UpdatedAt,
		nullTime(c.EndedAt),
		nullTime(c.VoidedAt),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, ev Event) error {
	const q = `
INSERT INTO call_events (` + eventColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (call_id, id) DO NOTHING
`
	_, err := db.ExecContext(ctx, q,
		ev.CallID,
		ev.ID,
		string(ev.Kind),
		string(ev.Speaker),
		ev.Content,
		ev.Label,
		ev.ScriptState,
		ev.LatencyMs,
		ev.Cost.TelephonyMicros,
		ev.Cost.STTMicros,
		ev.Cost.TTSMicros,
		ev.Cost.LLMMicros,
		ev.Cost.TotalMicros,
		ev.At,
	)
	return err
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, ev Event) error {
	return insertEvent(ctx, r.db, ev)
}

func (r *PostgresRepo) SaveProgress(ctx context.Context, c Call) error {
	const q = `
UPDATE calls
SET executor_session_id = $2, phase = $3, script_state = $4, classification_misses = $5,
    cost_telephony = $6, cost_stt = $7, cost_tts = $8, cost_llm = $9, cost_total = $10, updated_at = $11
WHERE id = $1 AND status = 'in_progress'
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.ExecutorSessionID,
		string(c.Phase),
		c.ScriptState,
		c.ClassificationMisses,
		c.Cost.TelephonyMicros,
		c.Cost.STTMicros,
		c.Cost.TTSMicros,
		c.Cost.LLMMicros,
		c.Cost.TotalMicros,
		c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFinalizationConflict
	}
	return nil
}

// Finalize is a conditional update, so concurrent terminal deliveries across
// processes still produce exactly one terminal write.
func (r *PostgresRepo) Finalize(ctx context.Context, c Call) error {
	const q = `
UPDATE calls
SET executor_session_id = $2, status = $3, phase = $4, script_state = $5, disposition = $6, sentiment = $7,
    duration = $8, cost_telephony = $9, cost_stt = $10, cost_tts = $11, cost_llm = $12, cost_total = $13,
    classification_misses = $14, updated_at = $15, ended_at = $16
WHERE id = $1 AND status = 'in_progress'
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.ExecutorSessionID,
		string(c.Status),
		string(c.Phase),
		c.ScriptState,
		string(c.Disposition),
		string(c.Sentiment),
		c.DurationSeconds,
		c.Cost.TelephonyMicros,
		c.Cost.STTMicros,
		c.Cost.TTSMicros,
		c.Cost.LLMMicros,
		c.Cost.TotalMicros,
		c.ClassificationMisses,
		c.UpdatedAt,
		nullTime(c.EndedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, c.ID); err != nil {
			return err
		}
		return ErrFinalizationConflict
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Events(ctx context.Context, callID string) ([]Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM call_events WHERE call_id = $1 ORDER BY at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.CallID,
			&ev.ID,
			&ev.Kind,
			&ev.Speaker,
			&ev.Content,
			&ev.Label,
			&ev.ScriptState,
			&ev.LatencyMs,
			&ev.Cost.TelephonyMicros,
			&ev.Cost.STTMicros,
			&ev.Cost.TTSMicros,
			&ev.Cost.LLMMicros,
			&ev.Cost.TotalMicros,
			&ev.At,
		); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) List(ctx context.Context, lq ListQuery) ([]Call, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if lq.CampaignID != "" {
		where = append(where, "campaign_id = "+arg(lq.CampaignID))
	}
	if lq.LeadID != "" {
		where = append(where, "lead_id = "+arg(lq.LeadID))
	}
	if lq.Finished {
		where = append(where, "status <> 'in_progress'")
	} else if lq.Status != "" {
		where = append(where, "status = "+arg(string(lq.Status)))
	}
	q := `SELECT ` + callColumns + ` FROM calls`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at ASC, id ASC`
	if lq.Limit > 0 {
		q += ` LIMIT ` + arg(lq.Limit)
	}
	if lq.Offset > 0 {
		q += ` OFFSET ` + arg(lq.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SetVoided(ctx context.Context, id string, at time.Time) (Call, error) {
	const q = `
UPDATE calls SET voided_at = $2, updated_at = $2
WHERE id = $1 AND status <> 'in_progress' AND voided_at IS NULL
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, at))
	if errors.Is(err, ErrNotFound) {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return Call{}, gerr
		}
		return Call{}, ErrInvalidArgument
	}
	return c, err
}

func (r *PostgresRepo) SetDisposition(ctx context.Context, id string, d disposition.Disposition, at time.Time) (Call, error) {
	const q = `
UPDATE calls SET disposition = $2, updated_at = $3
WHERE id = $1 AND status <> 'in_progress' AND voided_at IS NULL
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, string(d), at))
	if errors.Is(err, ErrNotFound) {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return Call{}, gerr
		}
		return Call{}, ErrInvalidArgument
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c          Call
		campaignID sql.NullString
		endedAt    sql.NullTime
		voidedAt   sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.ExecutorSessionID,
		&c.LeadID,
		&campaignID,
		&c.Phone,
		&c.Direction,
		&c.Status,
		&c.Phase,
		&c.ScriptID,
		&c.ScriptVersion,
		&c.ScriptState,
		&c.Disposition,
		&c.Sentiment,
		&c.DurationSeconds,
		&c.Cost.TelephonyMicros,
		&c.Cost.STTMicros,
		&c.Cost.TTSMicros,
		&c.Cost.LLMMicros,
		&c.Cost.TotalMicros,
		&c.ClassificationMisses,
		&c.CreatedAt,
		&c.UpdatedAt,
		&endedAt,
		&voidedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.CampaignID = campaignID.String
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if voidedAt.Valid {
		t := voidedAt.Time
		c.VoidedAt = &t
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
