package leads

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"campaign-dialer/pkg/utils"
)

// PostgresRepo assumes:
//
//	leads (id, campaign_id NULL, name, phone, email, status, source, priority, notes,
//	       attempts, last_dialed_at NULL, in_progress_call_id NULL, created_at, updated_at, deleted_at NULL)
//	CREATE INDEX leads_pick ON leads (priority DESC, created_at ASC) WHERE deleted_at IS NULL AND in_progress_call_id IS NULL;
//	CREATE UNIQUE INDEX leads_in_progress ON leads (in_progress_call_id) WHERE in_progress_call_id IS NOT NULL;
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const leadColumns = `id, campaign_id, name, phone, email, status, source, priority, notes, attempts, last_dialed_at, in_progress_call_id, created_at, updated_at, deleted_at`

func (r *PostgresRepo) Create(ctx context.Context, l Lead) error {
	const q = `
INSERT INTO leads (` + leadColumns + `)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, 0, NULL, NULL, $10, $11, NULL)
`
	_, err := r.db.ExecContext(ctx, q,
		l.ID,
		l.CampaignID,
		l.Name,
		l.Phone,
		l.Email,
		l.Status,
		l.Source,
		l.Priority,
		l.Notes,
		l.CreatedAt,
		l.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return scanLead(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) List(ctx context.Context, lq ListQuery) ([]Lead, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if !lq.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if lq.CampaignID != "" {
		add("campaign_id = ?", lq.CampaignID)
	}
	if lq.Status != "" {
		add("status = ?", string(lq.Status))
	}
	if lq.Source != "" {
		add("source = ?", lq.Source)
	}
	q := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, lq.Limit, lq.Offset)
	q += ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, l Lead) error {
	const q = `
UPDATE leads
SET name = $2, email = $3, status = $4, source = $5, priority = $6, notes = $7, updated_at = $8
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, l.ID, l.Name, l.Email, l.Status, l.Source, l.Priority, l.Notes, l.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *PostgresRepo) FindByPhone(ctx context.Context, phone string) (Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads WHERE phone = $1 AND deleted_at IS NULL ORDER BY created_at ASC LIMIT 1`
	return scanLead(r.db.QueryRowContext(ctx, q, phone))
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE leads SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *PostgresRepo) CountForCampaign(ctx context.Context, campaignID string) (int, error) {
	const q = `SELECT COUNT(*) FROM leads WHERE campaign_id = $1 AND deleted_at IS NULL`
	var n int
	err := r.db.QueryRowContext(ctx, q, campaignID).Scan(&n)
	return n, err
}

// ReserveNext picks and reserves in one statement. SKIP LOCKED lets concurrent
// campaigns pass over a row another transaction is reserving instead of waiting on it.
func (r *PostgresRepo) ReserveNext(ctx context.Context, f Filter, callID string, at time.Time) (Lead, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	if len(statuses) == 0 {
		statuses = append(statuses, string(StatusNew))
	}
	const q = `
UPDATE leads SET in_progress_call_id = $1, updated_at = $2
WHERE id = (
	SELECT id FROM leads
	WHERE deleted_at IS NULL
	  AND in_progress_call_id IS NULL
	  AND status <> 'dnc'
	  AND (campaign_id IS NULL OR campaign_id = $3)
	  AND status = ANY(string_to_array($4, ','))
	  AND ($5 = '' OR source = ANY(string_to_array($5, ',')))
	  AND ($6 = 0 OR priority >= $6)
	  AND ($7 = 0 OR attempts < $7)
	ORDER BY priority DESC, created_at ASC, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + leadColumns

	l, err := scanLead(r.db.QueryRowContext(ctx, q,
		callID,
		at,
		f.CampaignID,
		strings.Join(statuses, ","),
		strings.Join(f.Sources, ","),
		f.MinPriority,
		f.MaxAttempts,
	))
	if errors.Is(err, ErrNotFound) {
		return Lead{}, ErrNoEligibleLead
	}
	return l, err
}

func (r *PostgresRepo) Reserve(ctx context.Context, id, callID string, at time.Time) (Lead, error) {
	var out Lead
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		l, err := scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if l.InProgress() && l.InProgressCallID != callID {
			return ErrInProgress
		}
		if _, err := tx.ExecContext(ctx, `UPDATE leads SET in_progress_call_id = $2, updated_at = $3 WHERE id = $1`, id, callID, at); err != nil {
			return err
		}
		l.InProgressCallID = callID
		l.UpdatedAt = at
		out = l
		return nil
	})
	return out, err
}

func (r *PostgresRepo) Release(ctx context.Context, id, callID string, at time.Time) error {
	const q = `UPDATE leads SET in_progress_call_id = NULL, updated_at = $3 WHERE id = $1 AND in_progress_call_id = $2`
	_, err := r.db.ExecContext(ctx, q, id, callID, at)
	return err
}

func (r *PostgresRepo) MarkDialed(ctx context.Context, id, callID string, at time.Time) error {
	const q = `UPDATE leads SET attempts = attempts + 1, last_dialed_at = $2, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *PostgresRepo) ApplyOutcome(ctx context.Context, id, callID string, next func(Status) Status, at time.Time) (Lead, error) {
	var out Lead
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		l, err := scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		l.Status = next(l.Status)
		if l.InProgressCallID == callID {
			l.InProgressCallID = ""
		}
		l.UpdatedAt = at
		const q = `UPDATE leads SET status = $2, in_progress_call_id = NULLIF($3, ''), updated_at = $4 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, q, id, l.Status, l.InProgressCallID, at); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var (
		l          Lead
		campaignID sql.NullString
		inProgress sql.NullString
		lastDialed sql.NullTime
		deletedAt  sql.NullTime
	)
	if err := row.Scan(
		&l.ID,
		&campaignID,
		&l.Name,
		&l.Phone,
		&l.Email,
		&l.Status,
		&l.Source,
		&l.Priority,
		&l.Notes,
		&l.Attempts,
		&lastDialed,
		&inProgress,
		&l.CreatedAt,
		&l.UpdatedAt,
		&deletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	l.CampaignID = campaignID.String
	l.InProgressCallID = inProgress.String
	if lastDialed.Valid {
		t := lastDialed.Time
		l.LastDialedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		l.DeletedAt = &t
	}
	return l, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
