package campaigns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PostgresRepo stores campaigns in:
//
//	campaigns (id, name, status, type, script_id, script_version, max_concurrent, calls_per_hour,
//	           schedule JSONB, filter JSONB, pause_reason, pause_detail,
//	           created_at, updated_at, activated_at, completed_at)
//
// Save is a compare-and-set on status so concurrent lifecycle calls cannot both win.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const campaignColumns = `id, name, status, type, script_id, script_version, max_concurrent, calls_per_hour, schedule, filter, pause_reason, pause_detail, created_at, updated_at, activated_at, completed_at`

func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	schedule, filter, err := encodeConfig(c)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO campaigns (` + campaignColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`
	_, err = r.db.ExecContext(ctx, q,
		c.ID,
		c.Name,
		string(c.Status),
		string(c.Type),
		c.ScriptID,
		c.ScriptVersion,
		c.MaxConcurrent,
		c.CallsPerHour,
		schedule,
		filter,
		string(c.PauseReason),
		c.PauseDetail,
		c.CreatedAt,
		c.UpdatedAt,
		nullTime(c.ActivatedAt),
		nullTime(c.CompletedAt),
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Campaign, error) {
	const q = `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) List(ctx context.Context, lq ListQuery) ([]Campaign, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if lq.Status != "" {
		where = append(where, "status = "+arg(string(lq.Status)))
	}
	if lq.Type != "" {
		where = append(where, "type = "+arg(string(lq.Type)))
	}
	q := `SELECT ` + campaignColumns + ` FROM campaigns`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id`
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
	out := []Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Save(ctx context.Context, c Campaign, from Status) error {
	schedule, filter, err := encodeConfig(c)
	if err != nil {
		return err
	}
	const q = `
UPDATE campaigns
SET name = $3, status = $4, type = $5, script_id = $6, script_version = $7,
    max_concurrent = $8, calls_per_hour = $9, schedule = $10, filter = $11,
    pause_reason = $12, pause_detail = $13, updated_at = $14, activated_at = $15, completed_at = $16
WHERE id = $1 AND status = $2
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		string(from),
		c.Name,
		string(c.Status),
		string(c.Type),
		c.ScriptID,
		c.ScriptVersion,
		c.MaxConcurrent,
		c.CallsPerHour,
		schedule,
		filter,
		string(c.PauseReason),
		c.PauseDetail,
		c.UpdatedAt,
		nullTime(c.ActivatedAt),
		nullTime(c.CompletedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, c.ID); err != nil {
		return err
	}
	return fmt.Errorf("%w: status is no longer %s", ErrPreconditionFailed, from)
}

func encodeConfig(c Campaign) ([]byte, []byte, error) {
	schedule, err := json.Marshal(c.Schedule)
	if err != nil {
		return nil, nil, err
	}
	filter, err := json.Marshal(c.Filter)
	if err != nil {
		return nil, nil, err
	}
	return schedule, filter, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var (
		c                   Campaign
		schedule, filter    []byte
		activated, complete sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Status,
		&c.Type,
		&c.ScriptID,
		&c.ScriptVersion,
		&c.MaxConcurrent,
		&c.CallsPerHour,
		&schedule,
		&filter,
		&c.PauseReason,
		&c.PauseDetail,
		&c.CreatedAt,
		&c.UpdatedAt,
		&activated,
		&complete,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	if err := json.Unmarshal(schedule, &c.Schedule); err != nil {
		return Campaign{}, err
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &c.Filter); err != nil {
			return Campaign{}, err
		}
	}
	if activated.Valid {
		t := activated.Time
		c.ActivatedAt = &t
	}
	if complete.Valid {
		t := complete.Time
		c.CompletedAt = &t
	}
	return c, nil
}
