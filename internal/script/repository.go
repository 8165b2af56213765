package script

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"campaign-dialer/pkg/utils"
)

// PostgresRepo stores script versions in:
//
//	scripts (id, version, name, industry, personality, start_state, states JSONB, active, created_at, updated_at)
//	PRIMARY KEY (id, version)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const scriptColumns = `id, version, name, industry, personality, start_state, states, active, created_at, updated_at`

func (r *PostgresRepo) AppendVersion(ctx context.Context, s Script) error {
	states, err := json.Marshal(s.States)
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if s.Active {
			if _, err := tx.ExecContext(ctx, `UPDATE scripts SET active = false WHERE id = $1 AND active`, s.ID); err != nil {
				return err
			}
		}
		const q = `
INSERT INTO scripts (` + scriptColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
		_, err := tx.ExecContext(ctx, q,
			s.ID,
			s.Version,
			s.Name,
			s.Industry,
			s.Personality,
			s.Start,
			states,
			s.Active,
			s.CreatedAt,
			s.UpdatedAt,
		)
		return err
	})
}

func (r *PostgresRepo) Latest(ctx context.Context, id string) (Script, error) {
	const q = `SELECT ` + scriptColumns + ` FROM scripts WHERE id = $1 ORDER BY version DESC LIMIT 1`
	return scanScript(r.db.QueryRowContext(ctx, q, id), ErrNotFound)
}

func (r *PostgresRepo) Version(ctx context.Context, id string, version int) (Script, error) {
	const q = `SELECT ` + scriptColumns + ` FROM scripts WHERE id = $1 AND version = $2`
	return scanScript(r.db.QueryRowContext(ctx, q, id, version), ErrNotFound)
}

func (r *PostgresRepo) Active(ctx context.Context, id string) (Script, error) {
	const q = `SELECT ` + scriptColumns + ` FROM scripts WHERE id = $1 AND active ORDER BY version DESC LIMIT 1`
	return scanScript(r.db.QueryRowContext(ctx, q, id), ErrNotActive)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Script, error) {
	const q = `
SELECT DISTINCT ON (id) ` + scriptColumns + `
FROM scripts
ORDER BY id, version DESC
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Script
	for rows.Next() {
		s, err := scanScript(rows, ErrNotFound)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScript(row rowScanner, notFound error) (Script, error) {
	var s Script
	var states []byte
	if err := row.Scan(
		&s.ID,
		&s.Version,
		&s.Name,
		&s.Industry,
		&s.Personality,
		&s.Start,
		&states,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Script{}, notFound
		}
		return Script{}, err
	}
	if err := json.Unmarshal(states, &s.States); err != nil {
		return Script{}, err
	}
	return s, nil
}
