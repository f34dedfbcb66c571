package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ domain.StateRepository = (*PostgresStateRepository)(nil)

const stateSchema = `
CREATE TABLE IF NOT EXISTS account_checkins (
    email TEXT NOT NULL,
    day   TEXT NOT NULL,
    PRIMARY KEY (email, day)
);
CREATE TABLE IF NOT EXISTS account_tasks (
    email   TEXT NOT NULL,
    task_id TEXT NOT NULL,
    PRIMARY KEY (email, task_id)
);`

type PostgresStateRepository struct {
	db *sqlx.DB
}

func NewPostgresStateRepository(db *sqlx.DB) *PostgresStateRepository {
	return &PostgresStateRepository{db: db}
}

func (r *PostgresStateRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, stateSchema); err != nil {
		return fmt.Errorf("failed to create state tables: %w", err)
	}
	return nil
}

type checkinRow struct {
	Email string `db:"email"`
	Day   string `db:"day"`
}

type taskRow struct {
	Email  string `db:"email"`
	TaskID string `db:"task_id"`
}

func (r *PostgresStateRepository) Load(ctx context.Context) (domain.Ledger, error) {
	var checkins []checkinRow
	if err := r.db.SelectContext(ctx, &checkins, `SELECT email, day FROM account_checkins`); err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}

	var tasks []taskRow
	if err := r.db.SelectContext(ctx, &tasks, `SELECT email, task_id FROM account_tasks`); err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}

	ledger := domain.Ledger{}
	for _, c := range checkins {
		ledger.Ensure(c.Email).CheckInDays[c.Day] = true
	}
	for _, t := range tasks {
		ledger.Ensure(t.Email).MarkTask(t.TaskID)
	}
	return ledger, nil
}

// Save only ever inserts, so rows another writer added are kept.
func (r *PostgresStateRepository) Save(ctx context.Context, ledger domain.Ledger) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	checkinStmt, err := tx.PreparexContext(ctx,
		`INSERT INTO account_checkins (email, day) VALUES ($1, $2) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare check-in insert: %w", err)
	}
	defer checkinStmt.Close()

	taskStmt, err := tx.PreparexContext(ctx,
		`INSERT INTO account_tasks (email, task_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer taskStmt.Close()

	for email, st := range ledger {
		if st == nil {
			continue
		}
		for day := range st.CheckInDays {
			if _, err := checkinStmt.ExecContext(ctx, email, day); err != nil {
				return fmt.Errorf("failed to insert check-in for %s: %w", email, err)
			}
		}
		for id := range st.Tasks {
			if _, err := taskStmt.ExecContext(ctx, email, id); err != nil {
				return fmt.Errorf("failed to insert task for %s: %w", email, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}
