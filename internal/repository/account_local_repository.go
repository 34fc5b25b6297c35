package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/mangaforge/internal/models"
)

// LocalAccountRepository keeps account ledgers in the on-device SQLite file.
type LocalAccountRepository struct {
	db *sql.DB
}

func NewLocalAccountRepository(db *sql.DB) *LocalAccountRepository {
	return &LocalAccountRepository{db: db}
}

func (r *LocalAccountRepository) Load(ctx context.Context, accountID string) (*models.AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	const query = `SELECT id, plan_id, diamonds, rubies, updated_at FROM accounts WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, accountID)
	var rec models.AccountRecord
	var updated int64
	if err := row.Scan(&rec.AccountID, &rec.PlanID, &rec.Diamonds, &rec.Rubies, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan local account: %w", err)
	}
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

func (r *LocalAccountRepository) Save(ctx context.Context, rec models.AccountRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	const query = `
INSERT INTO accounts (id, plan_id, diamonds, rubies, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    plan_id = excluded.plan_id,
    diamonds = excluded.diamonds,
    rubies = excluded.rubies,
    updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, rec.AccountID, rec.PlanID, rec.Diamonds, rec.Rubies, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("upsert local account: %w", err)
	}
	return nil
}

func (r *LocalAccountRepository) Name() string {
	return "local"
}
