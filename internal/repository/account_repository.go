package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/mangaforge/internal/models"
)

// AccountRepository is the remote MySQL tier for account ledgers.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Load returns nil when the account has no saved record.
func (r *AccountRepository) Load(ctx context.Context, accountID string) (*models.AccountRecord, error) {
	const query = `
SELECT id, plan_id, diamonds, rubies, updated_at
FROM accounts WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, accountID)
	var rec models.AccountRecord
	if err := row.Scan(&rec.AccountID, &rec.PlanID, &rec.Diamonds, &rec.Rubies, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &rec, nil
}

func (r *AccountRepository) Save(ctx context.Context, rec models.AccountRecord) error {
	const query = `
INSERT INTO accounts (id, plan_id, diamonds, rubies)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE plan_id = VALUES(plan_id), diamonds = VALUES(diamonds), rubies = VALUES(rubies), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, rec.AccountID, rec.PlanID, rec.Diamonds, rec.Rubies); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) Name() string {
	return "mysql"
}
