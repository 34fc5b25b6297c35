package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/mangaforge/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, entry models.GenerationLog) error {
	const query = `
INSERT INTO generation_logs (account_id, action, unit_id, cost, outcome, error)
VALUES (?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''))`
	if _, err := r.db.ExecContext(ctx, query, entry.AccountID, entry.Action, entry.UnitID, entry.Cost, entry.Outcome, entry.Error); err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

// SpentForDay sums the diamonds charged on day (UTC).
func (r *GenerationRepository) SpentForDay(ctx context.Context, accountID string, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	const query = `
SELECT COALESCE(SUM(cost), 0) FROM generation_logs
WHERE account_id = ? AND created_at >= ? AND created_at < ?`
	row := r.db.QueryRowContext(ctx, query, accountID, start, end)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum daily spend: %w", err)
	}
	return total, nil
}
