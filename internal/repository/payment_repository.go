package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/mangaforge/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (account_id, plan_id, provider, provider_payment_charge_id, currency, amount, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.AccountID, payment.PlanID, payment.Provider, payment.ProviderCharge, payment.Currency, payment.Amount, payment.Status, payment.RawPayload)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error) {
	const query = `
SELECT id, account_id, plan_id, provider, provider_payment_charge_id, currency, amount, status, COALESCE(raw_payload, ''), created_at, COALESCE(updated_at, created_at) as updated_at
FROM payments WHERE provider = ? AND provider_payment_charge_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, provider, chargeID)
	var p models.Payment
	if err := row.Scan(&p.ID, &p.AccountID, &p.PlanID, &p.Provider, &p.ProviderCharge, &p.Currency, &p.Amount, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}
