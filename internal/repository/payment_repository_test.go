package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/mangaforge/internal/models"
)

func TestPaymentRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO payments").
		WithArgs("demo-user", 3, "vietqr", "chk-1", "VND", int64(99000), "paid", "{}").
		WillReturnResult(sqlmock.NewResult(7, 1))

	p := &models.Payment{
		AccountID:      "demo-user",
		PlanID:         3,
		Provider:       "vietqr",
		ProviderCharge: "chk-1",
		Currency:       "VND",
		Amount:         99000,
		Status:         "paid",
		RawPayload:     "{}",
	}
	require.NoError(t, NewPaymentRepository(db).Create(context.Background(), p))
	assert.Equal(t, int64(7), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_FindByProviderCharge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM payments WHERE provider = \\? AND provider_payment_charge_id = \\?").
		WithArgs("vietqr", "chk-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "plan_id", "provider", "provider_payment_charge_id",
			"currency", "amount", "status", "raw_payload", "created_at", "updated_at",
		}).AddRow(int64(7), "demo-user", 3, "vietqr", "chk-1", "VND", int64(99000), "paid", "{}", now, now))

	p, err := NewPaymentRepository(db).FindByProviderCharge(context.Background(), "vietqr", "chk-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.PlanID)
	assert.Equal(t, "paid", p.Status)

	mock.ExpectQuery("SELECT (.+) FROM payments").
		WithArgs("vietqr", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	p, err = NewPaymentRepository(db).FindByProviderCharge(context.Background(), "vietqr", "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}
