package persistence

import (
	"errors"
	"fmt"

	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/models"
)

var ErrInvalidBalance = errors.New("invalid stored balance")

// EncodeAmount maps Unlimited to the -1 sentinel.
func EncodeAmount(a ledger.Amount) int64 {
	if v, ok := a.Value(); ok {
		return v
	}
	return models.UnlimitedSentinel
}

// DecodeAmount maps -1 to Unlimited and rejects every other negative value.
func DecodeAmount(v int64) (ledger.Amount, error) {
	switch {
	case v == models.UnlimitedSentinel:
		return ledger.Unlimited, nil
	case v < 0:
		return ledger.Amount{}, fmt.Errorf("%w: %d", ErrInvalidBalance, v)
	default:
		return ledger.Finite(v), nil
	}
}

func ToRecord(accountID string, l ledger.Ledger) models.AccountRecord {
	return models.AccountRecord{
		AccountID: accountID,
		PlanID:    l.Plan.ID,
		Diamonds:  EncodeAmount(l.Diamonds),
		Rubies:    EncodeAmount(l.Rubies),
	}
}

// FromRecord rebuilds a ledger. A plan id missing from catalog resolves to the default tier.
func FromRecord(rec models.AccountRecord, catalog *ledger.Catalog) (ledger.Ledger, error) {
	diamonds, err := DecodeAmount(rec.Diamonds)
	if err != nil {
		return ledger.Ledger{}, fmt.Errorf("decode diamonds: %w", err)
	}
	rubies, err := DecodeAmount(rec.Rubies)
	if err != nil {
		return ledger.Ledger{}, fmt.Errorf("decode rubies: %w", err)
	}
	plan, ok := catalog.ByID(rec.PlanID)
	if !ok {
		plan = catalog.Default()
	}
	return ledger.Ledger{Plan: plan, Diamonds: diamonds, Rubies: rubies}, nil
}
