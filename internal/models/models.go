package models

import "time"

// UnlimitedSentinel is the stored balance value meaning Unlimited.
const UnlimitedSentinel int64 = -1

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// AccountRecord is the persisted ledger of one account.
type AccountRecord struct {
	AccountID string
	PlanID    int
	Diamonds  int64
	Rubies    int64
	UpdatedAt time.Time
}

type GenerationLog struct {
	ID        int64
	AccountID string
	Action    string
	UnitID    string
	Cost      int64
	Outcome   Outcome
	Error     string
	CreatedAt time.Time
}

type Payment struct {
	ID             int64
	AccountID      string
	PlanID         int
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int64
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
