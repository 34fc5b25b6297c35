package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/mangaforge/internal/config"
	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/models"
)

var (
	ErrCheckoutNotFound    = errors.New("checkout not found")
	ErrCheckoutVerifying   = errors.New("checkout is already being verified")
	ErrPlanNotPurchasable  = errors.New("plan cannot be purchased")
	ErrAdminGrantDisabled  = errors.New("admin grant is disabled")
	ErrAdminSecretMismatch = errors.New("invalid admin secret")
)

const paymentProvider = "vietqr"

type CheckoutStatus string

const (
	CheckoutAwaitingPayment CheckoutStatus = "awaiting_payment"
	CheckoutVerifying       CheckoutStatus = "verifying"
	CheckoutConfirmed       CheckoutStatus = "confirmed"
)

type Checkout struct {
	ID          string          `json:"id"`
	Plan        ledger.PlanTier `json:"plan"`
	TxCode      string          `json:"tx_code,omitempty"`
	QRURL       string          `json:"qr_url,omitempty"`
	Amount      int64           `json:"amount_vnd"`
	Status      CheckoutStatus  `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
}

// PaymentRecorder stores confirmed checkouts.
type PaymentRecorder interface {
	Create(ctx context.Context, payment *models.Payment) error
}

// PaymentService runs the simulated bank-transfer checkout. Nothing is verified against a bank:
// "paid" from the user plus a fixed delay counts as confirmation.
type PaymentService struct {
	cfg      config.Config
	plans    *PlanService
	accounts *AccountService
	payments PaymentRecorder
	log      *slog.Logger

	delay  time.Duration
	txCode func() string
	now    func() time.Time

	mu        sync.Mutex
	checkouts map[string]*Checkout
}

// NewPaymentService builds the checkout flow. payments may be nil.
func NewPaymentService(cfg config.Config, plans *PlanService, accounts *AccountService, payments PaymentRecorder, log *slog.Logger) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{
		cfg:       cfg,
		plans:     plans,
		accounts:  accounts,
		payments:  payments,
		log:       log,
		delay:     cfg.PaymentVerifyDelay,
		txCode:    randomTxCode,
		now:       time.Now,
		checkouts: make(map[string]*Checkout),
	}
}

// StartCheckout opens a checkout for planCode. Free tiers are applied at once and come back
// already confirmed.
func (s *PaymentService) StartCheckout(planCode string) (Checkout, error) {
	plan, err := s.plans.GetByCode(planCode)
	if err != nil {
		return Checkout{}, err
	}
	if plan.ID == ledger.AdminPlanID {
		return Checkout{}, fmt.Errorf("%w: %s", ErrPlanNotPurchasable, plan.Code)
	}

	now := s.now().UTC()
	c := &Checkout{
		ID:        uuid.NewString(),
		Plan:      plan,
		Amount:    plan.PriceMinorUnits,
		Status:    CheckoutAwaitingPayment,
		CreatedAt: now,
	}

	if plan.Free() {
		if _, err := s.accounts.Upgrade(plan.ID); err != nil {
			return Checkout{}, fmt.Errorf("apply free plan: %w", err)
		}
		c.Status = CheckoutConfirmed
		c.ConfirmedAt = &now
	} else {
		c.TxCode = s.txCode()
		c.QRURL = s.qrURL(plan, c.TxCode)
	}

	s.mu.Lock()
	s.checkouts[c.ID] = c
	s.mu.Unlock()

	s.log.Info("checkout started", "checkout_id", c.ID, "plan", plan.Code, "status", c.Status)
	return *c, nil
}

func (s *PaymentService) Checkout(id string) (Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkouts[id]
	if !ok {
		return Checkout{}, ErrCheckoutNotFound
	}
	return *c, nil
}

// ConfirmPaid handles the user's "I have paid" signal. After the verification delay the plan
// upgrade is applied. Confirming an already confirmed checkout changes nothing.
func (s *PaymentService) ConfirmPaid(ctx context.Context, id string) (Checkout, error) {
	s.mu.Lock()
	c, ok := s.checkouts[id]
	if !ok {
		s.mu.Unlock()
		return Checkout{}, ErrCheckoutNotFound
	}
	switch c.Status {
	case CheckoutConfirmed:
		out := *c
		s.mu.Unlock()
		return out, nil
	case CheckoutVerifying:
		s.mu.Unlock()
		return Checkout{}, ErrCheckoutVerifying
	}
	c.Status = CheckoutVerifying
	planID := c.Plan.ID
	s.mu.Unlock()

	if err := s.wait(ctx); err != nil {
		s.setStatus(id, CheckoutAwaitingPayment)
		return Checkout{}, err
	}

	if _, err := s.accounts.Upgrade(planID); err != nil {
		s.setStatus(id, CheckoutAwaitingPayment)
		return Checkout{}, fmt.Errorf("apply plan: %w", err)
	}

	s.mu.Lock()
	now := s.now().UTC()
	c.Status = CheckoutConfirmed
	c.ConfirmedAt = &now
	out := *c
	s.mu.Unlock()

	s.log.Info("checkout confirmed", "checkout_id", id, "plan", out.Plan.Code)
	s.record(ctx, out)
	return out, nil
}

// AdminGrant upgrades to the administrative tier when secret matches the configured one.
// This is a plain string comparison, not an authentication scheme.
func (s *PaymentService) AdminGrant(secret string) (ledger.Ledger, error) {
	if s.cfg.AdminGrantSecret == "" {
		return ledger.Ledger{}, ErrAdminGrantDisabled
	}
	if secret != s.cfg.AdminGrantSecret {
		s.log.Warn("admin grant rejected")
		return ledger.Ledger{}, ErrAdminSecretMismatch
	}
	l, err := s.accounts.Upgrade(ledger.AdminPlanID)
	if err != nil {
		return ledger.Ledger{}, fmt.Errorf("grant admin plan: %w", err)
	}
	return l, nil
}

func (s *PaymentService) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *PaymentService) setStatus(id string, status CheckoutStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.checkouts[id]; ok {
		c.Status = status
	}
}

func (s *PaymentService) record(ctx context.Context, c Checkout) {
	if s.payments == nil {
		return
	}
	record := &models.Payment{
		AccountID:      s.cfg.AccountID,
		PlanID:         c.Plan.ID,
		Provider:       paymentProvider,
		ProviderCharge: c.ID,
		Currency:       "VND",
		Amount:         c.Amount,
		Status:         "paid",
		RawPayload:     string(jsonMustMarshal(c)),
	}
	// the plan is already applied, so the row is written even if the caller went away
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.payments.Create(recordCtx, record); err != nil {
		s.log.Error("record payment", "checkout_id", c.ID, "error", err)
	}
}

func (s *PaymentService) qrURL(plan ledger.PlanTier, txCode string) string {
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(plan.PriceMinorUnits, 10))
	q.Set("addInfo", fmt.Sprintf("MF PAY %s %s", plan.Code, txCode))
	q.Set("accountName", s.cfg.PaymentAccountName)
	return fmt.Sprintf("https://img.vietqr.io/image/%s-%s-%s.png?%s",
		url.PathEscape(s.cfg.PaymentBankID), url.PathEscape(s.cfg.PaymentAccountNo), url.PathEscape(s.cfg.PaymentQRTemplate), q.Encode())
}

// randomTxCode returns a four digit reference for the transfer note.
func randomTxCode() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
