package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/observability"
)

var (
	ErrInsufficientFunds = errors.New("insufficient diamonds")
	ErrInvalidCost       = errors.New("invalid action cost")
	ErrAccountNotLoaded  = errors.New("account not loaded")
	ErrUnknownPlan       = errors.New("unknown plan")
)

// LedgerLoader returns the saved ledger, or nil when there is none.
type LedgerLoader interface {
	Load(ctx context.Context) (*ledger.Ledger, error)
}

// AccountService owns the in-memory ledger. Every debit and upgrade goes through it under one
// mutex, so a balance can never be spent twice.
type AccountService struct {
	catalog *ledger.Catalog
	loader  LedgerLoader
	log     *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	ledger   ledger.Ledger
	loaded   bool
	onChange func(ledger.Ledger)
}

func NewAccountService(catalog *ledger.Catalog, loader LedgerLoader, log *slog.Logger, metrics *observability.Metrics) *AccountService {
	if log == nil {
		log = slog.Default()
	}
	return &AccountService{
		catalog: catalog,
		loader:  loader,
		log:     log,
		metrics: metrics,
	}
}

// Load restores the saved ledger or starts a new one on the default tier. The change hook is
// not fired for the loaded state.
func (s *AccountService) Load(ctx context.Context) (ledger.Ledger, error) {
	var saved *ledger.Ledger
	if s.loader != nil {
		var err error
		saved, err = s.loader.Load(ctx)
		if err != nil {
			return ledger.Ledger{}, fmt.Errorf("load ledger: %w", err)
		}
	}

	l := ledger.New(s.catalog.Default())
	if saved != nil {
		l = *saved
	} else {
		s.log.Info("no saved ledger, starting on default plan", "plan", l.Plan.Code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = l
	s.loaded = true
	s.recordBalance()
	return l, nil
}

// OnChange sets the hook called with a snapshot after every successful mutation. It runs
// under the account lock and must not block or call back into the service.
func (s *AccountService) OnChange(fn func(ledger.Ledger)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *AccountService) Snapshot() (ledger.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ledger.Ledger{}, ErrAccountNotLoaded
	}
	return s.ledger, nil
}

// Admit charges the fixed price of action. It is the only way diamonds are spent.
func (s *AccountService) Admit(action ledger.Action) error {
	return s.debit(string(action), action.Cost())
}

func (s *AccountService) debit(label string, cost int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return ErrAccountNotLoaded
	}
	if cost <= 0 {
		s.metrics.ObserveDebit(label, "invalid")
		return fmt.Errorf("%w: %s costs %d", ErrInvalidCost, label, cost)
	}

	next, ok := ledger.TryDebit(s.ledger, cost)
	if !ok {
		s.metrics.ObserveDebit(label, "insufficient")
		return fmt.Errorf("%w: %s needs %d, balance %s", ErrInsufficientFunds, label, cost, s.ledger.Diamonds)
	}

	s.ledger = next
	s.metrics.ObserveDebit(label, "ok")
	s.changed()
	return nil
}

// Upgrade moves the account onto planID, adding that plan's grants.
func (s *AccountService) Upgrade(planID int) (ledger.Ledger, error) {
	plan, ok := s.catalog.ByID(planID)
	if !ok {
		return ledger.Ledger{}, fmt.Errorf("%w: %d", ErrUnknownPlan, planID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ledger.Ledger{}, ErrAccountNotLoaded
	}

	s.ledger = ledger.ResolveUpgrade(s.ledger, plan)
	s.metrics.ObserveUpgrade(plan.Code)
	s.log.Info("plan upgraded", "plan", plan.Code, "diamonds", s.ledger.Diamonds.String(), "rubies", s.ledger.Rubies.String())
	s.changed()
	return s.ledger, nil
}

// changed must be called with mu held.
func (s *AccountService) changed() {
	s.recordBalance()
	if s.onChange != nil {
		s.onChange(s.ledger)
	}
}

func (s *AccountService) recordBalance() {
	if v, ok := s.ledger.Diamonds.Value(); ok {
		s.metrics.SetDiamonds(v)
		return
	}
	s.metrics.SetDiamonds(-1)
}
