package service

import (
	"fmt"

	"github.com/digkill/mangaforge/internal/ledger"
)

// PlanService answers catalog questions for the front ends.
type PlanService struct {
	catalog *ledger.Catalog
}

func NewPlanService(catalog *ledger.Catalog) *PlanService {
	return &PlanService{catalog: catalog}
}

func (s *PlanService) List() []ledger.PlanTier {
	return s.catalog.List()
}

// Purchasable lists the tiers a checkout can be started for.
func (s *PlanService) Purchasable() []ledger.PlanTier {
	return s.catalog.Purchasable()
}

func (s *PlanService) GetByCode(code string) (ledger.PlanTier, error) {
	plan, ok := s.catalog.ByCode(code)
	if !ok {
		return ledger.PlanTier{}, fmt.Errorf("%w: %q", ErrUnknownPlan, code)
	}
	return plan, nil
}

func (s *PlanService) GetByID(id int) (ledger.PlanTier, error) {
	plan, ok := s.catalog.ByID(id)
	if !ok {
		return ledger.PlanTier{}, fmt.Errorf("%w: %d", ErrUnknownPlan, id)
	}
	return plan, nil
}
