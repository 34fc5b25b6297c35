package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/digkill/mangaforge/internal/project"
)

var (
	ErrNothingToGenerate = errors.New("nothing to generate")
	ErrSweepInProgress   = errors.New("a batch sweep is already running")
)

type BatchOutcome string

const (
	BatchGenerated    BatchOutcome = "generated"
	BatchSkipped      BatchOutcome = "skipped"
	BatchInsufficient BatchOutcome = "insufficient_funds"
	BatchFailed       BatchOutcome = "failed"
	BatchBusy         BatchOutcome = "busy"
	BatchRemoved      BatchOutcome = "removed"
	BatchNotAttempted BatchOutcome = "not_attempted"
)

type BatchItem struct {
	UnitID  string       `json:"unit_id"`
	Outcome BatchOutcome `json:"outcome"`
	Error   string       `json:"error,omitempty"`
}

type BatchReport struct {
	Kind      project.Kind `json:"kind"`
	Items     []BatchItem  `json:"items"`
	Generated int          `json:"generated"`
	Failed    int          `json:"failed"`
	Rejected  int          `json:"rejected"`
	Stopped   bool         `json:"stopped"`
}

// BatchService renders every unit that has no asset yet, one at a time, in stored order.
type BatchService struct {
	generations      *GenerationService
	log              *slog.Logger
	stopOnExhaustion bool

	running sync.Mutex
}

// NewBatchService builds the sweeper. With stopOnExhaustion the sweep ends at the first
// insufficient-funds rejection; otherwise every remaining unit is attempted and reported.
func NewBatchService(generations *GenerationService, log *slog.Logger, stopOnExhaustion bool) *BatchService {
	if log == nil {
		log = slog.Default()
	}
	return &BatchService{
		generations:      generations,
		log:              log,
		stopOnExhaustion: stopOnExhaustion,
	}
}

// GenerateMissing sweeps units of kind. Per-unit failures end up in the report; the error is
// non-nil only for an empty project, a concurrent sweep or a canceled context.
func (s *BatchService) GenerateMissing(ctx context.Context, kind project.Kind) (BatchReport, error) {
	if !s.running.TryLock() {
		return BatchReport{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	session := s.generations.Session()
	ids := session.UnitIDs(kind)
	if len(ids) == 0 {
		return BatchReport{}, ErrNothingToGenerate
	}

	report := BatchReport{Kind: kind, Items: make([]BatchItem, 0, len(ids))}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			report.stop(ids[i:])
			s.log.Info("batch sweep canceled", "kind", kind, "generated", report.Generated)
			return report, err
		}

		hasAsset, err := session.HasAsset(kind, id)
		if err != nil {
			report.add(id, BatchRemoved, err)
			continue
		}
		if hasAsset {
			report.add(id, BatchSkipped, nil)
			continue
		}

		err = s.generate(ctx, kind, id)
		switch {
		case err == nil:
			report.add(id, BatchGenerated, nil)
		case errors.Is(err, ErrInsufficientFunds):
			report.add(id, BatchInsufficient, err)
			if s.stopOnExhaustion {
				report.stop(ids[i+1:])
				s.log.Info("batch sweep stopped, out of diamonds", "kind", kind, "generated", report.Generated)
				return report, nil
			}
		case errors.Is(err, project.ErrUnitBusy):
			report.add(id, BatchBusy, err)
		case errors.Is(err, project.ErrUnitNotFound):
			report.add(id, BatchRemoved, err)
		default:
			report.add(id, BatchFailed, err)
		}
	}

	s.log.Info("batch sweep finished", "kind", kind, "generated", report.Generated, "failed", report.Failed, "rejected", report.Rejected)
	return report, nil
}

func (s *BatchService) generate(ctx context.Context, kind project.Kind, id string) error {
	if kind == project.KindCharacter {
		_, err := s.generations.GenerateCharacter(ctx, id)
		return err
	}
	_, err := s.generations.GeneratePanel(ctx, id)
	return err
}

func (r *BatchReport) add(id string, outcome BatchOutcome, err error) {
	item := BatchItem{UnitID: id, Outcome: outcome}
	if err != nil {
		item.Error = err.Error()
	}
	r.Items = append(r.Items, item)
	switch outcome {
	case BatchGenerated:
		r.Generated++
	case BatchFailed:
		r.Failed++
	case BatchInsufficient:
		r.Rejected++
	}
}

func (r *BatchReport) stop(rest []string) {
	r.Stopped = true
	for _, id := range rest {
		r.Items = append(r.Items, BatchItem{UnitID: id, Outcome: BatchNotAttempted})
	}
}
