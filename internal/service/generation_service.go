package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/mangaforge/internal/genai"
	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/models"
	"github.com/digkill/mangaforge/internal/observability"
	"github.com/digkill/mangaforge/internal/project"
)

var (
	ErrTopicRequired    = errors.New("topic is required")
	ErrPremiseRequired  = errors.New("premise is required")
	ErrNameRequired     = errors.New("character name is required")
	ErrTraitsRequired   = errors.New("character traits are required")
	ErrProviderFailure  = errors.New("generation provider failed")
	ErrGenerationLogOff = errors.New("generation log is not configured")
)

// Provider is the content generation backend.
type Provider interface {
	GenerateScript(ctx context.Context, req genai.ScriptRequest) ([]genai.PanelScript, error)
	GenerateStory(ctx context.Context, topic string, lang genai.Language) (*genai.Story, error)
	GenerateCharacterArt(ctx context.Context, name, traits, style string) (*genai.Image, error)
	GeneratePanelArt(ctx context.Context, description, style, aspectRatio string, roster []genai.CharacterSketch) (*genai.Image, error)
}

// AssetUploader re-hosts generated images and returns their public URL.
type AssetUploader interface {
	Upload(ctx context.Context, folder string, data []byte, contentType string) (string, error)
}

type GenerationLog interface {
	Log(ctx context.Context, entry models.GenerationLog) error
	SpentForDay(ctx context.Context, accountID string, day time.Time) (int64, error)
}

type GenerationService struct {
	accountID string
	log       *slog.Logger
	accounts  *AccountService
	session   *project.Session
	provider  Provider
	uploader  AssetUploader
	history   GenerationLog
	metrics   *observability.Metrics
}

// NewGenerationService wires the generation pipeline. uploader and history may be nil.
func NewGenerationService(accountID string, log *slog.Logger, accounts *AccountService, session *project.Session, provider Provider, uploader AssetUploader, history GenerationLog, metrics *observability.Metrics) *GenerationService {
	if log == nil {
		log = slog.Default()
	}
	return &GenerationService{
		accountID: accountID,
		log:       log,
		accounts:  accounts,
		session:   session,
		provider:  provider,
		uploader:  uploader,
		history:   history,
		metrics:   metrics,
	}
}

func (s *GenerationService) Session() *project.Session {
	return s.session
}

// GenerateStory replaces the whole project with a draft built from topic.
func (s *GenerationService) GenerateStory(ctx context.Context, topic string, lang genai.Language) (project.Project, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return project.Project{}, ErrTopicRequired
	}
	if err := s.accounts.Admit(ledger.ActionStory); err != nil {
		return project.Project{}, err
	}

	story, err := s.provider.GenerateStory(ctx, topic, lang)
	if err != nil {
		s.finish(ctx, ledger.ActionStory, "", err)
		return project.Project{}, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	s.finish(ctx, ledger.ActionStory, "", nil)

	draft := project.Draft{
		Meta: project.Meta{
			Title:   story.Title,
			Genre:   story.Genre,
			Premise: story.Premise,
			Style:   story.Style,
		},
	}
	for _, ch := range story.Characters {
		draft.Characters = append(draft.Characters, project.CharacterDraft{Name: ch.Name, Traits: ch.Description})
	}
	draft.Panels = panelDrafts(story.Panels)
	return s.session.Replace(draft), nil
}

// GenerateScript replaces the panel list with a script for the current premise.
func (s *GenerationService) GenerateScript(ctx context.Context, lang genai.Language) ([]project.Panel, error) {
	snapshot := s.session.Snapshot()
	if strings.TrimSpace(snapshot.Premise) == "" {
		return nil, ErrPremiseRequired
	}
	if err := s.accounts.Admit(ledger.ActionScript); err != nil {
		return nil, err
	}

	req := genai.ScriptRequest{
		Title:    snapshot.Title,
		Genre:    snapshot.Genre,
		Premise:  snapshot.Premise,
		Language: lang,
	}
	for _, ch := range snapshot.Characters {
		req.Characters = append(req.Characters, genai.CharacterSketch{Name: ch.Name, Description: ch.Traits})
	}

	panels, err := s.provider.GenerateScript(ctx, req)
	if err != nil {
		s.finish(ctx, ledger.ActionScript, "", err)
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	s.finish(ctx, ledger.ActionScript, "", nil)
	return s.session.ReplacePanels(panelDrafts(panels)), nil
}

// CreateCharacter adds a character and renders its concept art.
func (s *GenerationService) CreateCharacter(ctx context.Context, name, traits string) (project.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return project.Character{}, ErrNameRequired
	}
	traits = strings.TrimSpace(traits)
	if traits == "" {
		return project.Character{}, ErrTraitsRequired
	}
	ch := s.session.AddCharacter(project.CharacterDraft{Name: name, Traits: traits})
	created, err := s.GenerateCharacter(ctx, ch.ID)
	if err != nil && !errors.Is(err, ErrProviderFailure) {
		// never admitted, so the character does not stay behind
		if rmErr := s.session.RemoveCharacter(ch.ID); rmErr != nil {
			s.log.Warn("remove rejected character", "unit_id", ch.ID, "error", rmErr)
		}
		return project.Character{}, err
	}
	return created, err
}

// GenerateCharacter (re)renders one character. The returned character reflects the unit's
// final state even when err is non-nil.
func (s *GenerationService) GenerateCharacter(ctx context.Context, id string) (project.Character, error) {
	err := s.generateUnit(ctx, project.KindCharacter, id)
	ch, lookupErr := s.session.Character(id)
	if err == nil {
		err = lookupErr
	}
	return ch, err
}

// GeneratePanel (re)renders one panel.
func (s *GenerationService) GeneratePanel(ctx context.Context, id string) (project.Panel, error) {
	err := s.generateUnit(ctx, project.KindPanel, id)
	p, lookupErr := s.session.Panel(id)
	if err == nil {
		err = lookupErr
	}
	return p, err
}

// SpentToday sums today's charges from the generation log.
func (s *GenerationService) SpentToday(ctx context.Context) (int64, error) {
	if s.history == nil {
		return 0, ErrGenerationLogOff
	}
	return s.history.SpentForDay(ctx, s.accountID, time.Now().UTC())
}

// generateUnit checks the unit, charges for it and moves it to pending in one step, then runs
// the provider. A failed or canceled attempt is not refunded.
func (s *GenerationService) generateUnit(ctx context.Context, kind project.Kind, id string) error {
	action := actionFor(kind)
	job, err := s.session.Start(kind, id, func() error {
		return s.accounts.Admit(action)
	})
	if err != nil {
		return err
	}

	asset, err := s.render(ctx, job)
	if err != nil {
		if failErr := s.session.Fail(kind, id, err); failErr != nil {
			s.log.Warn("mark unit failed", "kind", kind, "unit_id", id, "error", failErr)
		}
		s.finish(ctx, action, id, err)
		return fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	if err := s.session.Complete(kind, id, asset); err != nil {
		s.log.Warn("store unit result", "kind", kind, "unit_id", id, "error", err)
	}
	s.finish(ctx, action, id, nil)
	return nil
}

func (s *GenerationService) render(ctx context.Context, job project.Job) (project.Asset, error) {
	var (
		img    *genai.Image
		err    error
		folder string
	)
	switch job.Kind {
	case project.KindCharacter:
		folder = "characters"
		img, err = s.provider.GenerateCharacterArt(ctx, job.Character.Name, job.Character.Traits, job.Style)
	case project.KindPanel:
		folder = "panels"
		roster := make([]genai.CharacterSketch, 0, len(job.Roster))
		for _, ch := range job.Roster {
			roster = append(roster, genai.CharacterSketch{Name: ch.Name, Description: ch.Traits})
		}
		img, err = s.provider.GeneratePanelArt(ctx, job.Panel.Description, job.Style, string(job.Panel.AspectRatio), roster)
	default:
		return project.Asset{}, fmt.Errorf("unsupported unit kind %q", job.Kind)
	}
	if err != nil {
		return project.Asset{}, err
	}
	if img == nil || (img.URL == "" && len(img.Bytes) == 0) {
		return project.Asset{}, genai.ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return project.Asset{}, err
	}

	asset := project.Asset{URL: img.URL, MimeType: img.Mime, Bytes: img.Bytes}
	if s.uploader != nil && len(img.Bytes) > 0 {
		hosted, err := s.uploader.Upload(ctx, folder, img.Bytes, img.Mime)
		if err != nil {
			s.log.Warn("re-host asset failed, keeping provider url", "unit_id", job.ID, "error", err)
		} else {
			asset.URL = hosted
			asset.Bytes = nil
		}
	}
	return asset, nil
}

// finish records the outcome of a charged attempt.
func (s *GenerationService) finish(ctx context.Context, action ledger.Action, unitID string, cause error) {
	outcome := models.OutcomeSucceeded
	errText := ""
	if cause != nil {
		outcome = models.OutcomeFailed
		errText = cause.Error()
		s.log.Error("generation failed", "action", action, "unit_id", unitID, "error", cause)
	} else {
		s.log.Info("generation succeeded", "action", action, "unit_id", unitID)
	}
	s.metrics.ObserveGeneration(string(action), string(outcome))

	if s.history == nil {
		return
	}
	entry := models.GenerationLog{
		AccountID: s.accountID,
		Action:    string(action),
		UnitID:    unitID,
		Cost:      action.Cost(),
		Outcome:   outcome,
		Error:     errText,
	}
	// the attempt is logged even when the caller's context is gone
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.history.Log(logCtx, entry); err != nil {
		s.log.Error("failed to log generation", "err", err)
	}
}

func actionFor(kind project.Kind) ledger.Action {
	if kind == project.KindCharacter {
		return ledger.ActionCharacter
	}
	return ledger.ActionPanel
}

func panelDrafts(scripts []genai.PanelScript) []project.PanelDraft {
	drafts := make([]project.PanelDraft, 0, len(scripts))
	for _, p := range scripts {
		drafts = append(drafts, project.PanelDraft{
			Description: p.Description,
			Dialogue:    p.Dialogue,
			AspectRatio: project.ParseAspectRatio(p.AspectRatio),
		})
	}
	return drafts
}
