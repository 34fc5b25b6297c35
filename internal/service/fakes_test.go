package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/mangaforge/internal/genai"
	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/models"
	"github.com/digkill/mangaforge/internal/observability"
	"github.com/digkill/mangaforge/internal/project"
)

var errProviderDown = errors.New("provider down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLoader struct {
	saved *ledger.Ledger
	err   error
}

func (f *fakeLoader) Load(context.Context) (*ledger.Ledger, error) {
	return f.saved, f.err
}

// fakeProvider answers every call with a fixed image unless fail is set. block, when set,
// holds image calls until it is closed.
type fakeProvider struct {
	mu     sync.Mutex
	fail   map[string]bool
	calls  []string
	block  chan struct{}
	images int
	bytes  []byte
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{fail: make(map[string]bool)}
}

func (f *fakeProvider) failOn(key string) {
	f.mu.Lock()
	f.fail[key] = true
	f.mu.Unlock()
}

func (f *fakeProvider) record(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.fail[key] {
		return errProviderDown
	}
	return nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) image(ctx context.Context) (*genai.Image, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.images++
	n := f.images
	f.mu.Unlock()
	if f.bytes != nil {
		return &genai.Image{Bytes: f.bytes, Mime: "image/png"}, nil
	}
	return &genai.Image{URL: "https://provider.test/img-" + strconv.Itoa(n) + ".png", Mime: "image/png"}, nil
}

func (f *fakeProvider) GenerateScript(_ context.Context, req genai.ScriptRequest) ([]genai.PanelScript, error) {
	if err := f.record("script"); err != nil {
		return nil, err
	}
	return []genai.PanelScript{
		{Description: req.Title + " opens", Dialogue: "Hello", AspectRatio: "16:9"},
		{Description: "the twist", AspectRatio: "bogus"},
	}, nil
}

func (f *fakeProvider) GenerateStory(_ context.Context, topic string, _ genai.Language) (*genai.Story, error) {
	if err := f.record("story"); err != nil {
		return nil, err
	}
	return &genai.Story{
		Title:      "The " + topic,
		Genre:      "Adventure",
		Premise:    topic,
		Style:      "Manga",
		Characters: []genai.CharacterSketch{{Name: "Mai", Description: "pilot"}},
		Panels:     []genai.PanelScript{{Description: "launch", AspectRatio: "4:3"}},
	}, nil
}

func (f *fakeProvider) GenerateCharacterArt(ctx context.Context, name, _, _ string) (*genai.Image, error) {
	if err := f.record("character:" + name); err != nil {
		return nil, err
	}
	return f.image(ctx)
}

func (f *fakeProvider) GeneratePanelArt(ctx context.Context, description, _, _ string, _ []genai.CharacterSketch) (*genai.Image, error) {
	if err := f.record("panel:" + description); err != nil {
		return nil, err
	}
	return f.image(ctx)
}

type fakeUploader struct {
	err     error
	folders []string
}

func (f *fakeUploader) Upload(_ context.Context, folder string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.folders = append(f.folders, folder)
	return "https://cdn.test/" + folder + "/asset.png", nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []models.GenerationLog
}

func (f *fakeHistory) Log(_ context.Context, entry models.GenerationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistory) SpentForDay(_ context.Context, accountID string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, e := range f.entries {
		if e.AccountID == accountID {
			total += e.Cost
		}
	}
	return total, nil
}

func (f *fakeHistory) outcomes() []models.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Outcome, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Outcome)
	}
	return out
}

// newLoadedAccounts returns an account service already loaded with diamonds on the guest tier.
func newLoadedAccounts(t *testing.T, diamonds ledger.Amount, metrics *observability.Metrics) *AccountService {
	t.Helper()
	catalog := ledger.DefaultCatalog()
	saved := ledger.New(catalog.Default())
	saved.Diamonds = diamonds
	accounts := NewAccountService(catalog, &fakeLoader{saved: &saved}, discardLogger(), metrics)
	_, err := accounts.Load(context.Background())
	require.NoError(t, err)
	return accounts
}

type generationFixture struct {
	accounts *AccountService
	session  *project.Session
	provider *fakeProvider
	uploader *fakeUploader
	history  *fakeHistory
	service  *GenerationService
}

func newGenerationFixture(t *testing.T, diamonds ledger.Amount) *generationFixture {
	t.Helper()
	f := &generationFixture{
		accounts: newLoadedAccounts(t, diamonds, nil),
		session:  project.NewSession(),
		provider: newFakeProvider(),
		history:  &fakeHistory{},
	}
	f.service = NewGenerationService("owner", discardLogger(), f.accounts, f.session, f.provider, nil, f.history, nil)
	return f
}

func (f *generationFixture) withUploader(u *fakeUploader) {
	f.uploader = u
	f.service.uploader = u
}

func (f *generationFixture) diamonds(t *testing.T) ledger.Amount {
	t.Helper()
	l, err := f.accounts.Snapshot()
	require.NoError(t, err)
	return l.Diamonds
}
