package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/mangaforge/internal/config"
	"github.com/digkill/mangaforge/internal/genai"
	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/observability"
	"github.com/digkill/mangaforge/internal/project"
	"github.com/digkill/mangaforge/internal/service"
)

type stubProvider struct {
	failPanels bool
}

func (p *stubProvider) GenerateScript(context.Context, genai.ScriptRequest) ([]genai.PanelScript, error) {
	return []genai.PanelScript{{Description: "first", AspectRatio: "1:1"}}, nil
}

func (p *stubProvider) GenerateStory(_ context.Context, topic string, _ genai.Language) (*genai.Story, error) {
	return &genai.Story{Title: topic, Premise: topic, Panels: []genai.PanelScript{{Description: "opening"}}}, nil
}

func (p *stubProvider) GenerateCharacterArt(context.Context, string, string, string) (*genai.Image, error) {
	return &genai.Image{URL: "https://provider.test/character.png"}, nil
}

func (p *stubProvider) GeneratePanelArt(context.Context, string, string, string, []genai.CharacterSketch) (*genai.Image, error) {
	if p.failPanels {
		return nil, errors.New("upstream 500")
	}
	return &genai.Image{URL: "https://provider.test/panel.png"}, nil
}

type staticLoader struct {
	l ledger.Ledger
}

func (s staticLoader) Load(context.Context) (*ledger.Ledger, error) {
	l := s.l
	return &l, nil
}

type testEnv struct {
	server   *Server
	accounts *service.AccountService
	session  *project.Session
	provider *stubProvider
}

func newTestEnv(t *testing.T, diamonds ledger.Amount, username string) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := ledger.DefaultCatalog()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	start := ledger.New(catalog.Default())
	start.Diamonds = diamonds
	accounts := service.NewAccountService(catalog, staticLoader{l: start}, log, metrics)
	_, err := accounts.Load(context.Background())
	require.NoError(t, err)

	cfg := config.Config{AccountID: "owner", AdminGrantSecret: "letmein", PaymentBankID: "MB", PaymentAccountNo: "1", PaymentQRTemplate: "compact2"}
	plans := service.NewPlanService(catalog)
	session := project.NewSession()
	provider := &stubProvider{}
	generations := service.NewGenerationService("owner", log, accounts, session, provider, nil, nil, metrics)

	svc := Services{
		Accounts:    accounts,
		Plans:       plans,
		Payments:    service.NewPaymentService(cfg, plans, accounts, nil, log),
		Generations: generations,
		Batch:       service.NewBatchService(generations, log, false),
	}
	return &testEnv{
		server:   NewServer(":0", username, "secret", log, svc, metrics),
		accounts: accounts,
		session:  session,
		provider: provider,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(30), "admin")

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_BasicAuth(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(30), "admin")

	rec := env.do(t, http.MethodGet, "/account", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Account(t *testing.T) {
	env := newTestEnv(t, ledger.Unlimited, "")

	rec := env.do(t, http.MethodGet, "/account", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Unlimited", body["diamonds"])
	assert.NotContains(t, body, "spent_today")
}

func TestServer_GeneratePanelStatusCodes(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(40), "")
	p := env.session.AddPanel(project.PanelDraft{Description: "alley"})

	rec := env.do(t, http.MethodPost, "/project/panels/"+p.ID+"/generate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got project.Panel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, project.StatusSucceeded, got.Status)
	assert.Equal(t, "https://provider.test/panel.png", got.Asset.URL)

	rec = env.do(t, http.MethodPost, "/project/panels/"+p.ID+"/generate", "")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = env.do(t, http.MethodPost, "/project/panels/missing/generate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ProviderFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(100), "")
	env.provider.failPanels = true
	p := env.session.AddPanel(project.PanelDraft{Description: "rain"})

	rec := env.do(t, http.MethodPost, "/project/panels/"+p.ID+"/generate", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	l, err := env.accounts.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, ledger.Finite(70), l.Diamonds)
}

func TestServer_BusyUnitIsConflict(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(100), "")
	p := env.session.AddPanel(project.PanelDraft{Description: "rooftop"})
	_, err := env.session.Start(project.KindPanel, p.ID, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/project/panels/"+p.ID+"/generate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_StoryValidation(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(100), "")

	rec := env.do(t, http.MethodPost, "/project/story", `{"topic":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/project/story", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/project/story", `{"topic":"tea house","language":"vi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tea house", env.session.Meta().Title)
}

func TestServer_PanelCRUD(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(100), "")

	rec := env.do(t, http.MethodPost, "/project/panels", `{"description":"gate","aspect_ratio":"9:16"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var p project.Panel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, project.AspectTall, p.AspectRatio)
	assert.Equal(t, 1, p.Number)

	rec = env.do(t, http.MethodPut, "/project/panels/"+p.ID, `{"aspect_ratio":"2:1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/project/panels/"+p.ID, `{"dialogue":"Halt!"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := env.session.Panel(p.ID)
	assert.Equal(t, "Halt!", got.Dialogue)
	assert.Equal(t, "gate", got.Description)

	rec = env.do(t, http.MethodDelete, "/project/panels/"+p.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/project/panels/"+p.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GenerateMissing(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(100), "")

	rec := env.do(t, http.MethodPost, "/project/panels/generate-missing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.session.AddPanel(project.PanelDraft{Description: "a"})
	env.session.AddPanel(project.PanelDraft{Description: "b"})
	rec = env.do(t, http.MethodPost, "/project/panels/generate-missing", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.BatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Generated)
	assert.Len(t, report.Items, 2)
}

func TestServer_CheckoutFlow(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(30), "")

	rec := env.do(t, http.MethodPost, "/checkouts", `{"plan_code":"ADMIN"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/checkouts", `{"plan_code":"NOPE"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/checkouts", `{"plan_code":"THIEUGIA"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c service.Checkout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, service.CheckoutAwaitingPayment, c.Status)
	assert.Len(t, c.TxCode, 4)

	rec = env.do(t, http.MethodPost, "/checkouts/"+c.ID+"/paid", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/checkouts/"+c.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, service.CheckoutConfirmed, c.Status)

	l, err := env.accounts.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, ledger.Finite(430), l.Diamonds)
}

func TestServer_AdminGrant(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(30), "")

	rec := env.do(t, http.MethodPost, "/admin/grant", `{"secret":"wrong"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/grant", `{"secret":"letmein"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"diamonds":"Unlimited"`)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, ledger.Finite(30), "admin")
	env.do(t, http.MethodGet, "/healthz", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mangaforge_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), "mangaforge_diamonds_balance 30")
}
