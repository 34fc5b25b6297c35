// Package api exposes the account, checkout and project operations over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/mangaforge/internal/genai"
	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/observability"
	"github.com/digkill/mangaforge/internal/project"
	"github.com/digkill/mangaforge/internal/service"
)

// image generation polls the provider for up to a few minutes
const writeTimeout = 5 * time.Minute

type Services struct {
	Accounts    *service.AccountService
	Plans       *service.PlanService
	Payments    *service.PaymentService
	Generations *service.GenerationService
	Batch       *service.BatchService
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	svc      Services
	metrics  *observability.Metrics
	router   *chi.Mux
}

// NewServer builds the router. Basic auth guards everything except health and metrics when
// username is set.
func NewServer(addr, username, password string, log *slog.Logger, svc Services, metrics *observability.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMetricsMiddleware(metrics, routePattern))

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		svc:      svc,
		metrics:  metrics,
		router:   r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(protected chi.Router) {
		if s.username != "" {
			protected.Use(s.basicAuthMiddleware())
		}
		protected.Get("/account", s.handleAccount)
		protected.Get("/plans", s.handleListPlans)
		protected.Post("/admin/grant", s.handleAdminGrant)
		protected.Route("/checkouts", func(r chi.Router) {
			r.Post("/", s.handleStartCheckout)
			r.Get("/{id}", s.handleGetCheckout)
			r.Post("/{id}/paid", s.handleConfirmPaid)
		})
		protected.Route("/project", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Put("/", s.handleUpdateMeta)
			r.Post("/story", s.handleGenerateStory)
			r.Post("/script", s.handleGenerateScript)
			r.Route("/panels", func(r chi.Router) {
				r.Post("/", s.handleAddPanel)
				r.Post("/generate-missing", s.handleGenerateMissing(project.KindPanel))
				r.Put("/{id}", s.handleUpdatePanel)
				r.Delete("/{id}", s.handleRemovePanel)
				r.Post("/{id}/generate", s.handleGeneratePanel)
			})
			r.Route("/characters", func(r chi.Router) {
				r.Post("/", s.handleCreateCharacter)
				r.Post("/generate-missing", s.handleGenerateMissing(project.KindCharacter))
				r.Delete("/{id}", s.handleRemoveCharacter)
				r.Post("/{id}/generate", s.handleGenerateCharacter)
			})
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type accountResponse struct {
	Plan       ledger.PlanTier `json:"plan"`
	Diamonds   ledger.Amount   `json:"diamonds"`
	Rubies     ledger.Amount   `json:"rubies"`
	SpentToday *int64          `json:"spent_today,omitempty"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	l, err := s.svc.Accounts.Snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := accountResponse{Plan: l.Plan, Diamonds: l.Diamonds, Rubies: l.Rubies}
	if spent, err := s.svc.Generations.SpentToday(r.Context()); err == nil {
		resp.SpentToday = &spent
	} else if !errors.Is(err, service.ErrGenerationLogOff) {
		s.log.Warn("read spent today", "err", err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Plans.List())
}

type checkoutRequest struct {
	PlanCode string `json:"plan_code"`
}

func (s *Server) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.svc.Payments.StartCheckout(req.PlanCode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Payments.Checkout(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleConfirmPaid(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Payments.ConfirmPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

type adminGrantRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var req adminGrantRequest
	if !s.decode(w, r, &req) {
		return
	}
	l, err := s.svc.Payments.AdminGrant(req.Secret)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Generations.Session().Snapshot())
}

func (s *Server) handleUpdateMeta(w http.ResponseWriter, r *http.Request) {
	var req project.Meta
	if !s.decode(w, r, &req) {
		return
	}
	s.svc.Generations.Session().UpdateMeta(req)
	s.writeJSON(w, http.StatusOK, s.svc.Generations.Session().Meta())
}

type storyRequest struct {
	Topic    string `json:"topic"`
	Language string `json:"language"`
}

func (s *Server) handleGenerateStory(w http.ResponseWriter, r *http.Request) {
	var req storyRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.svc.Generations.GenerateStory(r.Context(), req.Topic, genai.ParseLanguage(req.Language))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type scriptRequest struct {
	Language string `json:"language"`
}

func (s *Server) handleGenerateScript(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	panels, err := s.svc.Generations.GenerateScript(r.Context(), genai.ParseLanguage(req.Language))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, panels)
}

type panelRequest struct {
	Description  *string  `json:"description"`
	Dialogue     *string  `json:"dialogue"`
	AspectRatio  *string  `json:"aspect_ratio"`
	CharacterIDs []string `json:"character_ids"`
}

func (s *Server) handleAddPanel(w http.ResponseWriter, r *http.Request) {
	var req panelRequest
	if !s.decode(w, r, &req) {
		return
	}
	draft := project.PanelDraft{}
	if req.Description != nil {
		draft.Description = *req.Description
	}
	if req.Dialogue != nil {
		draft.Dialogue = *req.Dialogue
	}
	if req.AspectRatio != nil {
		draft.AspectRatio = project.AspectRatio(*req.AspectRatio)
	}
	p := s.svc.Generations.Session().AddPanel(draft)
	if req.CharacterIDs != nil {
		var err error
		if p, err = s.svc.Generations.Session().UpdatePanel(p.ID, project.PanelPatch{CharacterIDs: req.CharacterIDs}); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePanel(w http.ResponseWriter, r *http.Request) {
	var req panelRequest
	if !s.decode(w, r, &req) {
		return
	}
	patch := project.PanelPatch{
		Description:  req.Description,
		Dialogue:     req.Dialogue,
		CharacterIDs: req.CharacterIDs,
	}
	if req.AspectRatio != nil {
		ar := project.AspectRatio(*req.AspectRatio)
		if !ar.Valid() {
			http.Error(w, "invalid aspect_ratio", http.StatusBadRequest)
			return
		}
		patch.AspectRatio = &ar
	}
	p, err := s.svc.Generations.Session().UpdatePanel(chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRemovePanel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Generations.Session().RemovePanel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGeneratePanel(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Generations.GeneratePanel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type characterRequest struct {
	Name   string `json:"name"`
	Traits string `json:"traits"`
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req characterRequest
	if !s.decode(w, r, &req) {
		return
	}
	ch, err := s.svc.Generations.CreateCharacter(r.Context(), req.Name, req.Traits)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleGenerateCharacter(w http.ResponseWriter, r *http.Request) {
	ch, err := s.svc.Generations.GenerateCharacter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleRemoveCharacter(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Generations.Session().RemoveCharacter(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateMissing(kind project.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.svc.Batch.GenerateMissing(r.Context(), kind)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="mangaforge"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("api handler error", "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, project.ErrUnitBusy),
		errors.Is(err, service.ErrCheckoutVerifying),
		errors.Is(err, service.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, project.ErrUnitNotFound),
		errors.Is(err, service.ErrCheckoutNotFound),
		errors.Is(err, service.ErrUnknownPlan),
		errors.Is(err, service.ErrAdminGrantDisabled):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAdminSecretMismatch):
		return http.StatusForbidden
	case errors.Is(err, service.ErrTopicRequired),
		errors.Is(err, service.ErrPremiseRequired),
		errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrTraitsRequired),
		errors.Is(err, service.ErrPlanNotPurchasable),
		errors.Is(err, service.ErrNothingToGenerate):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrProviderFailure):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrAccountNotLoaded),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
