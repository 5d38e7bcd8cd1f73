// Package server exposes the engine over HTTP. Browser shells or test
// harnesses post page events to it and poll for fills, prompts, and
// notifications.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/credengine/internal/engine"
	"github.com/sells-group/credengine/internal/model"
	"github.com/sells-group/credengine/internal/store"
)

// Server routes page events into the engine and surfaces its outputs.
type Server struct {
	engine *engine.Engine
	client *PolicyClient
	driver *FillRecorder
	store  store.Store
}

func New(eng *engine.Engine, client *PolicyClient, driver *FillRecorder, st store.Store) *Server {
	return &Server{engine: eng, client: client, driver: driver, store: st}
}

// Router builds the chi handler. limit caps the sustained event rate; burst
// allows short spikes.
func (s *Server) Router(limit float64, burst int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(rateLimit(rate.NewLimiter(rate.Limit(limit), burst)))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events/parsed", s.handleParsed)
		r.Post("/events/submitted", s.handleSubmitted)
		r.Post("/events/rendered", s.handleRendered)
		r.Post("/events/navigated", s.handleNavigated)
		r.Post("/events/generated", s.handleGenerated)
		r.Post("/events/store-changed", s.handleStoreChanged)

		r.Get("/units", s.handleUnits)
		r.Get("/fills", s.handleFills)
		r.Get("/prompts", s.handlePrompts)
		r.Post("/prompts/{unitID}", s.handleResolvePrompt)
		r.Post("/blacklist/{unitID}", s.handleBlacklist)
		r.Get("/notifications", s.handleNotifications)
	})
	return r
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleParsed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Forms []model.ObservedForm `json:"forms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.engine.OnFormsParsed(r.Context(), req.Forms)
	writeJSON(w, http.StatusAccepted, map[string]int{"forms": len(req.Forms)})
}

func (s *Server) handleSubmitted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Form model.ObservedForm `json:"form"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	reason := s.engine.OnFormSubmitted(r.Context(), req.Form)
	writeJSON(w, http.StatusOK, map[string]any{
		"tracked": reason == model.FailureNone,
		"reason":  reason.String(),
	})
}

func (s *Server) handleRendered(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Forms          []model.ObservedForm `json:"forms"`
		DidStopLoading bool                 `json:"did_stop_loading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.engine.OnFormsRendered(r.Context(), req.Forms, req.DidStopLoading)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (s *Server) handleNavigated(w http.ResponseWriter, r *http.Request) {
	s.engine.DidNavigateMainFrame()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerated(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Form model.ObservedForm `json:"form"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.engine.OnGeneratedPasswordAccepted(req.Form)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (s *Server) handleStoreChanged(w http.ResponseWriter, r *http.Request) {
	s.engine.InformStoreChanged(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"units": s.engine.Units()})
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fills": s.driver.Fills()})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prompts": s.client.OpenPrompts()})
}

func (s *Server) handleResolvePrompt(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	prompt, ok := s.client.TakePrompt(unitID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open prompt"})
		return
	}
	if err := s.engine.ResolvePrompt(r.Context(), unitID, req.Accept); err != nil {
		zap.L().Error("server: resolve prompt", zap.String("unit", unitID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolve failed"})
		return
	}
	if !req.Accept {
		domain := store.OriginDomain(prompt.Pending.Origin)
		if err := s.store.RecordDismissal(r.Context(), domain, prompt.Pending.UsernameValue); err != nil {
			zap.L().Warn("server: record dismissal", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": req.Accept})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")
	if err := s.engine.PermanentlyBlacklist(r.Context(), unitID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.client.Notifications()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}
