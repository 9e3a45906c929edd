// Package web serves the local JSON API the UI layer talks to.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/service"
	"github.com/conorfennell/cardify/internal/storage"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	svc     *service.Service
	router  chi.Router
	logger  *slog.Logger
	now     func() time.Time
	started time.Time
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates and configures a new server.
func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.started = s.now()
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/decks", s.handleListDecks)
		r.Post("/decks", s.handleCreateDeck)
		r.Put("/decks/{id}", s.handleUpdateDeck)
		r.Delete("/decks/{id}", s.handleDeleteDeck)
		r.Get("/decks/{id}/due", s.handleDueCards)

		r.Get("/cards", s.handleListCards)
		r.Post("/cards", s.handleCreateCard)
		r.Put("/cards/{id}", s.handleUpdateCard)
		r.Delete("/cards/{id}", s.handleDeleteCard)
		r.Post("/cards/{id}/review", s.handleReview)
		r.Get("/cards/{id}/answers", s.handleCardAnswers)

		r.Post("/decks/{id}/sessions", s.handleStartSession)
		r.Get("/decks/{id}/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/finish", s.handleFinishSession)

		r.Get("/stats", s.handleStats)

		r.Post("/sync", s.handleTriggerSync)
		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/sync/dead/{id}/retry", s.handleRetryDeadLetter)
		r.Put("/credential", s.handleSetCredential)
		r.Put("/connectivity", s.handleConnectivity)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.now().Sub(s.started).Seconds(),
	})
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := s.svc.ListDecks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(decks))
}

func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	var in service.DeckInput
	if !decode(w, r, &in) {
		return
	}
	deck, err := s.svc.CreateDeck(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deck)
}

func (s *Server) handleUpdateDeck(w http.ResponseWriter, r *http.Request) {
	var patch service.DeckPatch
	if !decode(w, r, &patch) {
		return
	}
	deck, err := s.svc.UpdateDeck(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

func (s *Server) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteDeck(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDueCards returns the cards of a deck due now, honouring an optional
// ?limit= that narrows the configured review limit.
func (s *Server) handleDueCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.svc.GetDueCards(r.Context(), chi.URLParam(r, "id"), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n < len(cards) {
			cards = cards[:n]
		}
	}
	writeJSON(w, http.StatusOK, nonNil(cards))
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.svc.ListCards(r.Context(), r.URL.Query().Get("deck"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cards))
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var in service.CardInput
	if !decode(w, r, &in) {
		return
	}
	card, err := s.svc.CreateCard(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var patch service.CardPatch
	if !decode(w, r, &patch) {
		return
	}
	card, err := s.svc.UpdateCard(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteCard(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReview grades a card and returns its new scheduling state.
// timeSpent is in milliseconds.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quality   *int   `json:"quality"`
		SessionID string `json:"sessionId"`
		TimeSpent int64  `json:"timeSpent"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Quality == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quality required"})
		return
	}
	state, err := s.svc.Review(r.Context(), service.ReviewRequest{
		CardID:    chi.URLParam(r, "id"),
		Quality:   *req.Quality,
		SessionID: req.SessionID,
		TimeSpent: time.Duration(req.TimeSpent) * time.Millisecond,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCardAnswers(w http.ResponseWriter, r *http.Request) {
	answers, err := s.svc.CardAnswers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(answers))
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.StartReviewSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ReviewHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sessions))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetReviewSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.FinishReviewSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetStatsSnapshot(r.Context(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleTriggerSync asks for a cycle and returns 202 immediately.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	s.svc.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.SyncStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st.DeadLetters == nil {
		st.DeadLetters = []domain.SyncQueueEntry{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RetryDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.SetCredential(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnectivity receives the UI's connectivity signal.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Online == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "online required"})
		return
	}
	s.svc.SetOnline(*req.Online)
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps service errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "fields": verr.Fields})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case storage.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, storage.ErrSessionFinished):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
