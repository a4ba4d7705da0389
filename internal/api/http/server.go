package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appConsultation "github.com/farmbridge/farmbridge/internal/application/consultation"
	"github.com/farmbridge/farmbridge/internal/application/notify"
	domainConsultation "github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
	"github.com/farmbridge/farmbridge/internal/domain/media"
)

// Pinger reports store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	consultationSvc *appConsultation.Service
	feed            domainConsultation.ChangeFeed
	notifier        *notify.Notifier
	provider        identity.Provider
	pinger          Pinger
	logger          zerolog.Logger
}

func NewServer(
	consultationSvc *appConsultation.Service,
	feed domainConsultation.ChangeFeed,
	notifier *notify.Notifier,
	provider identity.Provider,
	pinger Pinger,
	logger zerolog.Logger,
) *Server {
	return &Server{
		consultationSvc: consultationSvc,
		feed:            feed,
		notifier:        notifier,
		provider:        provider,
		pinger:          pinger,
		logger:          logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireIdentity)

			r.Route("/consultations", func(r chi.Router) {
				r.Post("/", s.createConsultation)
				r.Get("/", s.listConsultations)
				// The SSE stream must not inherit the request timeout.
				r.Get("/events/sse", s.streamEvents)
				r.With(s.requireRole(identity.RoleAdmin)).Get("/events", s.listEvents)

				r.Route("/{consultationId}", func(r chi.Router) {
					r.Use(middleware.Timeout(30 * time.Second))
					r.Get("/", s.getConsultation)
					r.Patch("/", s.updateConsultation)
					r.Post("/claim", s.claimConsultation)
					r.Post("/cancel", s.cancelConsultation)
					r.Post("/start", s.startConsultation)
					r.Post("/complete", s.completeConsultation)
				})
			})
		})
	})

	return r
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

// respondForError maps domain errors onto HTTP statuses. Claim races get
// their own code so the UI can say "this request was just taken" instead of
// a generic failure.
func respondForError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainConsultation.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "consultation not found")
	case errors.Is(err, domainConsultation.ErrAlreadyClaimed):
		respondError(w, http.StatusConflict, "ALREADY_CLAIMED", "this request was just taken")
	case errors.Is(err, domainConsultation.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", "this consultation changed, please refresh")
	case errors.Is(err, domainConsultation.ErrInvalidTransition):
		respondError(w, http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domainConsultation.ErrExpertRequired),
		errors.Is(err, domainConsultation.ErrTopicRequired):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	case errors.Is(err, identity.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
	case errors.Is(err, identity.ErrUnknownUser), errors.Is(err, identity.ErrInvalidRole):
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, media.ErrUnavailable):
		respondError(w, http.StatusConflict, "MEDIA_UNAVAILABLE", "call session unavailable, please retry")
	case errors.Is(err, domainConsultation.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "store unavailable, retry later")
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]interface{}{"status": status})
}
