package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	appConsultation "github.com/farmbridge/farmbridge/internal/application/consultation"
	domainConsultation "github.com/farmbridge/farmbridge/internal/domain/consultation"
)

type createConsultationRequest struct {
	Topic        string     `json:"topic"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	Instant      bool       `json:"instant,omitempty"`
	FarmerID     *string    `json:"farmerId,omitempty"`
}

func (s *Server) createConsultation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}
	var req createConsultationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	in := appConsultation.RequestInput{
		Actor:        actor,
		Topic:        req.Topic,
		ScheduledFor: req.ScheduledFor,
		Instant:      req.Instant,
	}
	if req.FarmerID != nil {
		farmerID, err := uuid.Parse(*req.FarmerID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid farmerId")
			return
		}
		in.FarmerID = farmerID
	}

	c, err := s.consultationSvc.Request(r.Context(), in)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) listConsultations(w http.ResponseWriter, r *http.Request) {
	filter := domainConsultation.Filter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := domainConsultation.Status(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("farmer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid farmer_id")
			return
		}
		filter.FarmerID = &id
	}
	if v := r.URL.Query().Get("expert_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid expert_id")
			return
		}
		filter.ExpertID = &id
	}

	limit, offset := parseLimitOffset(r, 20, 100)
	list, err := s.consultationSvc.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"consultations": list,
		"limit":         limit,
		"offset":        offset,
	})
}

func (s *Server) getConsultation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "consultationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid consultation id")
		return
	}
	c, err := s.consultationSvc.Get(r.Context(), id)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type updateConsultationRequest struct {
	Topic *string `json:"topic,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

func (s *Server) updateConsultation(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	id, err := parseUUIDParam(r, "consultationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid consultation id")
		return
	}
	var req updateConsultationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	c, err := s.consultationSvc.Update(r.Context(), id, actor, appConsultation.UpdateInput{
		Topic: req.Topic,
		Notes: req.Notes,
	})
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) claimConsultation(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	id, err := parseUUIDParam(r, "consultationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid consultation id")
		return
	}
	c, err := s.consultationSvc.Claim(r.Context(), id, actor)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type cancelConsultationRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) cancelConsultation(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	id, err := parseUUIDParam(r, "consultationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid consultation id")
		return
	}
	var req cancelConsultationRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	c, err := s.consultationSvc.Cancel(r.Context(), id, actor, req.Reason)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) startConsultation(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	id, err := parseUUIDParam(r, "consultationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid consultation id")
		return
	}
	c, err := s.consultationSvc.Start(r.Context(), id, actor)
	if err != nil {
		respondForError(w, err)
		return
	}
	out := map[string]interface{}{"consultation": c}
	if h := s.consultationSvc.SessionHandle(id); h != nil {
		out["session"] = h
	}
	respondJSON(w, http.StatusOK, out)
}

type completeConsultationRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (s *Server) completeConsultation(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	id, err := parseUUIDParam(r, "consultationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid consultation id")
		return
	}
	var req completeConsultationRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	c, err := s.consultationSvc.Complete(r.Context(), id, actor, req.Notes)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// listEvents exposes the raw change log for admin debugging.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	fromSeq := int64(0)
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid from_seq")
			return
		}
		fromSeq = n
	}
	limit, _ := parseLimitOffset(r, 50, 200)
	events, err := s.feed.Events(r.Context(), fromSeq, limit)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
