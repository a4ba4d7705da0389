package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
	"github.com/farmbridge/farmbridge/internal/domain/media"
)

// Service drives the consultation lifecycle: request, claim, cancel, start,
// complete, and the small record edits in between. All writes go through
// the store's conditional update, so concurrent actors observe a conflict
// rather than a silent overwrite; the change feed carries the result to
// every connected dashboard.
type Service struct {
	store  domain.Store
	media  media.Provider
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*media.Handle
}

func NewService(store domain.Store, mediaProvider media.Provider, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		media:    mediaProvider,
		logger:   logger.With().Str("service", "consultation").Logger(),
		sessions: make(map[uuid.UUID]*media.Handle),
	}
}

// RequestInput creates a new consultation.
type RequestInput struct {
	Actor        identity.Actor
	Topic        string
	ScheduledFor *time.Time
	// Instant is set by a consultant directly opening a live session with a
	// farmer; FarmerID names the counterparty in that case.
	Instant  bool
	FarmerID uuid.UUID
}

// Request creates a consultation. Farmers create pending requests (instant
// or booked); consultants may open an in_progress session self-assigned.
func (s *Service) Request(ctx context.Context, in RequestInput) (*domain.Consultation, error) {
	if !in.Actor.CanRequest() {
		return nil, identity.ErrPermissionDenied
	}
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, domain.ErrTopicRequired
	}

	var c *domain.Consultation
	switch {
	case in.Actor.Role == identity.RoleConsultant:
		if !in.Instant || in.FarmerID == uuid.Nil {
			return nil, identity.ErrPermissionDenied
		}
		c = domain.NewInstantSession(in.Actor.UserID, in.FarmerID, topic)
	default:
		c = domain.NewRequest(in.Actor.UserID, topic, in.ScheduledFor)
	}

	if err := s.store.Create(ctx, c, in.Actor.UserID); err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}

	if c.Status == domain.StatusInProgress {
		if err := s.acquireSession(ctx, c); err != nil {
			s.compensateStart(ctx, c, in.Actor)
			return nil, err
		}
	}

	s.logger.Info().
		Str("consultation_id", c.ConsultationID.String()).
		Str("status", string(c.Status)).
		Msg("consultation created")
	return c, nil
}

// Claim resolves the race where several experts accept the same pending
// request. The write is keyed on the version read here; when another actor
// got there first the store rejects it and the loss surfaces as
// ErrAlreadyClaimed. No automatic retry: the record may no longer be
// claimable at all, so callers must re-read first.
func (s *Service) Claim(ctx context.Context, id uuid.UUID, actor identity.Actor) (*domain.Consultation, error) {
	if !actor.CanClaim() {
		return nil, identity.ErrPermissionDenied
	}

	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != domain.StatusPending {
		if cur.Assigned() {
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, domain.ErrInvalidTransition
	}

	expertID := actor.UserID
	next, err := domain.ApplyTransition(*cur, domain.TransitionRequest{
		Target:   domain.StatusScheduled,
		Actor:    actor,
		ExpertID: &expertID,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.ConditionalUpdate(ctx, &next, cur.Version, actor.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, err
	}

	s.logger.Info().
		Str("consultation_id", id.String()).
		Str("expert_id", expertID.String()).
		Msg("consultation claimed")
	return updated, nil
}

// Cancel moves a consultation to cancelled. A stale token surfaces as
// ErrConflict so the UI can prompt a refresh instead of overwriting.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor identity.Actor, reason string) (*domain.Consultation, error) {
	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanCancel(cur.FarmerID, cur.ExpertID) {
		return nil, identity.ErrPermissionDenied
	}

	req := domain.TransitionRequest{Target: domain.StatusCancelled, Actor: actor}
	if reason = strings.TrimSpace(reason); reason != "" {
		req.Reason = &reason
	}
	next, err := domain.ApplyTransition(*cur, req)
	if err != nil {
		return nil, err
	}
	if next.Version == cur.Version {
		// idempotent cancel
		return cur, nil
	}

	updated, err := s.store.ConditionalUpdate(ctx, &next, cur.Version, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.releaseSession(ctx, id)

	s.logger.Info().
		Str("consultation_id", id.String()).
		Str("reason", reason).
		Msg("consultation cancelled")
	return updated, nil
}

// Start transitions to in_progress before touching media, then acquires the
// call session. When acquisition fails right after the status write the
// transition is compensated with a cancellation so the record never claims
// a live session that does not exist.
func (s *Service) Start(ctx context.Context, id uuid.UUID, actor identity.Actor) (*domain.Consultation, error) {
	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanStart(cur.FarmerID, cur.ExpertID) {
		return nil, identity.ErrPermissionDenied
	}

	if cur.Status == domain.StatusInProgress {
		// Retry path: status already live, only the session is missing.
		if err := s.acquireSession(ctx, cur); err != nil {
			return nil, err
		}
		return cur, nil
	}

	next, err := domain.ApplyTransition(*cur, domain.TransitionRequest{
		Target: domain.StatusInProgress,
		Actor:  actor,
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.store.ConditionalUpdate(ctx, &next, cur.Version, actor.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.acquireSession(ctx, updated); err != nil {
		s.compensateStart(ctx, updated, actor)
		return nil, err
	}
	return updated, nil
}

// Complete transitions to completed, persists the expert's notes, and
// releases the call session.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor identity.Actor, notes string) (*domain.Consultation, error) {
	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanComplete(cur.ExpertID) {
		return nil, identity.ErrPermissionDenied
	}

	req := domain.TransitionRequest{Target: domain.StatusCompleted, Actor: actor}
	if notes = strings.TrimSpace(notes); notes != "" {
		req.Notes = &notes
	}
	next, err := domain.ApplyTransition(*cur, req)
	if err != nil {
		return nil, err
	}
	if next.Version == cur.Version {
		return cur, nil
	}

	updated, err := s.store.ConditionalUpdate(ctx, &next, cur.Version, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.releaseSession(ctx, id)

	s.logger.Info().
		Str("consultation_id", id.String()).
		Msg("consultation completed")
	return updated, nil
}

// UpdateInput carries partial edits outside the transition graph.
type UpdateInput struct {
	Topic *string
	Notes *string
}

// Update edits the topic (farmer, pre-assignment only) or the notes
// (assigned expert). Conflicts surface as ErrConflict.
func (s *Service) Update(ctx context.Context, id uuid.UUID, actor identity.Actor, in UpdateInput) (*domain.Consultation, error) {
	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *cur
	changed := false
	if in.Topic != nil {
		if !actor.CanEditTopic(cur.FarmerID, cur.Assigned()) || cur.Status != domain.StatusPending {
			return nil, identity.ErrPermissionDenied
		}
		topic := strings.TrimSpace(*in.Topic)
		if topic == "" {
			return nil, domain.ErrTopicRequired
		}
		next.Topic = topic
		changed = true
	}
	if in.Notes != nil {
		if !actor.CanEditNotes(cur.ExpertID) {
			return nil, identity.ErrPermissionDenied
		}
		if cur.Status != domain.StatusInProgress && cur.Status != domain.StatusCompleted {
			return nil, domain.ErrInvalidTransition
		}
		notes := *in.Notes
		next.Notes = &notes
		changed = true
	}
	if !changed {
		return cur, nil
	}

	next.Touch()
	return s.store.ConditionalUpdate(ctx, &next, cur.Version, actor.UserID)
}

// Get returns one consultation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Consultation, error) {
	return s.store.GetByID(ctx, id)
}

// List returns consultations matching filter, clamped to sane page sizes.
func (s *Service) List(ctx context.Context, filter domain.Filter, limit, offset int) ([]*domain.Consultation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, filter, limit, offset)
}

// SessionHandle returns the live call handle for a consultation, if any.
func (s *Service) SessionHandle(id uuid.UUID) *media.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Service) acquireSession(ctx context.Context, c *domain.Consultation) error {
	s.mu.Lock()
	if _, held := s.sessions[c.ConsultationID]; held {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	handle, err := s.media.Acquire(ctx, c.ConsultationID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("consultation_id", c.ConsultationID.String()).
			Msg("media acquisition failed")
		return media.ErrUnavailable
	}

	s.mu.Lock()
	s.sessions[c.ConsultationID] = handle
	s.mu.Unlock()
	return nil
}

func (s *Service) releaseSession(ctx context.Context, id uuid.UUID) {
	s.mu.Lock()
	handle := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if handle == nil {
		return
	}
	if err := s.media.Release(ctx, handle); err != nil {
		s.logger.Warn().
			Err(err).
			Str("consultation_id", id.String()).
			Msg("media release failed")
	}
}

// compensateStart rolls a fresh in_progress transition back to cancelled
// after media acquisition failed, so the status never advertises a session
// that was never established.
func (s *Service) compensateStart(ctx context.Context, c *domain.Consultation, actor identity.Actor) {
	reason := "media_unavailable"
	next, err := domain.ApplyTransition(*c, domain.TransitionRequest{
		Target: domain.StatusCancelled,
		Actor:  actor,
		Reason: &reason,
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("consultation_id", c.ConsultationID.String()).
			Msg("start compensation rejected")
		return
	}
	if _, err := s.store.ConditionalUpdate(ctx, &next, c.Version, actor.UserID); err != nil {
		// Somebody else already moved the record; their write wins.
		s.logger.Error().
			Err(err).
			Str("consultation_id", c.ConsultationID.String()).
			Msg("start compensation write failed")
	}
}
