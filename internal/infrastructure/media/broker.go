// Package media holds the in-process call session broker. It stands in for
// the external SFU: the engine only needs acquire/release semantics with a
// capacity bound.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/farmbridge/farmbridge/internal/domain/media"
)

// Broker implements media.Provider with an in-memory session table.
type Broker struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*domain.Handle
	maxSessions int
	logger      zerolog.Logger
}

func NewBroker(maxSessions int, logger zerolog.Logger) *Broker {
	if maxSessions <= 0 {
		maxSessions = 64
	}
	return &Broker{
		sessions:    make(map[uuid.UUID]*domain.Handle),
		maxSessions: maxSessions,
		logger:      logger.With().Str("service", "media_broker").Logger(),
	}
}

// Acquire opens a call session for the consultation. Acquiring an already
// live consultation returns the existing handle, so start retries are safe.
func (b *Broker) Acquire(_ context.Context, consultationID uuid.UUID) (*domain.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.sessions[consultationID]; ok {
		return h, nil
	}
	if len(b.sessions) >= b.maxSessions {
		b.logger.Warn().
			Int("max_sessions", b.maxSessions).
			Str("consultation_id", consultationID.String()).
			Msg("session capacity exhausted")
		return nil, domain.ErrUnavailable
	}
	h := &domain.Handle{
		SessionID:      uuid.New(),
		ConsultationID: consultationID,
		AcquiredAt:     time.Now().UTC(),
	}
	b.sessions[consultationID] = h
	b.logger.Info().
		Str("session_id", h.SessionID.String()).
		Str("consultation_id", consultationID.String()).
		Msg("call session acquired")
	return h, nil
}

// Release ends the session. Releasing an unknown handle is a no-op.
func (b *Broker) Release(_ context.Context, h *domain.Handle) error {
	if h == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.sessions[h.ConsultationID]
	if !ok || cur.SessionID != h.SessionID {
		return nil
	}
	delete(b.sessions, h.ConsultationID)
	b.logger.Info().
		Str("session_id", h.SessionID.String()).
		Str("consultation_id", h.ConsultationID.String()).
		Msg("call session released")
	return nil
}

// ActiveSessions returns the number of live call sessions.
func (b *Broker) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
