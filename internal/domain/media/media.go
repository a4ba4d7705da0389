package media

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_provider.go -package=mocks . Provider

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrUnavailable = errors.New("media session unavailable")

// Handle identifies one live call session held with the media provider.
type Handle struct {
	SessionID      uuid.UUID `json:"sessionId"`
	ConsultationID uuid.UUID `json:"consultationId"`
	AcquiredAt     time.Time `json:"acquiredAt"`
}

// Provider is the black-box call infrastructure. The engine only acquires a
// session when a consultation goes live and releases it when the
// consultation ends.
type Provider interface {
	Acquire(ctx context.Context, consultationID uuid.UUID) (*Handle, error)
	Release(ctx context.Context, h *Handle) error
}
