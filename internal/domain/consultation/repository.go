package consultation

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks . Store,ChangeFeed

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a store change event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// ChangeEvent is one committed store change. Seq orders the global feed;
// Consultation.Version orders events for a single record. ActorID is the
// user whose operation produced the change, used to suppress echo
// notifications.
type ChangeEvent struct {
	Seq          int64        `json:"seq"`
	Type         EventType    `json:"type"`
	Consultation Consultation `json:"consultation"`
	ActorID      uuid.UUID    `json:"actorId"`
	OccurredAt   time.Time    `json:"occurredAt"`
}

// Filter narrows consultation listings.
type Filter struct {
	Status   *Status
	FarmerID *uuid.UUID
	ExpertID *uuid.UUID
}

// Store persists consultations. ConditionalUpdate is the only mutation path
// after creation: it writes the record only if the stored version still
// equals expectedVersion, returning ErrConflict otherwise. Correctness of
// concurrent claims rests entirely on that guarantee.
type Store interface {
	Create(ctx context.Context, c *Consultation, actorID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	ConditionalUpdate(ctx context.Context, c *Consultation, expectedVersion int64, actorID uuid.UUID) (*Consultation, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Consultation, error)
}

// ChangeFeed exposes the store's committed changes in commit order.
// The feed may redeliver events after a reconnect; consumers dedupe on
// per-record versions. LatestSeq reports the current log tail so a pump
// can resume there instead of replaying history.
type ChangeFeed interface {
	Changes(ctx context.Context, fromSeq int64) (<-chan ChangeEvent, error)
	Events(ctx context.Context, fromSeq int64, limit int) ([]ChangeEvent, error)
	LatestSeq(ctx context.Context) (int64, error)
}
