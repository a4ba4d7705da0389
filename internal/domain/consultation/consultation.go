package consultation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents where a consultation sits in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrNotFound          = errors.New("consultation not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyClaimed    = errors.New("consultation already claimed")
	ErrConflict          = errors.New("consultation changed since read")
	ErrUnavailable       = errors.New("consultation store unavailable")
	ErrExpertRequired    = errors.New("assignment requires an expert")
	ErrTopicRequired     = errors.New("topic is required")
)

// Consultation is one farmer-expert engagement through its full lifecycle.
// Version is the optimistic-concurrency token: every successful write bumps
// it by exactly one, and conditional updates are keyed on the value read.
type Consultation struct {
	ID             int64      `json:"id"`
	ConsultationID uuid.UUID  `json:"consultationId"`
	FarmerID       uuid.UUID  `json:"farmerId"`
	ExpertID       *uuid.UUID `json:"expertId,omitempty"`
	Status         Status     `json:"status"`
	Topic          string     `json:"topic"`
	Notes          *string    `json:"notes,omitempty"`
	ScheduledFor   *time.Time `json:"scheduledFor,omitempty"`
	CancelReason   *string    `json:"cancelReason,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewRequest creates a farmer-initiated request. ScheduledFor is nil for
// instant (video-now) requests and set for booked ones.
func NewRequest(farmerID uuid.UUID, topic string, scheduledFor *time.Time) *Consultation {
	now := time.Now().UTC()
	return &Consultation{
		ConsultationID: uuid.New(),
		FarmerID:       farmerID,
		Status:         StatusPending,
		Topic:          topic,
		ScheduledFor:   scheduledFor,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewInstantSession creates an expert-initiated consultation that starts
// live immediately, self-assigned to the expert.
func NewInstantSession(expertID, farmerID uuid.UUID, topic string) *Consultation {
	now := time.Now().UTC()
	eid := expertID
	return &Consultation{
		ConsultationID: uuid.New(),
		FarmerID:       farmerID,
		ExpertID:       &eid,
		Status:         StatusInProgress,
		Topic:          topic,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether no further transition is permitted.
func (c *Consultation) IsTerminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusCancelled
}

// Assigned reports whether an expert holds this consultation.
func (c *Consultation) Assigned() bool {
	return c.ExpertID != nil
}

// Touch bumps the concurrency token for a non-transition field edit
// (topic pre-assignment, notes maintenance).
func (c *Consultation) Touch() {
	c.Version++
	c.UpdatedAt = time.Now().UTC()
}

// CanTransitionTo checks the transition table without applying anything.
func (c *Consultation) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusPending:    {StatusScheduled, StatusCancelled},
		StatusScheduled:  {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusCompleted, StatusCancelled},
		StatusCompleted:  {},
		StatusCancelled:  {},
	}
	allowed, ok := transitions[c.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}
