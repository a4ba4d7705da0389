package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/farmbridge/farmbridge/internal/domain/identity"
)

// TransitionRequest is a candidate move to a target status plus the payload
// merged on success. It is never persisted.
type TransitionRequest struct {
	Target       Status
	Actor        identity.Actor
	ExpertID     *uuid.UUID // required for pending -> scheduled
	ScheduledFor *time.Time
	Notes        *string // merged on completion
	Reason       *string // recorded on cancellation
}

// ApplyTransition validates req against the transition table and returns the
// updated record, or an error with the input untouched. Pure: no I/O, no
// mutation of cur. Requesting the current status is an idempotent no-op so
// retries are safe.
func ApplyTransition(cur Consultation, req TransitionRequest) (Consultation, error) {
	if req.Target == cur.Status {
		return cur, nil
	}
	if !cur.CanTransitionTo(req.Target) {
		return cur, ErrInvalidTransition
	}

	next := cur
	switch req.Target {
	case StatusScheduled:
		if req.ExpertID == nil || *req.ExpertID == uuid.Nil {
			return cur, ErrExpertRequired
		}
		eid := *req.ExpertID
		next.ExpertID = &eid
		if req.ScheduledFor != nil {
			t := req.ScheduledFor.UTC()
			next.ScheduledFor = &t
		}
	case StatusInProgress:
		// no payload; assignment already happened
	case StatusCompleted:
		if req.Notes != nil {
			notes := *req.Notes
			next.Notes = &notes
		}
	case StatusCancelled:
		if req.Reason != nil {
			reason := *req.Reason
			next.CancelReason = &reason
		}
	}

	// Once assigned, only completion or cancellation ends the relationship.
	if cur.ExpertID != nil {
		if req.ExpertID != nil && *req.ExpertID != *cur.ExpertID {
			return cur, ErrInvalidTransition
		}
		next.ExpertID = cur.ExpertID
	}

	next.Status = req.Target
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}
