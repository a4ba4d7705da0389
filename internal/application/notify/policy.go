package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
)

type ackKey struct {
	observer     uuid.UUID
	consultation uuid.UUID
}

// Policy decides which transitions are notification-worthy per role. The
// actor whose own operation produced a transition is never notified, and a
// per-observer last-notified-version watermark suppresses repeats after
// feed replays or reconnects.
type Policy struct {
	mu    sync.Mutex
	acked map[ackKey]int64
}

func NewPolicy() *Policy {
	return &Policy{acked: make(map[ackKey]int64)}
}

// ShouldNotify reports whether ev warrants a user-visible notification for
// ob, and advances the observer's watermark when it does.
func (p *Policy) ShouldNotify(ev consultation.ChangeEvent, ob Observer) bool {
	if ev.ActorID == ob.UserID {
		return false
	}
	if !notificationWorthy(ev, ob) {
		return false
	}

	key := ackKey{observer: ob.ObserverID, consultation: ev.Consultation.ConsultationID}
	version := ev.Consultation.Version

	p.mu.Lock()
	defer p.mu.Unlock()
	if version <= p.acked[key] {
		return false
	}
	p.acked[key] = version
	return true
}

// Forget drops all watermarks for an observer, typically on disconnect.
func (p *Policy) Forget(observerID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.acked {
		if key.observer == observerID {
			delete(p.acked, key)
		}
	}
}

func notificationWorthy(ev consultation.ChangeEvent, ob Observer) bool {
	c := ev.Consultation
	switch ob.Role {
	case identity.RoleFarmer:
		if c.FarmerID != ob.UserID {
			return false
		}
		switch c.Status {
		case consultation.StatusScheduled, consultation.StatusInProgress,
			consultation.StatusCompleted, consultation.StatusCancelled:
			return true
		}
		return false
	case identity.RoleConsultant:
		if c.ExpertID != nil && *c.ExpertID == ob.UserID {
			return c.Status != consultation.StatusPending
		}
		// Unassigned experts only care about fresh requests entering the pool.
		return ev.Type == consultation.EventInsert && c.Status == consultation.StatusPending
	case identity.RoleAdmin:
		if ev.Type == consultation.EventInsert && c.Status == consultation.StatusPending {
			return true
		}
		return c.IsTerminal()
	}
	return false
}
