package routing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
)

// Delivery receives one change event for a subscription.
type Delivery func(ev consultation.ChangeEvent)

// Subscription registers an observer's interest with the router. A zero
// ConsultationID means "everything my role can see"; Filter optionally
// narrows further.
type Subscription struct {
	ObserverID     uuid.UUID
	UserID         uuid.UUID
	Role           identity.Role
	ConsultationID *uuid.UUID
	Filter         *Filter
	Deliver        Delivery
}

// Handle identifies a live subscription for later teardown.
type Handle struct {
	id uuid.UUID
}

type subscription struct {
	Subscription
	// last delivered version per consultation; redelivered or stale feed
	// events below the watermark are dropped.
	seen map[uuid.UUID]int64
}

// Router turns the store change feed into per-observer deliveries: exactly
// once per observer, in commit order per record. One observer's failing
// callback never blocks the rest.
type Router struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*subscription
	logger zerolog.Logger
}

func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		subs:   make(map[uuid.UUID]*subscription),
		logger: logger.With().Str("service", "router").Logger(),
	}
}

// Subscribe registers sub and returns a handle for Unsubscribe. The caller
// owns the subscription lifecycle.
func (r *Router) Subscribe(sub Subscription) Handle {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = &subscription{
		Subscription: sub,
		seen:         make(map[uuid.UUID]int64),
	}
	return Handle{id: id}
}

// Unsubscribe tears the subscription down. Events arriving afterwards are
// not delivered.
func (r *Router) Unsubscribe(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, h.id)
}

// SubscriberCount returns the number of live subscriptions.
func (r *Router) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// OnStoreEvent fans ev out synchronously to every matching subscription,
// then returns. Watermarks are advanced under the lock so a redelivered
// event can never reach the same subscription twice; callbacks run outside
// the lock, in registration-independent but per-record commit order, since
// the feed pump is single-goroutine.
func (r *Router) OnStoreEvent(ev consultation.ChangeEvent) {
	recordID := ev.Consultation.ConsultationID
	version := ev.Consultation.Version

	r.mu.Lock()
	matched := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if !r.matches(sub, ev) {
			continue
		}
		if version <= sub.seen[recordID] {
			continue
		}
		sub.seen[recordID] = version
		matched = append(matched, sub)
	}
	r.mu.Unlock()

	for _, sub := range matched {
		r.deliver(sub, ev)
	}
}

// Run pumps a store feed into the router until ctx is cancelled or the feed
// closes.
func (r *Router) Run(ctx context.Context, feed <-chan consultation.ChangeEvent) {
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				r.logger.Info().Msg("change feed closed")
				return
			}
			r.OnStoreEvent(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) matches(sub *subscription, ev consultation.ChangeEvent) bool {
	if sub.ConsultationID != nil && *sub.ConsultationID != ev.Consultation.ConsultationID {
		return false
	}
	if !roleInterest(sub.Role, sub.UserID, ev) {
		return false
	}
	if sub.Filter != nil {
		ok, err := sub.Filter.Match(ev)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("observer_id", sub.ObserverID.String()).
				Msg("subscription filter failed, skipping event")
			return false
		}
		return ok
	}
	return true
}

// roleInterest is the baseline visibility rule: farmers see their own
// consultations, consultants see the unassigned pool plus their own
// assignments, admins see everything.
func roleInterest(role identity.Role, userID uuid.UUID, ev consultation.ChangeEvent) bool {
	c := ev.Consultation
	switch role {
	case identity.RoleFarmer:
		return c.FarmerID == userID
	case identity.RoleConsultant:
		if c.ExpertID != nil && *c.ExpertID == userID {
			return true
		}
		// Pool updates: new pending requests, and the moment one is
		// claimed away so losing dashboards drop it.
		return c.Status == consultation.StatusPending ||
			(c.Status == consultation.StatusScheduled && ev.Type == consultation.EventUpdate) ||
			(c.Status == consultation.StatusCancelled && c.ExpertID == nil)
	case identity.RoleAdmin:
		return true
	}
	return false
}

func (r *Router) deliver(sub *subscription, ev consultation.ChangeEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Interface("panic", rec).
				Str("observer_id", sub.ObserverID.String()).
				Str("consultation_id", ev.Consultation.ConsultationID.String()).
				Msg("subscriber callback panicked")
		}
	}()
	sub.Deliver(ev)
}
