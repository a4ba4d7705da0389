package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appConsultation "github.com/farmbridge/farmbridge/internal/application/consultation"
	"github.com/farmbridge/farmbridge/internal/application/notify"
	"github.com/farmbridge/farmbridge/internal/application/routing"
	domainConsultation "github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
	mediabroker "github.com/farmbridge/farmbridge/internal/infrastructure/media"
	"github.com/farmbridge/farmbridge/internal/infrastructure/memstore"
)

type env struct {
	svc    *appConsultation.Service
	router *routing.Router
	policy *notify.Policy
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memstore.NewStore()
	broker := mediabroker.NewBroker(8, logger)
	svc := appConsultation.NewService(store, broker, logger)
	router := routing.NewRouter(logger)

	changes, err := store.Changes(ctx, 0)
	require.NoError(t, err)
	go router.Run(ctx, changes)

	return &env{
		svc:    svc,
		router: router,
		policy: notify.NewPolicy(),
	}
}

// notifications wires an observer into the router through the policy and
// collects what a dashboard would actually surface to the user.
func (e *env) notifications(userID uuid.UUID, role identity.Role) *eventLog {
	log := &eventLog{}
	ob := notify.Observer{ObserverID: uuid.New(), UserID: userID, Role: role}
	e.router.Subscribe(routing.Subscription{
		ObserverID: ob.ObserverID,
		UserID:     userID,
		Role:       role,
		Deliver: func(ev domainConsultation.ChangeEvent) {
			if e.policy.ShouldNotify(ev, ob) {
				log.add(ev)
			}
		},
	})
	return log
}

// deliveries collects raw router events, the stream a dashboard uses to keep
// its board state current regardless of notification-worthiness.
func (e *env) deliveries(userID uuid.UUID, role identity.Role) *eventLog {
	log := &eventLog{}
	e.router.Subscribe(routing.Subscription{
		ObserverID: uuid.New(),
		UserID:     userID,
		Role:       role,
		Deliver:    log.add,
	})
	return log
}

type eventLog struct {
	mu     sync.Mutex
	events []domainConsultation.ChangeEvent
}

func (l *eventLog) add(ev domainConsultation.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []domainConsultation.ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domainConsultation.ChangeEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) statuses() []domainConsultation.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domainConsultation.Status, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Consultation.Status)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestConsultationLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	farmerID := uuid.New()
	farmer := identity.Actor{UserID: farmerID, Role: identity.RoleFarmer}
	expertA := identity.Actor{UserID: uuid.New(), Role: identity.RoleConsultant}
	expertB := identity.Actor{UserID: uuid.New(), Role: identity.RoleConsultant}

	farmerLog := e.notifications(farmerID, identity.RoleFarmer)

	// Farmer posts a request.
	c, err := e.svc.Request(ctx, appConsultation.RequestInput{
		Actor: farmer,
		Topic: "pest infestation on tomato crop",
	})
	require.NoError(t, err)
	assert.Equal(t, domainConsultation.StatusPending, c.Status)

	// Two experts race for it; exactly one wins.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winner  identity.Actor
		winners int
	)
	for _, expert := range []identity.Actor{expertA, expertB} {
		wg.Add(1)
		go func(a identity.Actor) {
			defer wg.Done()
			if _, err := e.svc.Claim(ctx, c.ConsultationID, a); err == nil {
				mu.Lock()
				winner = a
				winners++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domainConsultation.ErrAlreadyClaimed)
			}
		}(expert)
	}
	wg.Wait()
	require.Equal(t, 1, winners, "exactly one expert wins the claim")

	// Winner starts the call, then completes it with notes.
	started, err := e.svc.Start(ctx, c.ConsultationID, winner)
	require.NoError(t, err)
	assert.Equal(t, domainConsultation.StatusInProgress, started.Status)
	assert.NotNil(t, e.svc.SessionHandle(c.ConsultationID))

	done, err := e.svc.Complete(ctx, c.ConsultationID, winner, "treated with neem oil")
	require.NoError(t, err)
	assert.Equal(t, domainConsultation.StatusCompleted, done.Status)
	require.NotNil(t, done.Notes)
	assert.Equal(t, "treated with neem oil", *done.Notes)
	assert.Nil(t, e.svc.SessionHandle(c.ConsultationID))

	// The farmer's dashboard saw each hop exactly once, in order.
	waitFor(t, func() bool { return len(farmerLog.snapshot()) >= 3 })
	assert.Equal(t, []domainConsultation.Status{
		domainConsultation.StatusScheduled,
		domainConsultation.StatusInProgress,
		domainConsultation.StatusCompleted,
	}, farmerLog.statuses())

	// Terminal records reject further transitions.
	_, err = e.svc.Cancel(ctx, c.ConsultationID, farmer, "too late")
	assert.ErrorIs(t, err, domainConsultation.ErrInvalidTransition)
}

func TestLosingExpertSeesClaimLeaveThePool(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	farmerID := uuid.New()
	farmer := identity.Actor{UserID: farmerID, Role: identity.RoleFarmer}
	winner := identity.Actor{UserID: uuid.New(), Role: identity.RoleConsultant}
	loserID := uuid.New()

	loserLog := e.deliveries(loserID, identity.RoleConsultant)

	c, err := e.svc.Request(ctx, appConsultation.RequestInput{
		Actor: farmer,
		Topic: "soil pH dropping after monsoon",
	})
	require.NoError(t, err)

	// The fresh request reaches the pool.
	waitFor(t, func() bool { return len(loserLog.snapshot()) >= 1 })
	assert.Equal(t, domainConsultation.StatusPending, loserLog.snapshot()[0].Consultation.Status)

	_, err = e.svc.Claim(ctx, c.ConsultationID, winner)
	require.NoError(t, err)

	// The losing expert is told the request was claimed away, but is not
	// notified about the rest of someone else's consultation.
	_, err = e.svc.Start(ctx, c.ConsultationID, winner)
	require.NoError(t, err)
	_, err = e.svc.Complete(ctx, c.ConsultationID, winner, "")
	require.NoError(t, err)

	waitFor(t, func() bool {
		events := loserLog.snapshot()
		return len(events) >= 2 && events[len(events)-1].Consultation.Status == domainConsultation.StatusScheduled
	})
	time.Sleep(50 * time.Millisecond)
	events := loserLog.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, domainConsultation.StatusScheduled, events[1].Consultation.Status)
}

func TestFarmerCancelSkipsSelfNotification(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	farmerID := uuid.New()
	farmer := identity.Actor{UserID: farmerID, Role: identity.RoleFarmer}
	farmerLog := e.notifications(farmerID, identity.RoleFarmer)

	c, err := e.svc.Request(ctx, appConsultation.RequestInput{
		Actor: farmer,
		Topic: "withdrawn request",
	})
	require.NoError(t, err)

	_, err = e.svc.Cancel(ctx, c.ConsultationID, farmer, "resolved it myself")
	require.NoError(t, err)

	// Give the feed time to pump both events through.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, farmerLog.snapshot(), "own operations must not echo back as notifications")
}
