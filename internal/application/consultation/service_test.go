package consultation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domain "github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/consultation/mocks"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
	"github.com/farmbridge/farmbridge/internal/domain/media"
	mediamocks "github.com/farmbridge/farmbridge/internal/domain/media/mocks"
)

type fixture struct {
	store *mocks.MockStore
	media *mediamocks.MockProvider
	svc   *Service
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	provider := mediamocks.NewMockProvider(ctrl)
	return fixture{
		store: store,
		media: provider,
		svc:   NewService(store, provider, zerolog.Nop()),
	}
}

func pendingFixture(farmerID uuid.UUID) *domain.Consultation {
	return domain.NewRequest(farmerID, "fungal spots on wheat leaves", nil)
}

func TestService_Request(t *testing.T) {
	ctx := context.Background()
	farmerID := uuid.New()

	t.Run("farmer creates a pending request", func(t *testing.T) {
		f := newFixture(t)
		f.store.EXPECT().Create(ctx, gomock.Any(), farmerID).Return(nil)

		c, err := f.svc.Request(ctx, RequestInput{
			Actor: identity.Actor{UserID: farmerID, Role: identity.RoleFarmer},
			Topic: "  soil pH dropping  ",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, c.Status)
		assert.Equal(t, "soil pH dropping", c.Topic)
		assert.Equal(t, farmerID, c.FarmerID)
		assert.Nil(t, c.ExpertID)
	})

	t.Run("blank topic rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Request(ctx, RequestInput{
			Actor: identity.Actor{UserID: farmerID, Role: identity.RoleFarmer},
			Topic: "   ",
		})
		assert.ErrorIs(t, err, domain.ErrTopicRequired)
	})

	t.Run("admin cannot create requests", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Request(ctx, RequestInput{
			Actor: identity.Actor{UserID: uuid.New(), Role: identity.RoleAdmin},
			Topic: "anything",
		})
		assert.ErrorIs(t, err, identity.ErrPermissionDenied)
	})

	t.Run("consultant opens an instant session", func(t *testing.T) {
		f := newFixture(t)
		expertID := uuid.New()
		f.store.EXPECT().Create(ctx, gomock.Any(), expertID).Return(nil)
		f.media.EXPECT().Acquire(ctx, gomock.Any()).Return(&media.Handle{SessionID: uuid.New()}, nil)

		c, err := f.svc.Request(ctx, RequestInput{
			Actor:    identity.Actor{UserID: expertID, Role: identity.RoleConsultant},
			Topic:    "urgent pest call",
			Instant:  true,
			FarmerID: farmerID,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInProgress, c.Status)
		require.NotNil(t, c.ExpertID)
		assert.Equal(t, expertID, *c.ExpertID)
		assert.NotNil(t, f.svc.SessionHandle(c.ConsultationID))
	})

	t.Run("instant session compensated when media unavailable", func(t *testing.T) {
		f := newFixture(t)
		expertID := uuid.New()
		f.store.EXPECT().Create(ctx, gomock.Any(), expertID).Return(nil)
		f.media.EXPECT().Acquire(ctx, gomock.Any()).Return(nil, media.ErrUnavailable)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), int64(1), expertID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				assert.Equal(t, domain.StatusCancelled, c.Status)
				require.NotNil(t, c.CancelReason)
				assert.Equal(t, "media_unavailable", *c.CancelReason)
				return c, nil
			})

		_, err := f.svc.Request(ctx, RequestInput{
			Actor:    identity.Actor{UserID: expertID, Role: identity.RoleConsultant},
			Topic:    "urgent pest call",
			Instant:  true,
			FarmerID: farmerID,
		})
		assert.ErrorIs(t, err, media.ErrUnavailable)
	})
}

func TestService_Claim(t *testing.T) {
	ctx := context.Background()
	farmerID := uuid.New()
	expertID := uuid.New()
	expert := identity.Actor{UserID: expertID, Role: identity.RoleConsultant}

	t.Run("first expert wins", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, expertID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				return c, nil
			})

		c, err := f.svc.Claim(ctx, cur.ConsultationID, expert)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusScheduled, c.Status)
		require.NotNil(t, c.ExpertID)
		assert.Equal(t, expertID, *c.ExpertID)
		assert.Equal(t, cur.Version+1, c.Version)
	})

	t.Run("losing a version race surfaces as already claimed", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, expertID).
			Return(nil, domain.ErrConflict)

		_, err := f.svc.Claim(ctx, cur.ConsultationID, expert)
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})

	t.Run("claiming an assigned record is already claimed", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		other := uuid.New()
		cur.Status = domain.StatusScheduled
		cur.ExpertID = &other
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		_, err := f.svc.Claim(ctx, cur.ConsultationID, expert)
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})

	t.Run("claiming a cancelled record is an invalid transition", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		cur.Status = domain.StatusCancelled
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		_, err := f.svc.Claim(ctx, cur.ConsultationID, expert)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("farmers cannot claim", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Claim(ctx, uuid.New(), identity.Actor{UserID: farmerID, Role: identity.RoleFarmer})
		assert.ErrorIs(t, err, identity.ErrPermissionDenied)
	})
}

func TestService_Start(t *testing.T) {
	ctx := context.Background()
	farmerID := uuid.New()
	expertID := uuid.New()
	expert := identity.Actor{UserID: expertID, Role: identity.RoleConsultant}

	scheduled := func() *domain.Consultation {
		c := pendingFixture(farmerID)
		c.Status = domain.StatusScheduled
		c.ExpertID = &expertID
		c.Version = 2
		return c
	}

	t.Run("status write precedes media acquisition", func(t *testing.T) {
		f := newFixture(t)
		cur := scheduled()
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		updateDone := false
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, expertID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				updateDone = true
				return c, nil
			})
		f.media.EXPECT().
			Acquire(ctx, cur.ConsultationID).
			DoAndReturn(func(context.Context, uuid.UUID) (*media.Handle, error) {
				assert.True(t, updateDone, "media acquired before status write")
				return &media.Handle{SessionID: uuid.New(), ConsultationID: cur.ConsultationID}, nil
			})

		c, err := f.svc.Start(ctx, cur.ConsultationID, expert)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInProgress, c.Status)
		assert.NotNil(t, f.svc.SessionHandle(cur.ConsultationID))
	})

	t.Run("media failure compensates with cancellation", func(t *testing.T) {
		f := newFixture(t)
		cur := scheduled()
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, expertID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				return c, nil
			})
		f.media.EXPECT().Acquire(ctx, cur.ConsultationID).Return(nil, media.ErrUnavailable)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version+1, expertID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				assert.Equal(t, domain.StatusCancelled, c.Status)
				return c, nil
			})

		_, err := f.svc.Start(ctx, cur.ConsultationID, expert)
		assert.ErrorIs(t, err, media.ErrUnavailable)
	})

	t.Run("start on a live record retries acquisition only", func(t *testing.T) {
		f := newFixture(t)
		cur := scheduled()
		cur.Status = domain.StatusInProgress
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.media.EXPECT().
			Acquire(ctx, cur.ConsultationID).
			Return(&media.Handle{SessionID: uuid.New(), ConsultationID: cur.ConsultationID}, nil)

		c, err := f.svc.Start(ctx, cur.ConsultationID, expert)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInProgress, c.Status)
	})

	t.Run("stranger cannot start", func(t *testing.T) {
		f := newFixture(t)
		cur := scheduled()
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		_, err := f.svc.Start(ctx, cur.ConsultationID, identity.Actor{UserID: uuid.New(), Role: identity.RoleConsultant})
		assert.ErrorIs(t, err, identity.ErrPermissionDenied)
	})
}

func TestService_Complete(t *testing.T) {
	ctx := context.Background()
	farmerID := uuid.New()
	expertID := uuid.New()
	expert := identity.Actor{UserID: expertID, Role: identity.RoleConsultant}

	t.Run("completion persists notes and releases the session", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		cur.Status = domain.StatusInProgress
		cur.ExpertID = &expertID
		cur.Version = 3

		// plant a live session so completion has something to release
		f.media.EXPECT().Acquire(ctx, cur.ConsultationID).Return(&media.Handle{SessionID: uuid.New()}, nil)
		require.NoError(t, f.svc.acquireSession(ctx, cur))

		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, expertID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				return c, nil
			})
		f.media.EXPECT().Release(ctx, gomock.Any()).Return(nil)

		c, err := f.svc.Complete(ctx, cur.ConsultationID, expert, "treated with neem oil")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, c.Status)
		require.NotNil(t, c.Notes)
		assert.Equal(t, "treated with neem oil", *c.Notes)
		assert.Nil(t, f.svc.SessionHandle(cur.ConsultationID))
	})

	t.Run("farmer cannot complete", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		cur.Status = domain.StatusInProgress
		cur.ExpertID = &expertID
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		_, err := f.svc.Complete(ctx, cur.ConsultationID, identity.Actor{UserID: farmerID, Role: identity.RoleFarmer}, "")
		assert.ErrorIs(t, err, identity.ErrPermissionDenied)
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	farmerID := uuid.New()
	farmer := identity.Actor{UserID: farmerID, Role: identity.RoleFarmer}

	t.Run("farmer cancels own pending request", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, farmerID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				return c, nil
			})

		c, err := f.svc.Cancel(ctx, cur.ConsultationID, farmer, "found another expert")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, c.Status)
		require.NotNil(t, c.CancelReason)
		assert.Equal(t, "found another expert", *c.CancelReason)
	})

	t.Run("cancelling a cancelled record is a no-op", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		cur.Status = domain.StatusCancelled
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		c, err := f.svc.Cancel(ctx, cur.ConsultationID, farmer, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, c.Status)
	})

	t.Run("cancelling a completed record fails", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		cur.Status = domain.StatusCompleted
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		_, err := f.svc.Cancel(ctx, cur.ConsultationID, farmer, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("unrelated farmer cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		_, err := f.svc.Cancel(ctx, cur.ConsultationID, identity.Actor{UserID: uuid.New(), Role: identity.RoleFarmer}, "")
		assert.ErrorIs(t, err, identity.ErrPermissionDenied)
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	farmerID := uuid.New()
	expertID := uuid.New()
	farmer := identity.Actor{UserID: farmerID, Role: identity.RoleFarmer}

	t.Run("farmer edits topic while pending", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, farmerID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				return c, nil
			})

		topic := "revised: aphids on okra"
		c, err := f.svc.Update(ctx, cur.ConsultationID, farmer, UpdateInput{Topic: &topic})
		require.NoError(t, err)
		assert.Equal(t, topic, c.Topic)
		assert.Equal(t, cur.Version+1, c.Version)
	})

	t.Run("topic frozen after assignment", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		cur.Status = domain.StatusScheduled
		cur.ExpertID = &expertID
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		topic := "too late"
		_, err := f.svc.Update(ctx, cur.ConsultationID, farmer, UpdateInput{Topic: &topic})
		assert.ErrorIs(t, err, identity.ErrPermissionDenied)
	})

	t.Run("assigned expert edits notes in progress", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		cur.Status = domain.StatusInProgress
		cur.ExpertID = &expertID
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)
		f.store.EXPECT().
			ConditionalUpdate(ctx, gomock.Any(), cur.Version, expertID).
			DoAndReturn(func(_ context.Context, c *domain.Consultation, _ int64, _ uuid.UUID) (*domain.Consultation, error) {
				return c, nil
			})

		notes := "sample sent to lab"
		c, err := f.svc.Update(ctx, cur.ConsultationID, identity.Actor{UserID: expertID, Role: identity.RoleConsultant}, UpdateInput{Notes: &notes})
		require.NoError(t, err)
		require.NotNil(t, c.Notes)
		assert.Equal(t, notes, *c.Notes)
	})

	t.Run("empty update returns the record unchanged", func(t *testing.T) {
		f := newFixture(t)
		cur := pendingFixture(farmerID)
		f.store.EXPECT().GetByID(ctx, cur.ConsultationID).Return(cur, nil)

		c, err := f.svc.Update(ctx, cur.ConsultationID, farmer, UpdateInput{})
		require.NoError(t, err)
		assert.Equal(t, cur.Version, c.Version)
	})
}
