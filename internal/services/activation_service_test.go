package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lunovey/simshop/internal/models"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activationFixture struct {
	gateway         *fakeGateway
	userRepo        *fakeUserRepo
	transactionRepo *fakeTransactionRepo
	activationRepo  *fakeActivationRepo
	redis           *fakeRedis
	index           *ActivationIndex
	producer        *fakeProducer
	svc             *activationService
}

func newActivationFixture(t *testing.T, gateway *fakeGateway) *activationFixture {
	t.Helper()
	f := &activationFixture{
		gateway:         gateway,
		userRepo:        newFakeUserRepo(),
		transactionRepo: newFakeTransactionRepo(),
		activationRepo:  newFakeActivationRepo(),
		redis:           newFakeRedis(),
		producer:        newFakeProducer(),
	}
	f.index = NewActivationIndex(f.redis)
	identity := NewIdentityService(f.userRepo, gateway, f.producer)
	f.svc = NewActivationService(
		gateway, f.activationRepo, f.transactionRepo, identity, f.index,
		f.producer, NopNotifier{}, 10*time.Millisecond, 5*time.Millisecond,
	)
	t.Cleanup(f.svc.StopAll)
	return f
}

func (f *activationFixture) seedUser(t *testing.T, externalID string, balance float64) *models.User {
	t.Helper()
	user := &models.User{ExternalID: externalID, Email: externalID + "@test.example"}
	require.NoError(t, f.userRepo.Upsert(context.Background(), user))
	f.transactionRepo.mu.Lock()
	f.transactionRepo.balances[user.ID] = balance
	f.transactionRepo.mu.Unlock()
	return user
}

func TestActivationService_Purchase(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gateway := &fakeGateway{
			purchaseFn: func(ctx context.Context, country, operator, product string) (*models.Activation, error) {
				return &models.Activation{
					ID: 900001, Phone: "+79001234567",
					Operator: operator, Product: product, Country: country,
					Price: 12.5, Status: models.ActivationPending,
				}, nil
			},
			getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
				return &models.Activation{ID: id, Status: models.ActivationCompleted}, nil
			},
		}
		f := newActivationFixture(t, gateway)
		user := f.seedUser(t, "user_1", 100)

		activation, err := f.svc.Purchase(ctx, "user_1", "russia", "any", "telegram")
		require.NoError(t, err)
		assert.Equal(t, int64(900001), activation.ID)
		assert.Equal(t, user.ID, activation.UserID)

		// Ledger charged the price against the activation.
		purchases := f.transactionRepo.appliedOfType(models.TypePurchase)
		require.Len(t, purchases, 1)
		assert.Equal(t, 12.5, purchases[0].Amount)
		require.NotNil(t, purchases[0].ActivationID)
		assert.Equal(t, int64(900001), *purchases[0].ActivationID)

		// Index knows the new ID.
		assert.Equal(t, []int64{900001}, f.index.List(ctx, user.ID))

		// Local row mirrors the provider record.
		row, err := f.activationRepo.GetByID(ctx, 900001)
		require.NoError(t, err)
		assert.Equal(t, user.ID, row.UserID)
	})

	t.Run("InsufficientFundsReleasesNumber", func(t *testing.T) {
		canceled := make(chan int64, 1)
		gateway := &fakeGateway{
			purchaseFn: func(ctx context.Context, country, operator, product string) (*models.Activation, error) {
				return &models.Activation{ID: 900002, Phone: "+79001234568", Price: 50, Status: models.ActivationPending}, nil
			},
			cancelFn: func(ctx context.Context, id int64) (*models.Activation, error) {
				canceled <- id
				return &models.Activation{ID: id, Status: models.ActivationCanceled}, nil
			},
		}
		f := newActivationFixture(t, gateway)
		user := f.seedUser(t, "user_1", 5)

		_, err := f.svc.Purchase(ctx, "user_1", "russia", "any", "telegram")
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

		select {
		case id := <-canceled:
			assert.Equal(t, int64(900002), id)
		case <-time.After(time.Second):
			t.Fatal("held number was not released")
		}
		assert.Empty(t, f.index.List(ctx, user.ID))
	})

	t.Run("ProviderFailure", func(t *testing.T) {
		gateway := &fakeGateway{
			purchaseFn: func(ctx context.Context, country, operator, product string) (*models.Activation, error) {
				return nil, fmt.Errorf("%w: status 500", pkgerrors.ErrUpstream)
			},
		}
		f := newActivationFixture(t, gateway)
		f.seedUser(t, "user_1", 100)

		_, err := f.svc.Purchase(ctx, "user_1", "russia", "any", "telegram")
		assert.ErrorIs(t, err, pkgerrors.ErrUpstream)
		assert.Empty(t, f.transactionRepo.appliedOfType(models.TypePurchase))
	})
}

func TestActivationService_TransitionGuards(t *testing.T) {
	ctx := context.Background()

	withSMS := &models.Activation{
		ID: 900001, Status: models.ActivationReceived,
		SMS: []models.SMSMessage{{ID: 1, Text: "Your code is 4821"}},
	}
	withoutSMS := &models.Activation{ID: 900001, Status: models.ActivationPending}

	t.Run("FinishRequiresSMS", func(t *testing.T) {
		gateway := &fakeGateway{
			getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
				return withoutSMS, nil
			},
		}
		f := newActivationFixture(t, gateway)
		user := f.seedUser(t, "user_1", 100)
		require.NoError(t, f.activationRepo.Upsert(ctx, &models.Activation{ID: 900001, UserID: user.ID}))

		_, err := f.svc.Finish(ctx, "user_1", 900001)
		assert.ErrorIs(t, err, pkgerrors.ErrActivationNoSMS)
	})

	t.Run("CancelRejectedAfterSMS", func(t *testing.T) {
		gateway := &fakeGateway{
			getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
				return withSMS, nil
			},
		}
		f := newActivationFixture(t, gateway)
		user := f.seedUser(t, "user_1", 100)
		require.NoError(t, f.activationRepo.Upsert(ctx, &models.Activation{ID: 900001, UserID: user.ID}))

		_, err := f.svc.Cancel(ctx, "user_1", 900001)
		assert.ErrorIs(t, err, pkgerrors.ErrActivationHasSMS)
	})

	t.Run("BanRejectedAfterSMS", func(t *testing.T) {
		gateway := &fakeGateway{
			getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
				return withSMS, nil
			},
		}
		f := newActivationFixture(t, gateway)
		user := f.seedUser(t, "user_1", 100)
		require.NoError(t, f.activationRepo.Upsert(ctx, &models.Activation{ID: 900001, UserID: user.ID}))

		_, err := f.svc.Ban(ctx, "user_1", 900001)
		assert.ErrorIs(t, err, pkgerrors.ErrActivationHasSMS)
	})

	t.Run("FinishWithSMSSucceeds", func(t *testing.T) {
		gateway := &fakeGateway{
			getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
				return withSMS, nil
			},
			finishFn: func(ctx context.Context, id int64) (*models.Activation, error) {
				return &models.Activation{ID: id, Status: models.ActivationCompleted}, nil
			},
		}
		f := newActivationFixture(t, gateway)
		user := f.seedUser(t, "user_1", 100)
		require.NoError(t, f.activationRepo.Upsert(ctx, &models.Activation{ID: 900001, UserID: user.ID}))

		activation, err := f.svc.Finish(ctx, "user_1", 900001)
		require.NoError(t, err)
		assert.Equal(t, models.ActivationCompleted, activation.Status)

		// Terminal transition lands on the event stream.
		assert.Eventually(t, func() bool {
			f.producer.mu.Lock()
			defer f.producer.mu.Unlock()
			return len(f.producer.sent["activations"]) == 1
		}, time.Second, time.Millisecond)
	})
}

func TestActivationService_Ownership(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{
		getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
			return &models.Activation{ID: id, Status: models.ActivationPending}, nil
		},
	}
	f := newActivationFixture(t, gateway)
	owner := f.seedUser(t, "owner", 100)
	f.seedUser(t, "stranger", 100)
	require.NoError(t, f.activationRepo.Upsert(ctx, &models.Activation{ID: 900001, UserID: owner.ID}))

	_, err := f.svc.Get(ctx, "stranger", 900001)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	activation, err := f.svc.Get(ctx, "owner", 900001)
	require.NoError(t, err)
	assert.Equal(t, int64(900001), activation.ID)
}

func TestActivationService_ListMinePrunesDeadEntries(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{
		getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
			switch id {
			case 900001:
				return &models.Activation{ID: id, Status: models.ActivationPending}, nil
			case 900002:
				return nil, pkgerrors.ErrNotFound
			case 900003:
				return nil, pkgerrors.ErrAuthenticationRequired
			default:
				return nil, fmt.Errorf("%w: status 500", pkgerrors.ErrUpstream)
			}
		},
	}
	f := newActivationFixture(t, gateway)
	user := f.seedUser(t, "user_1", 100)
	for _, id := range []int64{900001, 900002, 900003, 900004} {
		f.index.Add(ctx, user.ID, id)
	}

	activations, err := f.svc.ListMine(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, activations, 1)
	assert.Equal(t, int64(900001), activations[0].ID)

	// Vanished and permission-denied entries are pruned; the transient
	// failure stays for the next listing.
	assert.ElementsMatch(t, []int64{900001, 900004}, f.index.List(ctx, user.ID))
}

func TestActivationService_Repurchase(t *testing.T) {
	ctx := context.Background()
	canceled := make(chan int64, 1)
	gateway := &fakeGateway{
		getActivationFn: func(ctx context.Context, id int64) (*models.Activation, error) {
			if id == 900001 {
				return &models.Activation{
					ID: id, Status: models.ActivationPending,
					Operator: "any", Product: "telegram", Country: "russia",
				}, nil
			}
			return &models.Activation{ID: id, Status: models.ActivationCompleted}, nil
		},
		cancelFn: func(ctx context.Context, id int64) (*models.Activation, error) {
			canceled <- id
			return &models.Activation{ID: id, Status: models.ActivationCanceled, Operator: "any", Product: "telegram", Country: "russia"}, nil
		},
		purchaseFn: func(ctx context.Context, country, operator, product string) (*models.Activation, error) {
			assert.Equal(t, "russia", country)
			assert.Equal(t, "any", operator)
			assert.Equal(t, "telegram", product)
			return &models.Activation{
				ID: 900005, Phone: "+79001234569",
				Operator: operator, Product: product, Country: country,
				Price: 12.5, Status: models.ActivationPending,
			}, nil
		},
	}
	f := newActivationFixture(t, gateway)
	user := f.seedUser(t, "user_1", 100)
	require.NoError(t, f.activationRepo.Upsert(ctx, &models.Activation{
		ID: 900001, UserID: user.ID, Operator: "any", Product: "telegram", Country: "russia",
	}))

	activation, err := f.svc.Repurchase(ctx, "user_1", 900001)
	require.NoError(t, err)
	assert.Equal(t, int64(900005), activation.ID)

	select {
	case id := <-canceled:
		assert.Equal(t, int64(900001), id)
	case <-time.After(time.Second):
		t.Fatal("old activation was not canceled")
	}
}
