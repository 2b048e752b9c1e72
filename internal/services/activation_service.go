package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lunovey/simshop/internal/infrastructure/kafka"
	"github.com/lunovey/simshop/internal/models"
	"github.com/lunovey/simshop/internal/repository"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var activationTracer trace.Tracer = otel.Tracer("activation-service")

// ActivationService drives the rent/receive/release lifecycle of numbers.
type ActivationService interface {
	Purchase(ctx context.Context, externalID, country, operator, product string) (*models.Activation, error)
	Get(ctx context.Context, externalID string, id int64) (*models.Activation, error)
	ListMine(ctx context.Context, externalID string) ([]*models.Activation, error)
	Finish(ctx context.Context, externalID string, id int64) (*models.Activation, error)
	Cancel(ctx context.Context, externalID string, id int64) (*models.Activation, error)
	Ban(ctx context.Context, externalID string, id int64) (*models.Activation, error)
	Repurchase(ctx context.Context, externalID string, id int64) (*models.Activation, error)
	StopAll()
}

type activationService struct {
	gateway         ProviderGateway
	activationRepo  repository.ActivationRepository
	transactionRepo repository.TransactionRepository
	identity        IdentityService
	index           *ActivationIndex
	producer        kafka.KafkaProducer
	notifier        Notifier

	pollInterval time.Duration
	forcedDelay  time.Duration

	mu       sync.Mutex
	watchers map[int64]*Watcher
}

func NewActivationService(
	gateway ProviderGateway,
	activationRepo repository.ActivationRepository,
	transactionRepo repository.TransactionRepository,
	identity IdentityService,
	index *ActivationIndex,
	producer kafka.KafkaProducer,
	notifier Notifier,
	pollInterval, forcedDelay time.Duration,
) *activationService {
	return &activationService{
		gateway:         gateway,
		activationRepo:  activationRepo,
		transactionRepo: transactionRepo,
		identity:        identity,
		index:           index,
		producer:        producer,
		notifier:        notifier,
		pollInterval:    pollInterval,
		forcedDelay:     forcedDelay,
		watchers:        make(map[int64]*Watcher),
	}
}

func (s *activationService) Purchase(ctx context.Context, externalID, country, operator, product string) (*models.Activation, error) {
	ctx, span := activationTracer.Start(ctx, "Purchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("country", country),
		attribute.String("operator", operator),
		attribute.String("product", product),
	)

	user, err := s.identity.EnsureUser(ctx, externalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	activation, err := s.gateway.Purchase(ctx, country, operator, product)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider purchase failed")
		return nil, err
	}
	activation.UserID = user.ID

	if err := s.activationRepo.Upsert(ctx, activation); err != nil {
		span.RecordError(err)
		s.releaseAfterFailure(activation.ID)
		return nil, err
	}

	// Charging runs against the ledger after the number is held; a shortfall
	// releases the number back to the provider.
	charge := &models.Transaction{
		UserID:       user.ID,
		Amount:       activation.Price,
		Type:         models.TypePurchase,
		Status:       models.StatusCompleted,
		Description:  fmt.Sprintf("Number purchase: %s/%s", product, country),
		Reference:    fmt.Sprintf("activation-%d", activation.ID),
		ActivationID: &activation.ID,
	}
	if _, _, err := s.transactionRepo.Apply(ctx, charge); err != nil {
		span.RecordError(err)
		s.releaseAfterFailure(activation.ID)
		return nil, err
	}

	s.index.Add(ctx, user.ID, activation.ID)
	s.startWatcher(activation)
	s.publishActivationEvent(activation)

	slog.Info("activation purchased",
		"activation_id", activation.ID,
		"user_id", user.ID,
		"phone", activation.Phone,
		"price", activation.Price)
	return activation, nil
}

// releaseAfterFailure returns a held number when the local bookkeeping for a
// purchase could not complete. Best effort: the provider expires unused
// numbers on its own.
func (s *activationService) releaseAfterFailure(activationID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.gateway.Cancel(ctx, activationID); err != nil {
		slog.Warn("failed to release activation after purchase failure", "activation_id", activationID, "error", err)
	}
}

func (s *activationService) Get(ctx context.Context, externalID string, id int64) (*models.Activation, error) {
	user, err := s.identity.EnsureUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, user.ID, id); err != nil {
		return nil, err
	}

	if w := s.watcher(id); w != nil {
		if last := w.Last(); last != nil {
			return last, nil
		}
	}

	activation, err := s.gateway.GetActivation(ctx, id)
	if err != nil {
		return nil, err
	}
	activation.UserID = user.ID
	return activation, nil
}

func (s *activationService) ListMine(ctx context.Context, externalID string) ([]*models.Activation, error) {
	ctx, span := activationTracer.Start(ctx, "ListMine")
	defer span.End()

	user, err := s.identity.EnsureUser(ctx, externalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids := s.index.List(ctx, user.ID)
	activations := make([]*models.Activation, 0, len(ids))
	for _, id := range ids {
		activation, err := s.gateway.GetActivation(ctx, id)
		if err != nil {
			// A vanished or no-longer-accessible ID is dead weight in the
			// index; anything else is transient and the entry stays.
			if errors.Is(err, pkgerrors.ErrNotFound) || errors.Is(err, pkgerrors.ErrAuthenticationRequired) {
				s.index.Remove(ctx, user.ID, id)
				continue
			}
			slog.Warn("skipping activation during listing", "activation_id", id, "error", err)
			continue
		}
		activation.UserID = user.ID
		activations = append(activations, activation)
	}
	return activations, nil
}

func (s *activationService) Finish(ctx context.Context, externalID string, id int64) (*models.Activation, error) {
	user, err := s.identity.EnsureUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	current, err := s.owned(ctx, user.ID, id)
	if err != nil {
		return nil, err
	}
	if !current.HasSMS() {
		return nil, fmt.Errorf("%w: activation %d", pkgerrors.ErrActivationNoSMS, id)
	}

	activation, err := s.gateway.Finish(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, user.ID, activation)
}

func (s *activationService) Cancel(ctx context.Context, externalID string, id int64) (*models.Activation, error) {
	user, err := s.identity.EnsureUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	current, err := s.owned(ctx, user.ID, id)
	if err != nil {
		return nil, err
	}
	if current.HasSMS() {
		// The provider rejects cancellation once a message has been used.
		return nil, fmt.Errorf("%w: activation %d", pkgerrors.ErrActivationHasSMS, id)
	}

	activation, err := s.gateway.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, user.ID, activation)
}

func (s *activationService) Ban(ctx context.Context, externalID string, id int64) (*models.Activation, error) {
	user, err := s.identity.EnsureUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	current, err := s.owned(ctx, user.ID, id)
	if err != nil {
		return nil, err
	}
	if current.HasSMS() {
		return nil, fmt.Errorf("%w: activation %d", pkgerrors.ErrActivationHasSMS, id)
	}

	activation, err := s.gateway.Ban(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, user.ID, activation)
}

// Repurchase closes out an activation and rents a fresh number with the same
// parameters. An activation that already received a message is finished,
// otherwise it is canceled.
func (s *activationService) Repurchase(ctx context.Context, externalID string, id int64) (*models.Activation, error) {
	user, err := s.identity.EnsureUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	current, err := s.owned(ctx, user.ID, id)
	if err != nil {
		return nil, err
	}

	if !current.Status.Terminal() {
		var closed *models.Activation
		if current.HasSMS() {
			closed, err = s.gateway.Finish(ctx, id)
		} else {
			closed, err = s.gateway.Cancel(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		if _, err := s.settle(ctx, user.ID, closed); err != nil {
			return nil, err
		}
	}

	return s.Purchase(ctx, externalID, current.Country, current.Operator, current.Product)
}

func (s *activationService) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watchers {
		w.Stop()
		delete(s.watchers, id)
	}
}

// owned resolves the current activation state and confirms it belongs to the
// user. Local rows win for ownership; the provider supplies the live state.
func (s *activationService) owned(ctx context.Context, userID int32, id int64) (*models.Activation, error) {
	row, err := s.activationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID {
		return nil, fmt.Errorf("%w: activation %d", pkgerrors.ErrNotFound, id)
	}

	if w := s.watcher(id); w != nil {
		if last := w.Last(); last != nil {
			return last, nil
		}
	}

	activation, err := s.gateway.GetActivation(ctx, id)
	if err != nil {
		// Stale local state still allows the HasSMS guards to run.
		return row, nil
	}
	activation.UserID = userID
	return activation, nil
}

// settle persists a status change, tears down the watcher and announces the
// transition to the stream.
func (s *activationService) settle(ctx context.Context, userID int32, activation *models.Activation) (*models.Activation, error) {
	activation.UserID = userID
	if err := s.activationRepo.Upsert(ctx, activation); err != nil {
		slog.Warn("failed to persist activation state", "activation_id", activation.ID, "error", err)
	}
	if activation.Status.Terminal() {
		s.stopWatcher(activation.ID)
		s.publishActivationEvent(activation)
	}
	return activation, nil
}

func (s *activationService) startWatcher(activation *models.Activation) {
	w := NewWatcher(s.gateway, s.activationRepo, s.notifier, activation.ID, s.pollInterval, s.forcedDelay)
	s.mu.Lock()
	if old, ok := s.watchers[activation.ID]; ok {
		old.Stop()
	}
	s.watchers[activation.ID] = w
	s.mu.Unlock()
	w.Start(activation)
}

func (s *activationService) stopWatcher(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watchers[id]; ok {
		w.Stop()
		delete(s.watchers, id)
	}
}

func (s *activationService) watcher(id int64) *Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchers[id]
}

func (s *activationService) publishActivationEvent(activation *models.Activation) {
	event := kafka.ActivationEvent{
		UserID:       activation.UserID,
		ActivationID: activation.ID,
		Status:       activation.Status,
		Price:        activation.Price,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal activation event", "activation_id", activation.ID, "error", err)
		return
	}
	go func() {
		if err := s.producer.Send(context.Background(), "activations", activation.ID, eventBytes); err != nil {
			slog.Error("failed to publish activation event", "activation_id", activation.ID, "error", err)
		}
	}()
}
