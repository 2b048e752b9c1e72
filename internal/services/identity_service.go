package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lunovey/simshop/internal/infrastructure/kafka"
	"github.com/lunovey/simshop/internal/models"
	"github.com/lunovey/simshop/internal/repository"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// WebhookEvent is the identity provider's envelope.
type WebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type webhookUserData struct {
	ID             string `json:"id"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ImageURL  string `json:"image_url"`
}

type Profile struct {
	User            *models.User `json:"user"`
	ProviderBalance float64      `json:"provider_balance"`
	ProviderRating  float64      `json:"provider_rating"`
}

// IdentityService keeps local user rows synchronized with the external
// identity provider.
type IdentityService interface {
	HandleWebhook(ctx context.Context, event WebhookEvent) error
	// EnsureUser resolves the local row for an authenticated external ID,
	// creating a placeholder row when the webhook has not arrived yet.
	EnsureUser(ctx context.Context, externalID string) (*models.User, error)
	GetProfile(ctx context.Context, externalID string) (*Profile, error)
}

type identityService struct {
	userRepo repository.UserRepository
	gateway  ProviderGateway
	producer kafka.KafkaProducer
}

func NewIdentityService(userRepo repository.UserRepository, gateway ProviderGateway, producer kafka.KafkaProducer) *identityService {
	return &identityService{userRepo: userRepo, gateway: gateway, producer: producer}
}

func (s *identityService) HandleWebhook(ctx context.Context, event WebhookEvent) error {
	tracer := otel.Tracer("identity-service")
	ctx, span := tracer.Start(ctx, "HandleWebhook")
	defer span.End()

	switch event.Type {
	case "user.created", "user.updated":
		return s.upsertFromEvent(ctx, event)
	case "user.deleted":
		return s.scrubFromEvent(ctx, event)
	default:
		// Unknown event types acknowledge without action.
		slog.Debug("ignoring webhook event", "type", event.Type)
		return nil
	}
}

func (s *identityService) upsertFromEvent(ctx context.Context, event WebhookEvent) error {
	var data webhookUserData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("%w: malformed webhook data", pkgerrors.ErrValidation)
	}
	if data.ID == "" {
		return fmt.Errorf("%w: webhook data missing user id", pkgerrors.ErrValidation)
	}

	email := ""
	if len(data.EmailAddresses) > 0 {
		email = data.EmailAddresses[0].EmailAddress
	}
	if email == "" {
		return fmt.Errorf("%w: webhook data missing email", pkgerrors.ErrValidation)
	}

	user := &models.User{
		ExternalID: data.ID,
		Email:      email,
		Username:   data.Username,
		Name:       strings.TrimSpace(strings.Join([]string{data.FirstName, data.LastName}, " ")),
		ImageURL:   data.ImageURL,
	}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		slog.Error("webhook upsert failed", "external_id", data.ID, "error", err)
		return err
	}

	s.publishUserEvent(user, event.Type)
	slog.Info("user synchronized", "external_id", data.ID, "user_id", user.ID, "event", event.Type)
	return nil
}

func (s *identityService) scrubFromEvent(ctx context.Context, event WebhookEvent) error {
	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("%w: malformed webhook data", pkgerrors.ErrValidation)
	}
	if data.ID == "" {
		return fmt.Errorf("%w: webhook data missing user id", pkgerrors.ErrValidation)
	}

	// The row survives with PII tombstoned so transactions keep a valid owner.
	if err := s.userRepo.Scrub(ctx, data.ID); err != nil {
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			slog.Warn("user.deleted for unknown user", "external_id", data.ID)
			return err
		}
		slog.Error("webhook scrub failed", "external_id", data.ID, "error", err)
		return err
	}

	slog.Info("user scrubbed", "external_id", data.ID)
	return nil
}

func (s *identityService) EnsureUser(ctx context.Context, externalID string) (*models.User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: external ID is required", pkgerrors.ErrValidation)
	}

	user, err := s.userRepo.GetByExternalID(ctx, externalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pkgerrors.ErrUserNotFound) {
		return nil, err
	}

	// Best-effort path: the session is valid but the created webhook has not
	// landed; synthesize a placeholder email until it does.
	user = &models.User{
		ExternalID: externalID,
		Email:      fmt.Sprintf("%s@placeholder.invalid", externalID),
	}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return nil, err
	}
	slog.Info("user created on demand", "external_id", externalID, "user_id", user.ID)
	return user, nil
}

func (s *identityService) GetProfile(ctx context.Context, externalID string) (*Profile, error) {
	tracer := otel.Tracer("identity-service")
	ctx, span := tracer.Start(ctx, "GetProfile")
	defer span.End()

	user, err := s.EnsureUser(ctx, externalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	profile := &Profile{User: user}
	providerProfile, err := s.gateway.Profile(ctx)
	if err != nil {
		// The storefront profile still renders without provider-side numbers.
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider profile unavailable")
		slog.Warn("provider profile unavailable", "error", err)
		return profile, nil
	}
	profile.ProviderBalance = providerProfile.Balance
	profile.ProviderRating = providerProfile.Rating
	return profile, nil
}

func (s *identityService) publishUserEvent(user *models.User, eventType string) {
	event := map[string]interface{}{
		"event_type":  eventType,
		"user_id":     user.ID,
		"external_id": user.ExternalID,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal user event", "user_id", user.ID, "error", err)
		return
	}
	go func() {
		if err := s.producer.Send(context.Background(), "users", int64(user.ID), eventBytes); err != nil {
			slog.Error("failed to publish user event", "user_id", user.ID, "error", err)
		}
	}()
}
