package repository

import (
	"context"

	"github.com/lunovey/simshop/internal/models"
)

type UserRepository interface {
	// Upsert creates or updates a user keyed by the external identity ID.
	// Replaying the same payload is a no-op, not an error.
	Upsert(ctx context.Context, user *models.User) error
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetByID(ctx context.Context, id int32) (*models.User, error)
	// Scrub clears personally-identifying fields but keeps the row so the
	// transaction history stays referentially intact.
	Scrub(ctx context.Context, externalID string) error
}
