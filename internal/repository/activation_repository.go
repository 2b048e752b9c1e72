package repository

import (
	"context"

	"github.com/lunovey/simshop/internal/models"
)

// ActivationRepository mirrors provider activations for per-user history.
// The provider's record stays authoritative; rows here are projections.
type ActivationRepository interface {
	Upsert(ctx context.Context, activation *models.Activation) error
	GetByID(ctx context.Context, id int64) (*models.Activation, error)
	ListByUser(ctx context.Context, userID int32) ([]models.Activation, error)
}
