package repository

import (
	"context"

	"github.com/lunovey/simshop/internal/models"
)

type TransactionRepository interface {
	// Apply inserts a ledger entry and, when it is COMPLETED, moves the cached
	// balance by the signed amount — both inside one database transaction.
	// Returns the entry ID and the resulting balance.
	Apply(ctx context.Context, tx *models.Transaction) (int32, float64, error)
	GetByID(ctx context.Context, id int32) (*models.Transaction, error)
	HistoryByUser(ctx context.Context, userID int32) ([]models.Transaction, error)
	FindByActivation(ctx context.Context, activationID int64, txType models.TransactionType) (*models.Transaction, error)
}
