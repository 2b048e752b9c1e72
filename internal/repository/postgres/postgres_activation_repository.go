package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lunovey/simshop/internal/models"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
)

type PostgresActivationRepository struct {
	db *sql.DB
}

func NewPostgresActivationRepository(db *sql.DB) *PostgresActivationRepository {
	return &PostgresActivationRepository{db: db}
}

// Upsert mirrors the provider's view of an activation. The SMS list is not
// stored here; the provider remains authoritative for messages.
func (r *PostgresActivationRepository) Upsert(ctx context.Context, activation *models.Activation) error {
	if activation == nil {
		return fmt.Errorf("activation is nil")
	}
	if activation.ID <= 0 {
		return fmt.Errorf("%w: activation ID must be positive", pkgerrors.ErrValidation)
	}

	query := `
	INSERT INTO activations (id, user_id, phone, operator, product, country, price, status, created_at, expires)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE
	SET status = EXCLUDED.status
	`
	_, err := r.db.ExecContext(ctx, query,
		activation.ID,
		activation.UserID,
		activation.Phone,
		activation.Operator,
		activation.Product,
		activation.Country,
		activation.Price,
		activation.Status,
		activation.CreatedAt,
		activation.Expires,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert activation: %w", err)
	}
	return nil
}

func (r *PostgresActivationRepository) GetByID(ctx context.Context, id int64) (*models.Activation, error) {
	query := `SELECT id, user_id, phone, operator, product, country, price, status, created_at, expires FROM activations WHERE id = $1`
	var a models.Activation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.UserID, &a.Phone, &a.Operator, &a.Product,
		&a.Country, &a.Price, &a.Status, &a.CreatedAt, &a.Expires,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activation: %w", err)
	}
	return &a, nil
}

func (r *PostgresActivationRepository) ListByUser(ctx context.Context, userID int32) ([]models.Activation, error) {
	query := `SELECT id, user_id, phone, operator, product, country, price, status, created_at, expires FROM activations WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var activations []models.Activation
	for rows.Next() {
		var a models.Activation
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Phone, &a.Operator, &a.Product,
			&a.Country, &a.Price, &a.Status, &a.CreatedAt, &a.Expires,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		activations = append(activations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activations: %w", err)
	}
	return activations, nil
}
