package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lunovey/simshop/internal/models"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Upsert(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is nil")
	}
	if user.ExternalID == "" {
		return fmt.Errorf("%w: external ID is required", pkgerrors.ErrValidation)
	}
	if user.Email == "" {
		return fmt.Errorf("%w: email is required", pkgerrors.ErrValidation)
	}

	// New users start at zero balance; the balance column is never touched on
	// conflict — only ledger entries move it.
	query := `
	INSERT INTO users (external_id, email, username, name, image_url, balance)
	VALUES ($1, $2, $3, $4, $5, 0)
	ON CONFLICT (external_id) DO UPDATE
	SET email = EXCLUDED.email,
	    username = EXCLUDED.username,
	    name = EXCLUDED.name,
	    image_url = EXCLUDED.image_url
	RETURNING id, balance, created_at
	`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.ExternalID,
		user.Email,
		user.Username,
		user.Name,
		user.ImageURL,
	).Scan(&user.ID, &user.Balance, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: external ID cannot be empty", pkgerrors.ErrValidation)
	}

	query := `SELECT id, external_id, email, username, name, image_url, balance, created_at FROM users WHERE external_id = $1`

	var user models.User
	err := r.db.QueryRowContext(ctx, query, externalID).Scan(
		&user.ID,
		&user.ExternalID,
		&user.Email,
		&user.Username,
		&user.Name,
		&user.ImageURL,
		&user.Balance,
		&user.CreatedAt,
	)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user by external id: %w", err)
	}

	return &user, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int32) (*models.User, error) {
	query := `SELECT id, external_id, email, username, name, image_url, balance, created_at FROM users WHERE id = $1`

	var user models.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.ExternalID,
		&user.Email,
		&user.Username,
		&user.Name,
		&user.ImageURL,
		&user.Balance,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) Scrub(ctx context.Context, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("%w: external ID cannot be empty", pkgerrors.ErrValidation)
	}

	query := `
	UPDATE users
	SET email = $2, username = '', name = '', image_url = ''
	WHERE external_id = $1
	`
	tombstone := fmt.Sprintf("deleted-%s@removed.invalid", externalID)
	result, err := r.db.ExecContext(ctx, query, externalID, tombstone)
	if err != nil {
		return fmt.Errorf("failed to scrub user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to scrub user: %w", err)
	}
	if rows == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}
