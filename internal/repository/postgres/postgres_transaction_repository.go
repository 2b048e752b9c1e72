package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lunovey/simshop/internal/infrastructure/observability"
	"github.com/lunovey/simshop/internal/models"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// Apply is the single write path of the ledger. The entry insert and the
// balance update commit together or not at all: there must never be a
// transaction row without its matching balance move.
func (r *PostgresTransactionRepository) Apply(ctx context.Context, tx *models.Transaction) (int32, float64, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ApplyTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ApplyTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ApplyTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to apply transaction", "method", "Apply", "error", err)
		return 0, 0, err
	}
	if !models.ValidTransactionType(tx.Type) {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Apply", "type", tx.Type, "error", err)
		return 0, 0, err
	}
	if !models.ValidTransactionStatus(tx.Status) {
		err = pkgerrors.ErrInvalidTransactionStatus
		slog.Error("invalid transaction status", "method", "Apply", "status", tx.Status, "error", err)
		return 0, 0, err
	}
	if tx.Amount <= 0 {
		err = fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
		slog.Error("amount must be positive", "method", "Apply", "amount", tx.Amount, "error", err)
		return 0, 0, err
	}

	span.SetAttributes(
		attribute.Int("user_id", int(tx.UserID)),
		attribute.Float64("amount", tx.Amount),
		attribute.String("type", string(tx.Type)),
		attribute.String("status", string(tx.Status)),
	)

	dbTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Apply", "error", err)
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := dbTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("rollback failed", "method", "Apply", "error", rbErr)
			}
		}
	}()

	// Lock the user row so concurrent deposits cannot race past each other's
	// read-modify-write.
	var currentBalance float64
	err = dbTx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, tx.UserID).Scan(&currentBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return 0, 0, err
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to lock user row: %w", err)
	}

	newBalance := currentBalance
	if tx.Status == models.StatusCompleted {
		newBalance = currentBalance + tx.Signed()
		if newBalance < 0 {
			err = pkgerrors.ErrInsufficientFunds
			slog.Warn("insufficient funds",
				"method", "Apply",
				"user_id", tx.UserID,
				"balance", currentBalance,
				"amount", tx.Amount)
			return 0, 0, err
		}
	}

	query := `INSERT INTO transactions (user_id, amount, type, status, description, reference, activation_id) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	var txID int32
	var createdAt time.Time
	err = dbTx.QueryRowContext(ctx, query,
		tx.UserID, tx.Amount, tx.Type, tx.Status, tx.Description, tx.Reference, tx.ActivationID,
	).Scan(&txID, &createdAt)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	if tx.Status == models.StatusCompleted {
		_, err = dbTx.ExecContext(ctx, `UPDATE users SET balance = $1 WHERE id = $2`, newBalance, tx.UserID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to update balance: %w", err)
		}
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Apply", "error", err)
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	tx.ID = txID
	tx.CreatedAt = createdAt
	slog.Info("ledger entry applied",
		"method", "Apply",
		"id", tx.ID,
		"user_id", tx.UserID,
		"type", tx.Type,
		"status", tx.Status,
		"new_balance", newBalance)
	return txID, newBalance, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int32) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.Int("transaction_id", int(id)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetTransactionByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetTransactionByID").Observe(time.Since(start).Seconds())
	}()

	var tx models.Transaction
	query := `SELECT id, user_id, amount, type, status, description, reference, activation_id, created_at FROM transactions WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Status,
		&tx.Description, &tx.Reference, &tx.ActivationID, &tx.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) HistoryByUser(ctx context.Context, userID int32) ([]models.Transaction, error) {
	query := `SELECT id, user_id, amount, type, status, description, reference, activation_id, created_at FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Status,
			&tx.Description, &tx.Reference, &tx.ActivationID, &tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transaction history: %w", err)
	}
	return transactions, nil
}

func (r *PostgresTransactionRepository) FindByActivation(ctx context.Context, activationID int64, txType models.TransactionType) (*models.Transaction, error) {
	query := `SELECT id, user_id, amount, type, status, description, reference, activation_id, created_at FROM transactions WHERE activation_id = $1 AND type = $2 ORDER BY created_at DESC LIMIT 1`
	var tx models.Transaction
	err := r.db.QueryRowContext(ctx, query, activationID, txType).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Status,
		&tx.Description, &tx.Reference, &tx.ActivationID, &tx.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by activation: %w", err)
	}
	return &tx, nil
}
