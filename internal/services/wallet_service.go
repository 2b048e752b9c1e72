package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lunovey/simshop/internal/infrastructure/kafka"
	"github.com/lunovey/simshop/internal/models"
	"github.com/lunovey/simshop/internal/repository"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type DepositResult struct {
	NewBalance  float64             `json:"newBalance"`
	Transaction *models.Transaction `json:"transaction"`
}

type WalletService interface {
	Deposit(ctx context.Context, externalID string, amount float64, description, reference string) (*DepositResult, error)
	Balance(ctx context.Context, externalID string) (*models.User, error)
	History(ctx context.Context, externalID string) ([]models.Transaction, error)
}

type walletService struct {
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	producer        kafka.KafkaProducer
}

func NewWalletService(
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	producer kafka.KafkaProducer,
) *walletService {
	return &walletService{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		producer:        producer,
	}
}

// Deposit credits the wallet in one atomic unit: transaction row insert and
// balance increment commit together. A missing user fails the whole operation
// with nothing persisted.
func (s *walletService) Deposit(ctx context.Context, externalID string, amount float64, description, reference string) (*DepositResult, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "Deposit")
	defer span.End()

	if amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, fmt.Errorf("%w: amount must be a positive number", pkgerrors.ErrValidation)
	}

	user, err := s.userRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		slog.Error("deposit failed: user lookup", "external_id", externalID, "error", err)
		return nil, err
	}

	if description == "" {
		description = "Balance deposit"
	}
	if reference == "" {
		reference = fmt.Sprintf("deposit-%d", time.Now().UnixNano())
	}

	tx := &models.Transaction{
		UserID:      user.ID,
		Amount:      amount,
		Type:        models.TypeDeposit,
		Status:      models.StatusCompleted,
		Description: description,
		Reference:   reference,
	}
	_, newBalance, err := s.transactionRepo.Apply(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger apply failed")
		slog.Error("deposit failed", "user_id", user.ID, "amount", amount, "error", err)
		return nil, err
	}

	s.publishLedgerEvent(user.ID, tx)

	slog.Info("deposit completed",
		"user_id", user.ID,
		"amount", amount,
		"new_balance", newBalance,
		"reference", reference)
	return &DepositResult{NewBalance: newBalance, Transaction: tx}, nil
}

func (s *walletService) Balance(ctx context.Context, externalID string) (*models.User, error) {
	return s.userRepo.GetByExternalID(ctx, externalID)
}

func (s *walletService) History(ctx context.Context, externalID string) ([]models.Transaction, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()

	user, err := s.userRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	transactions, err := s.transactionRepo.HistoryByUser(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get transaction history", "user_id", user.ID, "error", err)
		return nil, err
	}
	return transactions, nil
}

// publishLedgerEvent mirrors completed entries onto the transactions topic.
// Delivery is best-effort: the ledger row already committed.
func (s *walletService) publishLedgerEvent(userID int32, tx *models.Transaction) {
	event := map[string]interface{}{
		"user_id":    userID,
		"amount":     tx.Amount,
		"type":       tx.Type,
		"status":     tx.Status,
		"reference":  tx.Reference,
		"created_at": tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal ledger event", "transaction_id", tx.ID, "error", err)
		return
	}
	go func() {
		if err := s.producer.Send(context.Background(), "transactions", int64(tx.ID), eventBytes); err != nil {
			slog.Error("failed to publish ledger event", "transaction_id", tx.ID, "error", err)
		}
	}()
}
