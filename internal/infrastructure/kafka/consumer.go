package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/lunovey/simshop/internal/models"
	"github.com/lunovey/simshop/internal/repository"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// ActivationEvent is published when an activation reaches a terminal status.
type ActivationEvent struct {
	UserID       int32                   `json:"user_id"`
	ActivationID int64                   `json:"activation_id"`
	Status       models.ActivationStatus `json:"status"`
	Price        float64                 `json:"price"`
	CreatedAt    string                  `json:"created_at"`
}

// Consumer reconciles the ledger with terminal activation events: a canceled
// activation whose purchase was already charged gets a compensating REFUND.
type Consumer struct {
	reader          *kafka.Reader
	transactionRepo repository.TransactionRepository
}

func NewConsumer(brokers []string, topic, groupID string, transactionRepo repository.TransactionRepository) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		transactionRepo: transactionRepo,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event ActivationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal activation event", "error", err)
			continue
		}

		if err := c.reconcile(ctx, event); err != nil {
			slog.Error("failed to reconcile activation event",
				"activation_id", event.ActivationID,
				"status", event.Status,
				"error", err)
			continue
		}
	}
}

func (c *Consumer) reconcile(ctx context.Context, event ActivationEvent) error {
	// Only cancellations are money-relevant: completed and banned activations
	// keep their purchase charge.
	if event.Status != models.ActivationCanceled {
		return nil
	}

	purchase, err := c.transactionRepo.FindByActivation(ctx, event.ActivationID, models.TypePurchase)
	if errors.Is(err, pkgerrors.ErrTransactionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if purchase.Status != models.StatusCompleted {
		return nil
	}

	// Idempotent: a replayed event must not refund twice.
	if _, err := c.transactionRepo.FindByActivation(ctx, event.ActivationID, models.TypeRefund); err == nil {
		slog.Debug("refund already recorded", "activation_id", event.ActivationID)
		return nil
	} else if !errors.Is(err, pkgerrors.ErrTransactionNotFound) {
		return err
	}

	activationID := event.ActivationID
	refund := &models.Transaction{
		UserID:       purchase.UserID,
		Amount:       purchase.Amount,
		Type:         models.TypeRefund,
		Status:       models.StatusCompleted,
		Description:  "Refund for canceled activation",
		ActivationID: &activationID,
	}
	if _, _, err := c.transactionRepo.Apply(ctx, refund); err != nil {
		return err
	}

	slog.Info("refund applied",
		"user_id", purchase.UserID,
		"activation_id", event.ActivationID,
		"amount", purchase.Amount)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
