package models

import "time"

type Transaction struct {
	ID           int32             `json:"id"`
	UserID       int32             `json:"user_id"`
	Amount       float64           `json:"amount"`
	Type         TransactionType   `json:"type"`
	Status       TransactionStatus `json:"status"`
	Description  string            `json:"description,omitempty"`
	Reference    string            `json:"reference,omitempty"`
	ActivationID *int64            `json:"activation_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypePurchase   TransactionType = "PURCHASE"
	TypeRefund     TransactionType = "REFUND"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// Signed returns the amount with the sign the ledger sums by: deposits and
// refunds credit, withdrawals and purchases debit.
func (t *Transaction) Signed() float64 {
	switch t.Type {
	case TypeWithdrawal, TypePurchase:
		return -t.Amount
	}
	return t.Amount
}

func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypePurchase, TypeRefund:
		return true
	}
	return false
}

func ValidTransactionStatus(s TransactionStatus) bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
