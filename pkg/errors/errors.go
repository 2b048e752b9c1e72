package errors

import (
	"errors"
)

var (
	// ErrValidation marks bad caller input caught before any network or DB call.
	ErrValidation = errors.New("validation failed")

	// ErrAuthenticationRequired marks an upstream 401 so callers can offer sign-in
	// instead of a generic failure.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrUpstream marks a provider non-2xx or a malformed success body.
	ErrUpstream = errors.New("upstream provider error")

	ErrNotFound          = errors.New("not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrNilTransaction           = errors.New("transaction is nil")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrTransactionNotFound      = errors.New("transaction not found")

	// ErrActivationHasSMS guards cancel/ban once a message arrived.
	ErrActivationHasSMS = errors.New("activation already received SMS")
	// ErrActivationNoSMS guards finish before any message arrived.
	ErrActivationNoSMS = errors.New("activation has no received SMS")

	ErrWebhookSignature = errors.New("webhook signature verification failed")
	ErrInternal         = errors.New("internal error")
)
