package models

import "time"

// ActivationStatus is reported by the provider. Treated as an opaque string with
// known semantics; unknown values are carried through untouched.
type ActivationStatus string

const (
	ActivationPending   ActivationStatus = "PENDING"
	ActivationReceived  ActivationStatus = "RECEIVED"
	ActivationCompleted ActivationStatus = "COMPLETED"
	ActivationCanceled  ActivationStatus = "CANCELED"
	ActivationBanned    ActivationStatus = "BANNED"
)

// Terminal reports whether the status admits no further transitions.
func (s ActivationStatus) Terminal() bool {
	switch s {
	case ActivationCompleted, ActivationCanceled, ActivationBanned:
		return true
	}
	return false
}

// Activation is one rented phone number session. The provider-assigned ID is
// authoritative; local rows only mirror it for history queries.
type Activation struct {
	ID        int64            `json:"id"`
	UserID    int32            `json:"user_id,omitempty"`
	Phone     string           `json:"phone"`
	Operator  string           `json:"operator"`
	Product   string           `json:"product"`
	Country   string           `json:"country"`
	Price     float64          `json:"price"`
	Status    ActivationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	Expires   time.Time        `json:"expires"`
	SMS       []SMSMessage     `json:"sms"`
}

// HasSMS reports whether at least one message arrived. Destructive transitions
// (cancel, ban) are disallowed once this is true.
func (a *Activation) HasSMS() bool {
	return len(a.SMS) > 0
}

// SMSMessage is one inbound message delivered to an activation. Ordering is
// provider-assigned, newest first.
type SMSMessage struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Date      time.Time `json:"date"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Code      string    `json:"code,omitempty"`
}
