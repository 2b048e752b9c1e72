package models

import "time"

// User is the local mirror of an external identity provider record. Balance is
// a cached projection over COMPLETED transactions, never written directly.
type User struct {
	ID         int32     `json:"id"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email"`
	Username   string    `json:"username,omitempty"`
	Name       string    `json:"name,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	Balance    float64   `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
}
