package models

import (
	"time"
)

// Client is an API consumer issued a credential by the key manager. The
// stored APIKey is always the encrypted token; the plaintext key is returned
// to the caller exactly once at creation time.
type Client struct {
	ClientID    string    `json:"client_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	APIKey      string    `json:"api_key"`
	KeyHash     string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Description string    `json:"description,omitempty"`
}
