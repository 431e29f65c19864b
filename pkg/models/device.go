package models

import (
	"time"
)

// Device is an authorized field unit. APIKey holds the plaintext secret the
// device must present (after decryption) to have telemetry accepted.
type Device struct {
	DeviceID  string    `json:"device_id"`
	APIKey    string    `json:"-"`
	Name      string    `json:"name,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
