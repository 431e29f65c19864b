package models

import (
	"time"
)

// Reading is a single accepted telemetry sample. The timestamp is assigned by
// the collector when the message is accepted, never taken from the device.
// A Reading is immutable once accepted.
type Reading struct {
	DeviceID  string                 `json:"device_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// TelemetryEnvelope is the wire payload published by devices on
// devices.<device_id>.data. APIKey carries the encrypted credential.
type TelemetryEnvelope struct {
	APIKey string                 `json:"api_key"`
	Data   map[string]interface{} `json:"data"`
}
