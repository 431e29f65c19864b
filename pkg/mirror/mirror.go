// Package mirror maintains the bounded real-time view of accepted readings.
// Each device maps to one subject in a JetStream stream capped per subject,
// so the server evicts the oldest entry atomically as part of every append.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/gridsense/gridsense/pkg/models"
)

const (
	// DefaultStreamName is the JetStream stream backing the mirror.
	DefaultStreamName = "TELEMETRY"

	subjectPrefix = "telemetry.device."

	// DefaultMaxPerDevice bounds the retained history at the last 10k
	// readings per device.
	DefaultMaxPerDevice = 10000
)

var ErrCapRequired = errors.New("mirror cap must be positive")

// StreamMirror appends accepted readings to the capped per-device stream.
type StreamMirror struct {
	js     jetstream.JetStream
	stream string
}

// New creates (or updates) the mirror stream and returns a StreamMirror
// publishing to it. maxPerDevice bounds the retained entries per device;
// DiscardOld drops the oldest entry first.
func New(ctx context.Context, nc *nats.Conn, streamName string, maxPerDevice int64) (*StreamMirror, error) {
	if maxPerDevice <= 0 {
		return nil, ErrCapRequired
	}

	if streamName == "" {
		streamName = DefaultStreamName
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              streamName,
		Subjects:          []string{subjectPrefix + "*"},
		MaxMsgsPerSubject: maxPerDevice,
		Discard:           jetstream.DiscardOld,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror stream %s: %w", streamName, err)
	}

	return &StreamMirror{js: js, stream: streamName}, nil
}

// Append publishes one reading to the device's subject. The per-subject cap
// makes append-plus-evict a single server-side operation: no consumer ever
// observes more than the configured number of entries for a device.
func (m *StreamMirror) Append(ctx context.Context, deviceID string, reading *models.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	if _, err := m.js.Publish(ctx, subjectPrefix+deviceID, payload); err != nil {
		return fmt.Errorf("failed to append to mirror: %w", err)
	}

	return nil
}
