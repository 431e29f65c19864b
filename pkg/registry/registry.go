// Package registry answers whether a (device, credential) pair is authorized
// to publish telemetry.
package registry

import (
	"context"
	"time"

	"github.com/gridsense/gridsense/pkg/logger"
)

// DeviceStore is the storage lookup the client delegates to.
type DeviceStore interface {
	DeviceCredentialsMatch(ctx context.Context, deviceID, apiKey string) (bool, error)
}

// Authorizer is what the ingestion listener depends on.
type Authorizer interface {
	Authorize(ctx context.Context, deviceID, apiKey string) bool
}

const defaultTimeout = 5 * time.Second

// Client authorizes devices against the authoritative store. Lookups are
// bounded by a timeout and fail closed: an unreachable store denies the
// message rather than crashing or blocking the listener.
type Client struct {
	store   DeviceStore
	timeout time.Duration
	logger  logger.Logger
}

func NewClient(store DeviceStore, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{store: store, timeout: timeout, logger: log}
}

// Authorize reports whether an authorized device exists with exactly this
// (device_id, plaintext key) pair. Unknown device and wrong credential are
// indistinguishable to the caller. Store errors are logged here and treated
// as a denial; the next message retries naturally.
func (c *Client) Authorize(ctx context.Context, deviceID, apiKey string) bool {
	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ok, err := c.store.DeviceCredentialsMatch(lookupCtx, deviceID, apiKey)
	if err != nil {
		c.logger.Error().Err(err).Str("device_id", deviceID).Msg("device registry lookup failed")
		return false
	}

	return ok
}

var _ Authorizer = (*Client)(nil)
