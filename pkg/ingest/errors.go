package ingest

import "errors"

var (
	ErrMissingNATSURL      = errors.New("nats_url is required")
	ErrMissingDatabaseURL  = errors.New("database_url is required")
	ErrMissingAPIKeySecret = errors.New("api_key_secret is required")

	// ErrMissingAPIKey marks a payload without a credential; the message is
	// dropped before any registry lookup happens.
	ErrMissingAPIKey = errors.New("payload has no api_key")

	ErrMalformedPayload = errors.New("malformed telemetry payload")
	ErrNotAuthorized    = errors.New("device not authorized")

	ErrListenerStarted = errors.New("listener already started")
)
