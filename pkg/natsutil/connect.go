// Package natsutil holds shared NATS connection helpers.
package natsutil

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gridsense/gridsense/pkg/logger"
)

const (
	defaultReconnectWait   = 2 * time.Second
	defaultReconnectJitter = 500 * time.Millisecond
)

// Connect dials NATS with unlimited reconnects and jittered backoff, logging
// connection state transitions. Subscriptions are restored by the client on
// reconnect.
func Connect(url, name string, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(defaultReconnectWait),
		nats.ReconnectJitter(defaultReconnectJitter, defaultReconnectJitter),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			event := log.Error().Err(err)
			if sub != nil {
				event = event.Str("subject", sub.Subject)
			}

			event.Msg("NATS async error")
		}),
	}

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, nil
}
