package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gridsense/gridsense/pkg/logger"
	"github.com/gridsense/gridsense/pkg/models"
	"github.com/gridsense/gridsense/pkg/registry"
)

// TelemetrySubject is the wildcard subject devices publish to. The middle
// token is the device id.
const TelemetrySubject = "devices.*.data"

// Decrypter recovers the plaintext API key from the credential token carried
// in each payload.
type Decrypter interface {
	Decrypt(token string) (string, error)
}

// Mirror receives every accepted reading for the real-time view.
type Mirror interface {
	Append(ctx context.Context, deviceID string, reading *models.Reading) error
}

type job struct {
	deviceID string
	token    string
	data     map[string]interface{}
}

// Listener subscribes to the telemetry subject and validates messages on a
// bounded worker pool. A slow cycle backs up into the subscription channel
// instead of spawning one goroutine per message.
type Listener struct {
	conn    *nats.Conn
	cipher  Decrypter
	auth    registry.Authorizer
	mirror  Mirror
	buffer  *Buffer
	workers int
	logger  logger.Logger

	// mu serializes Start and Stop and guards started.
	mu      sync.Mutex
	sub     *nats.Subscription
	msgCh   chan *nats.Msg
	jobs    chan job
	quit    chan struct{}
	baseCtx context.Context
	wg      sync.WaitGroup
	started bool
}

func NewListener(
	conn *nats.Conn,
	cipher Decrypter,
	auth registry.Authorizer,
	m Mirror,
	buffer *Buffer,
	workers int,
	log logger.Logger,
) *Listener {
	return &Listener{
		conn:    conn,
		cipher:  cipher,
		auth:    auth,
		mirror:  m,
		buffer:  buffer,
		workers: workers,
		logger:  log,
	}
}

// Start subscribes and launches the worker pool. ctx bounds the processing
// of individual messages, not the subscription lifetime; call Stop to
// unsubscribe.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return ErrListenerStarted
	}

	l.baseCtx = ctx
	l.msgCh = make(chan *nats.Msg, l.workers*4)
	l.jobs = make(chan job, l.workers)
	l.quit = make(chan struct{})

	sub, err := l.conn.ChanSubscribe(TelemetrySubject, l.msgCh)
	if err != nil {
		return err
	}

	l.sub = sub
	l.started = true

	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)

		go func() {
			defer l.wg.Done()

			for j := range l.jobs {
				l.process(j)
			}
		}()
	}

	l.wg.Add(1)

	go l.dispatch()

	l.logger.Info().
		Str("subject", TelemetrySubject).
		Int("workers", l.workers).
		Msg("telemetry listener started")

	return nil
}

// Stop unsubscribes and waits for in-flight messages to finish processing.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	err := l.sub.Unsubscribe()

	close(l.quit)
	l.wg.Wait()
	l.started = false

	return err
}

// dispatch decodes incoming messages and hands valid ones to the pool. It is
// the only sender on l.jobs, so it alone closes the channel.
func (l *Listener) dispatch() {
	defer l.wg.Done()
	defer close(l.jobs)

	for {
		select {
		case <-l.quit:
			return
		case msg := <-l.msgCh:
			j, ok := l.decode(msg)
			if !ok {
				continue
			}

			select {
			case l.jobs <- j:
			case <-l.quit:
				return
			}
		}
	}
}

// decode extracts the device id from the subject and the credential and data
// from the payload. Malformed messages are dropped here with no side effects
// beyond a log line.
func (l *Listener) decode(msg *nats.Msg) (job, bool) {
	deviceID, ok := deviceIDFromSubject(msg.Subject)
	if !ok {
		l.logger.Warn().Str("subject", msg.Subject).Msg("dropping message with malformed subject")
		return job{}, false
	}

	var envelope models.TelemetryEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		l.logger.Warn().Err(ErrMalformedPayload).Str("device_id", deviceID).Msg("dropping payload")
		return job{}, false
	}

	if envelope.APIKey == "" {
		l.logger.Debug().Err(ErrMissingAPIKey).Str("device_id", deviceID).Msg("dropping payload")
		return job{}, false
	}

	return job{deviceID: deviceID, token: envelope.APIKey, data: envelope.Data}, true
}

// process runs the accept path for one message: decrypt, authorize, mirror,
// buffer. Any validation failure drops the message without touching the
// mirror or the buffer.
func (l *Listener) process(j job) {
	apiKey, err := l.cipher.Decrypt(j.token)
	if err != nil {
		l.logger.Warn().Err(err).Str("device_id", j.deviceID).Msg("rejecting undecryptable credential")
		return
	}

	if !l.auth.Authorize(l.baseCtx, j.deviceID, apiKey) {
		l.logger.Warn().Err(ErrNotAuthorized).Str("device_id", j.deviceID).Msg("rejecting message")
		return
	}

	reading := &models.Reading{
		DeviceID:  j.deviceID,
		Timestamp: time.Now().UTC(),
		Data:      j.data,
	}

	// The mirror is best effort: a stream hiccup must not cost the durable
	// copy of the reading.
	if err := l.mirror.Append(l.baseCtx, j.deviceID, reading); err != nil {
		l.logger.Error().Err(err).Str("device_id", j.deviceID).Msg("failed to append to mirror")
	}

	l.buffer.Enqueue(j.deviceID, reading)
}

func deviceIDFromSubject(subject string) (string, bool) {
	tokens := strings.Split(subject, ".")
	if len(tokens) != 3 || tokens[0] != "devices" || tokens[2] != "data" || tokens[1] == "" {
		return "", false
	}

	return tokens[1], true
}
