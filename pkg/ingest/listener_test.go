package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsense/gridsense/pkg/keycrypt"
	"github.com/gridsense/gridsense/pkg/logger"
	"github.com/gridsense/gridsense/pkg/models"
)

func runNATSServer(t *testing.T) *nats.Conn {
	t.Helper()

	opts := &server.Options{Host: "127.0.0.1", Port: -1}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		t.Fatal("embedded NATS server did not start")
	}

	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	return nc
}

type fakeAuth struct {
	mu      sync.Mutex
	allowed map[string]string
	calls   int
}

func (f *fakeAuth) Authorize(_ context.Context, deviceID, apiKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	return f.allowed[deviceID] == apiKey
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeMirror struct {
	mu      sync.Mutex
	appends []*models.Reading
}

func (f *fakeMirror) Append(_ context.Context, _ string, reading *models.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.appends = append(f.appends, reading)

	return nil
}

func (f *fakeMirror) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.appends)
}

type listenerHarness struct {
	conn   *nats.Conn
	cipher *keycrypt.Cipher
	auth   *fakeAuth
	mirror *fakeMirror
	buffer *Buffer
}

// newListenerHarness wires a single-worker listener against an embedded NATS
// server. One worker keeps message processing sequential, so a later message
// acting as a sentinel proves earlier ones were fully handled.
func newListenerHarness(t *testing.T) *listenerHarness {
	t.Helper()

	cipher, err := keycrypt.New("test-secret")
	require.NoError(t, err)

	h := &listenerHarness{
		conn:   runNATSServer(t),
		cipher: cipher,
		auth:   &fakeAuth{allowed: map[string]string{"sensor-1": "good-key"}},
		mirror: &fakeMirror{},
		buffer: NewBuffer(0),
	}

	listener := NewListener(h.conn, cipher, h.auth, h.mirror, h.buffer, 1, logger.NewTestLogger())

	require.NoError(t, listener.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, listener.Stop()) })

	return h
}

func (h *listenerHarness) publish(t *testing.T, subject string, payload interface{}) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	require.NoError(t, h.conn.Publish(subject, data))
	require.NoError(t, h.conn.Flush())
}

func (h *listenerHarness) publishValid(t *testing.T) {
	t.Helper()

	token, err := h.cipher.Encrypt("good-key")
	require.NoError(t, err)

	h.publish(t, "devices.sensor-1.data", models.TelemetryEnvelope{
		APIKey: token,
		Data:   map[string]interface{}{"temp": 21.5},
	})
}

func (h *listenerHarness) waitForBufferLen(t *testing.T, deviceID string, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return h.buffer.Len(deviceID) == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestListenerAcceptsAuthorizedReading(t *testing.T) {
	h := newListenerHarness(t)

	h.publishValid(t)
	h.waitForBufferLen(t, "sensor-1", 1)

	batch := h.buffer.Drain("sensor-1")
	require.Len(t, batch, 1)
	assert.Equal(t, "sensor-1", batch[0].DeviceID)
	assert.Equal(t, 21.5, batch[0].Data["temp"])
	assert.False(t, batch[0].Timestamp.IsZero())

	assert.Equal(t, 1, h.mirror.appendCount())
}

func TestListenerPreservesArrivalOrder(t *testing.T) {
	h := newListenerHarness(t)

	token, err := h.cipher.Encrypt("good-key")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		h.publish(t, "devices.sensor-1.data", models.TelemetryEnvelope{
			APIKey: token,
			Data:   map[string]interface{}{"seq": i},
		})
	}

	h.waitForBufferLen(t, "sensor-1", 5)

	batch := h.buffer.Drain("sensor-1")
	for i, r := range batch {
		assert.Equal(t, float64(i), r.Data["seq"])
	}
}

func TestListenerDropsPayloadWithoutAPIKey(t *testing.T) {
	h := newListenerHarness(t)

	h.publish(t, "devices.sensor-1.data", map[string]interface{}{
		"data": map[string]interface{}{"temp": 21.5},
	})
	h.publishValid(t)

	h.waitForBufferLen(t, "sensor-1", 1)

	// Only the sentinel reached the registry; the keyless payload caused no
	// lookup and no mirror append.
	assert.Equal(t, 1, h.auth.callCount())
	assert.Equal(t, 1, h.mirror.appendCount())
}

func TestListenerDropsUndecryptableCredential(t *testing.T) {
	h := newListenerHarness(t)

	h.publish(t, "devices.sensor-1.data", models.TelemetryEnvelope{
		APIKey: "not-a-valid-token",
		Data:   map[string]interface{}{"temp": 21.5},
	})
	h.publishValid(t)

	h.waitForBufferLen(t, "sensor-1", 1)

	assert.Equal(t, 1, h.auth.callCount())
	assert.Equal(t, 1, h.mirror.appendCount())
}

func TestListenerDropsUnauthorizedDevice(t *testing.T) {
	h := newListenerHarness(t)

	token, err := h.cipher.Encrypt("wrong-key")
	require.NoError(t, err)

	h.publish(t, "devices.sensor-1.data", models.TelemetryEnvelope{
		APIKey: token,
		Data:   map[string]interface{}{"temp": 21.5},
	})
	h.publishValid(t)

	h.waitForBufferLen(t, "sensor-1", 1)

	assert.Equal(t, 2, h.auth.callCount())
	assert.Equal(t, 1, h.mirror.appendCount(), "the rejected reading never reached the mirror")
}

func TestListenerDropsUndecodablePayload(t *testing.T) {
	h := newListenerHarness(t)

	require.NoError(t, h.conn.Publish("devices.sensor-1.data", []byte("not json")))
	require.NoError(t, h.conn.Flush())
	h.publishValid(t)

	h.waitForBufferLen(t, "sensor-1", 1)

	assert.Equal(t, 1, h.auth.callCount())
}

func TestListenerStartTwice(t *testing.T) {
	nc := runNATSServer(t)

	cipher, err := keycrypt.New("test-secret")
	require.NoError(t, err)

	l := NewListener(nc, cipher, &fakeAuth{}, &fakeMirror{}, NewBuffer(0), 1, logger.NewTestLogger())

	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, l.Stop()) })

	require.ErrorIs(t, l.Start(context.Background()), ErrListenerStarted)
}

func TestListenerConcurrentStart(t *testing.T) {
	nc := runNATSServer(t)

	cipher, err := keycrypt.New("test-secret")
	require.NoError(t, err)

	l := NewListener(nc, cipher, &fakeAuth{}, &fakeMirror{}, NewBuffer(0), 1, logger.NewTestLogger())
	t.Cleanup(func() { require.NoError(t, l.Stop()) })

	errs := make(chan error, 2)

	for i := 0; i < 2; i++ {
		go func() {
			errs <- l.Start(context.Background())
		}()
	}

	first, second := <-errs, <-errs

	// Exactly one racing Start wins; the other observes the started state.
	if first == nil {
		require.ErrorIs(t, second, ErrListenerStarted)
	} else {
		require.ErrorIs(t, first, ErrListenerStarted)
		require.NoError(t, second)
	}
}

func TestDeviceIDFromSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"devices.sensor-1.data", "sensor-1", true},
		{"devices..data", "", false},
		{"devices.sensor-1.status", "", false},
		{"telemetry.sensor-1.data", "", false},
		{"devices.sensor-1", "", false},
		{"devices.a.b.data", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.subject, func(t *testing.T) {
			t.Parallel()

			got, ok := deviceIDFromSubject(tc.subject)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
