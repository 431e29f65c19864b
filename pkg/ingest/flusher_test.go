package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsense/gridsense/pkg/logger"
	"github.com/gridsense/gridsense/pkg/models"
)

var errWriterDown = errors.New("writer down")

type captureWriter struct {
	mu      sync.Mutex
	batches [][]*models.Reading
	err     error
}

func (w *captureWriter) InsertReadings(_ context.Context, readings []*models.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		err := w.err
		w.err = nil

		return err
	}

	w.batches = append(w.batches, readings)

	return nil
}

func (w *captureWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.batches)
}

func (w *captureWriter) batch(i int) []*models.Reading {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.batches[i]
}

func TestRunCycleHonorsThreshold(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	w := &captureWriter{}
	f := NewFlusher(b, w, 100, time.Minute, time.Second, logger.NewTestLogger())

	for i := 0; i < 99; i++ {
		b.Enqueue("sensor-1", newReading("sensor-1", i))
	}

	f.runCycle(context.Background())
	assert.Zero(t, w.batchCount(), "99 readings stay buffered below a threshold of 100")
	assert.Equal(t, 99, b.Len("sensor-1"))

	b.Enqueue("sensor-1", newReading("sensor-1", 99))
	f.runCycle(context.Background())

	require.Equal(t, 1, w.batchCount())

	batch := w.batch(0)
	require.Len(t, batch, 100)

	for i, r := range batch {
		assert.Equal(t, i, r.Data["seq"])
	}

	assert.Zero(t, b.Len("sensor-1"))
}

func TestRunCycleKeepsDevicesIndependent(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	w := &captureWriter{err: errWriterDown}
	f := NewFlusher(b, w, 1, time.Minute, time.Second, logger.NewTestLogger())

	b.Enqueue("sensor-1", newReading("sensor-1", 0))
	b.Enqueue("sensor-2", newReading("sensor-2", 0))

	f.runCycle(context.Background())

	// One device's write failed; the other's still landed.
	require.Equal(t, 1, w.batchCount())
	assert.Zero(t, b.Len("sensor-1"))
	assert.Zero(t, b.Len("sensor-2"))
}

func TestRunFlushesOnInterval(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBuffer(0)
	w := &captureWriter{}
	f := NewFlusher(b, w, 3, 10*time.Millisecond, time.Second, logger.NewTestLogger())

	for i := 0; i < 3; i++ {
		b.Enqueue("sensor-1", newReading("sensor-1", i))
	}

	go f.Run(ctx)

	require.Eventually(t, func() bool {
		return w.batchCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Len(t, w.batch(0), 3)
	assert.Zero(t, b.Len("sensor-1"))
}

func TestFailedWriteDiscardsBatch(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	w := &captureWriter{err: errWriterDown}
	f := NewFlusher(b, w, 1, time.Minute, time.Second, logger.NewTestLogger())

	b.Enqueue("sensor-1", newReading("sensor-1", 0))
	f.runCycle(context.Background())

	assert.Zero(t, w.batchCount())
	assert.Zero(t, b.Len("sensor-1"), "a failed batch is discarded, not requeued")

	// The next batch goes through.
	b.Enqueue("sensor-1", newReading("sensor-1", 1))
	f.runCycle(context.Background())

	require.Equal(t, 1, w.batchCount())
	assert.Equal(t, 1, w.batch(0)[0].Data["seq"])
}

func TestRunDrainsEverythingOnShutdown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuffer(0)
	w := &captureWriter{}
	f := NewFlusher(b, w, 100, time.Minute, time.Second, logger.NewTestLogger())

	// Both devices are far below the threshold; the shutdown pass writes
	// them anyway.
	b.Enqueue("sensor-1", newReading("sensor-1", 0))
	b.Enqueue("sensor-2", newReading("sensor-2", 0))

	f.Run(ctx)

	assert.Equal(t, 2, w.batchCount())
	assert.Zero(t, b.Len("sensor-1"))
	assert.Zero(t, b.Len("sensor-2"))
}
