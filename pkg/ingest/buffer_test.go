package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsense/gridsense/pkg/models"
)

func newReading(deviceID string, seq int) *models.Reading {
	return &models.Reading{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"seq": seq},
	}
}

func TestDrainIfReadyBelowThreshold(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	b.Enqueue("sensor-1", newReading("sensor-1", 0))

	assert.Nil(t, b.DrainIfReady("sensor-1", 2))
	assert.Equal(t, 1, b.Len("sensor-1"), "a below-threshold drain must leave the queue untouched")
}

func TestDrainIfReadyAtThreshold(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	for i := 0; i < 3; i++ {
		b.Enqueue("sensor-1", newReading("sensor-1", i))
	}

	batch := b.DrainIfReady("sensor-1", 3)
	require.Len(t, batch, 3)

	for i, r := range batch {
		assert.Equal(t, i, r.Data["seq"], "batch must preserve arrival order")
	}

	assert.Zero(t, b.Len("sensor-1"))
}

func TestDrainIfReadyUnknownDevice(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	assert.Nil(t, b.DrainIfReady("sensor-1", 1))
}

func TestDrainReturnsEverythingOnce(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	b.Enqueue("sensor-1", newReading("sensor-1", 0))
	b.Enqueue("sensor-1", newReading("sensor-1", 1))

	assert.Len(t, b.Drain("sensor-1"), 2)
	assert.Nil(t, b.Drain("sensor-1"))
}

func TestDevicesAreIsolated(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0)
	b.Enqueue("sensor-1", newReading("sensor-1", 0))
	b.Enqueue("sensor-2", newReading("sensor-2", 0))

	batch := b.Drain("sensor-1")
	require.Len(t, batch, 1)
	assert.Equal(t, "sensor-1", batch[0].DeviceID)
	assert.Equal(t, 1, b.Len("sensor-2"))
}

func TestConcurrentEnqueueAndDrainLosesNothing(t *testing.T) {
	t.Parallel()

	const (
		producers       = 8
		perProducer     = 500
		drainGoroutines = 4
	)

	b := NewBuffer(0)

	var (
		collected sync.Map
		drained   sync.WaitGroup
		produced  sync.WaitGroup
		done      = make(chan struct{})
	)

	collect := func(batch []*models.Reading) {
		for _, r := range batch {
			if _, loaded := collected.LoadOrStore(r.Data["seq"], struct{}{}); loaded {
				t.Errorf("reading %v drained twice", r.Data["seq"])
			}
		}
	}

	for d := 0; d < drainGoroutines; d++ {
		drained.Add(1)

		go func() {
			defer drained.Done()

			for {
				select {
				case <-done:
					return
				default:
					collect(b.DrainIfReady("sensor-1", 10))
				}
			}
		}()
	}

	for p := 0; p < producers; p++ {
		produced.Add(1)

		go func(p int) {
			defer produced.Done()

			for i := 0; i < perProducer; i++ {
				b.Enqueue("sensor-1", newReading("sensor-1", p*perProducer+i))
			}
		}(p)
	}

	produced.Wait()
	close(done)
	drained.Wait()
	collect(b.Drain("sensor-1"))

	total := 0

	collected.Range(func(_, _ interface{}) bool {
		total++
		return true
	})

	assert.Equal(t, producers*perProducer, total)
}

func TestEndCycleReapsIdleDevices(t *testing.T) {
	t.Parallel()

	b := NewBuffer(2)
	b.Enqueue("sensor-1", newReading("sensor-1", 0))
	b.Drain("sensor-1")

	b.EndCycle()
	assert.Contains(t, b.DeviceIDs(), "sensor-1", "one idle cycle is not enough to reap")

	b.EndCycle()
	assert.Empty(t, b.DeviceIDs())
}

func TestEnqueueResetsIdleAge(t *testing.T) {
	t.Parallel()

	b := NewBuffer(2)
	b.Enqueue("sensor-1", newReading("sensor-1", 0))
	b.Drain("sensor-1")
	b.EndCycle()

	b.Enqueue("sensor-1", newReading("sensor-1", 1))
	b.Drain("sensor-1")
	b.EndCycle()

	assert.Contains(t, b.DeviceIDs(), "sensor-1")
}

func TestEndCycleKeepsNonEmptyQueues(t *testing.T) {
	t.Parallel()

	b := NewBuffer(1)
	b.Enqueue("sensor-1", newReading("sensor-1", 0))

	b.EndCycle()
	b.EndCycle()

	assert.Equal(t, 1, b.Len("sensor-1"))
}

func TestEnqueueDuringReapIsNotLost(t *testing.T) {
	t.Parallel()

	b := NewBuffer(1)

	// An enqueuer fetches the queue slot, then the reaper removes it before
	// the append runs. The removed slot must carry the dead mark so the
	// append retries against a slot the drain paths can still reach.
	stale := b.queue("sensor-1")
	b.EndCycle()

	stale.mu.Lock()
	dead := stale.reaped
	stale.mu.Unlock()
	require.True(t, dead, "a removed slot must be marked for in-flight enqueuers")

	b.Enqueue("sensor-1", newReading("sensor-1", 0))

	require.Len(t, b.Drain("sensor-1"), 1)
}

func TestConcurrentEnqueueAndReapLosesNothing(t *testing.T) {
	t.Parallel()

	const total = 2000

	b := NewBuffer(1)

	var (
		reaper sync.WaitGroup
		done   = make(chan struct{})
	)

	reaper.Add(1)

	go func() {
		defer reaper.Done()

		for {
			select {
			case <-done:
				return
			default:
				b.EndCycle()
			}
		}
	}()

	drained := 0
	for i := 0; i < total; i++ {
		b.Enqueue("sensor-1", newReading("sensor-1", i))
		drained += len(b.Drain("sensor-1"))
	}

	close(done)
	reaper.Wait()
	drained += len(b.Drain("sensor-1"))

	assert.Equal(t, total, drained)
}
