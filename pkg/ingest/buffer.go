package ingest

import (
	"sync"

	"github.com/gridsense/gridsense/pkg/models"
)

// Buffer holds accepted readings grouped per device until a flush cycle
// drains them. Enqueue and drain never block each other across devices.
type Buffer struct {
	mu      sync.RWMutex
	queues  map[string]*deviceQueue
	reapAge int
}

type deviceQueue struct {
	mu       sync.Mutex
	readings []*models.Reading

	// idleCycles counts consecutive flush cycles that found the queue empty.
	idleCycles int

	// reaped marks a queue removed from the map. A writer that fetched the
	// queue before the reap must not append to it: no drain path can reach
	// a reaped queue.
	reaped bool
}

// NewBuffer returns an empty buffer. reapAge is the number of consecutive
// empty flush cycles after which a device's queue slot is removed; zero or
// negative disables reaping.
func NewBuffer(reapAge int) *Buffer {
	return &Buffer{
		queues:  make(map[string]*deviceQueue),
		reapAge: reapAge,
	}
}

// Enqueue appends a reading to the device's queue, creating the queue on
// first use. If the idle reaper removed the queue between the map lookup and
// the append, the lookup is retried so the reading always lands in a live
// queue.
func (b *Buffer) Enqueue(deviceID string, reading *models.Reading) {
	for {
		q := b.queue(deviceID)

		q.mu.Lock()
		if q.reaped {
			q.mu.Unlock()
			continue
		}

		q.readings = append(q.readings, reading)
		q.idleCycles = 0
		q.mu.Unlock()

		return
	}
}

// DrainIfReady atomically removes and returns the device's readings if at
// least threshold of them are queued, in arrival order. Below the threshold
// it returns nil and leaves the queue untouched.
func (b *Buffer) DrainIfReady(deviceID string, threshold int) []*models.Reading {
	b.mu.RLock()
	q, ok := b.queues[deviceID]
	b.mu.RUnlock()

	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.readings) < threshold {
		return nil
	}

	return q.take()
}

// Drain removes and returns all queued readings for the device, in arrival
// order.
func (b *Buffer) Drain(deviceID string) []*models.Reading {
	b.mu.RLock()
	q, ok := b.queues[deviceID]
	b.mu.RUnlock()

	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.take()
}

// DeviceIDs snapshots the devices that currently have a queue slot.
func (b *Buffer) DeviceIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.queues))
	for id := range b.queues {
		ids = append(ids, id)
	}

	return ids
}

// Len reports the number of queued readings for a device.
func (b *Buffer) Len(deviceID string) int {
	b.mu.RLock()
	q, ok := b.queues[deviceID]
	b.mu.RUnlock()

	if !ok {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.readings)
}

// EndCycle is called once per flush cycle after all devices were visited. It
// ages empty queues and removes slots that stayed empty for reapAge cycles,
// so devices that went quiet do not grow the map forever.
func (b *Buffer) EndCycle() {
	if b.reapAge <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, q := range b.queues {
		q.mu.Lock()
		if len(q.readings) == 0 {
			q.idleCycles++

			if q.idleCycles >= b.reapAge {
				// The dead mark and the map removal happen under q.mu, so
				// any writer still holding this queue observes the mark.
				q.reaped = true

				delete(b.queues, id)
			}
		}
		q.mu.Unlock()
	}
}

func (b *Buffer) queue(deviceID string) *deviceQueue {
	b.mu.RLock()
	q, ok := b.queues[deviceID]
	b.mu.RUnlock()

	if ok {
		return q
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok = b.queues[deviceID]; ok {
		return q
	}

	q = &deviceQueue{}
	b.queues[deviceID] = q

	return q
}

// take hands the caller the queued slice and resets the queue. Callers must
// hold q.mu.
func (q *deviceQueue) take() []*models.Reading {
	if len(q.readings) == 0 {
		return nil
	}

	out := q.readings
	q.readings = nil
	q.idleCycles = 0

	return out
}
