package ingest

import (
	"context"
	"time"

	"github.com/gridsense/gridsense/pkg/db"
	"github.com/gridsense/gridsense/pkg/logger"
	"github.com/gridsense/gridsense/pkg/models"
)

// Flusher periodically drains device queues that have reached the batch
// threshold and writes each batch as one multi-record insert. A failed write
// is logged and the batch is discarded so one bad cycle cannot wedge the
// pipeline.
type Flusher struct {
	buffer       *Buffer
	writer       db.ReadingWriter
	threshold    int
	interval     time.Duration
	writeTimeout time.Duration
	logger       logger.Logger
}

func NewFlusher(buffer *Buffer, writer db.ReadingWriter, threshold int, interval, writeTimeout time.Duration, log logger.Logger) *Flusher {
	return &Flusher{
		buffer:       buffer,
		writer:       writer,
		threshold:    threshold,
		interval:     interval,
		writeTimeout: writeTimeout,
		logger:       log,
	}
}

// Run drives the flush loop until ctx is canceled, then performs one final
// unconditional drain of everything still queued so a clean shutdown loses
// nothing.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.finalFlush()
			return
		case <-ticker.C:
			f.runCycle(ctx)
		}
	}
}

// runCycle visits every known device once. Only queues at or above the batch
// threshold are drained; partial batches keep accumulating. One device's
// write failure never blocks the others.
func (f *Flusher) runCycle(ctx context.Context) {
	for _, deviceID := range f.buffer.DeviceIDs() {
		batch := f.buffer.DrainIfReady(deviceID, f.threshold)
		if len(batch) == 0 {
			continue
		}

		f.write(ctx, deviceID, batch)
	}

	f.buffer.EndCycle()
}

func (f *Flusher) write(ctx context.Context, deviceID string, batch []*models.Reading) {
	writeCtx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()

	if err := f.writer.InsertReadings(writeCtx, batch); err != nil {
		f.logger.Error().
			Err(err).
			Str("device_id", deviceID).
			Int("batch_size", len(batch)).
			Msg("failed to flush batch, discarding")

		return
	}

	f.logger.Debug().
		Str("device_id", deviceID).
		Int("batch_size", len(batch)).
		Msg("flushed batch")
}

// finalFlush runs after the loop's context is canceled, so it uses a fresh
// deadline for the remaining writes. The threshold does not apply here.
func (f *Flusher) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), f.writeTimeout)
	defer cancel()

	for _, deviceID := range f.buffer.DeviceIDs() {
		batch := f.buffer.Drain(deviceID)
		if len(batch) == 0 {
			continue
		}

		if err := f.writer.InsertReadings(ctx, batch); err != nil {
			f.logger.Error().
				Err(err).
				Str("device_id", deviceID).
				Int("batch_size", len(batch)).
				Msg("failed to flush batch during shutdown")
		}
	}
}
