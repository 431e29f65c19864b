package ingest

import (
	"errors"
	"time"

	"github.com/gridsense/gridsense/pkg/mirror"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultMaxWorkers    = 64
	defaultAuthTimeout   = 5 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	// defaultIdleReapCycles bounds how long an inactive device keeps its empty
	// buffer slot: one minute at the default flush interval.
	defaultIdleReapCycles = 12
)

// Config holds the collector configuration, loaded from the environment.
type Config struct {
	NATSURL      string `json:"nats_url"`
	DatabaseURL  string `json:"database_url"`
	APIKeySecret string `json:"api_key_secret"`

	// StreamURL optionally points the mirror at a different NATS cluster;
	// empty means the transport connection is reused.
	StreamURL          string `json:"stream_url"`
	StreamName         string `json:"stream_name"`
	StreamMaxPerDevice int64  `json:"stream_max_per_device"`

	BatchSize      int           `json:"batch_size"`
	FlushInterval  time.Duration `json:"flush_interval"`
	MaxWorkers     int           `json:"max_workers"`
	IdleReapCycles int           `json:"idle_reap_cycles"`
	AuthTimeout    time.Duration `json:"auth_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// Validate checks required fields. Missing transport, storage, or cipher
// configuration is fatal at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.NATSURL == "" {
		errs = append(errs, ErrMissingNATSURL)
	}

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}

	if c.APIKeySecret == "" {
		errs = append(errs, ErrMissingAPIKeySecret)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// SetDefaults fills unset tunables.
func (c *Config) SetDefaults() {
	if c.StreamName == "" {
		c.StreamName = mirror.DefaultStreamName
	}

	if c.StreamMaxPerDevice <= 0 {
		c.StreamMaxPerDevice = mirror.DefaultMaxPerDevice
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}

	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}

	if c.IdleReapCycles <= 0 {
		c.IdleReapCycles = defaultIdleReapCycles
	}

	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}
