// Package ingest is the collector core: it receives device telemetry from
// NATS, validates credentials against the device registry, mirrors accepted
// readings to the capped real-time stream, and batches them per device for
// durable storage.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/gridsense/gridsense/pkg/db"
	"github.com/gridsense/gridsense/pkg/keycrypt"
	"github.com/gridsense/gridsense/pkg/logger"
	"github.com/gridsense/gridsense/pkg/mirror"
	"github.com/gridsense/gridsense/pkg/natsutil"
	"github.com/gridsense/gridsense/pkg/registry"
)

// Service wires the listener, buffer, and flusher together and owns their
// lifecycle.
type Service struct {
	config   *Config
	database db.Service
	logger   logger.Logger

	transport *nats.Conn
	streamCon *nats.Conn
	listener  *Listener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewService validates the configuration and returns an unstarted collector.
func NewService(cfg *Config, database db.Service, log logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.SetDefaults()

	return &Service{
		config:   cfg,
		database: database,
		logger:   log,
	}, nil
}

// Start connects to NATS, creates the mirror stream, and begins consuming
// telemetry. It returns once the pipeline is running.
func (s *Service) Start(ctx context.Context) error {
	cipher, err := keycrypt.New(s.config.APIKeySecret)
	if err != nil {
		return fmt.Errorf("failed to initialize key cipher: %w", err)
	}

	s.transport, err = natsutil.Connect(s.config.NATSURL, "gridsense-collector", s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	streamConn := s.transport
	if s.config.StreamURL != "" && s.config.StreamURL != s.config.NATSURL {
		s.streamCon, err = natsutil.Connect(s.config.StreamURL, "gridsense-collector-mirror", s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to mirror NATS: %w", err)
		}

		streamConn = s.streamCon
	}

	m, err := mirror.New(ctx, streamConn, s.config.StreamName, s.config.StreamMaxPerDevice)
	if err != nil {
		return fmt.Errorf("failed to create mirror: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	buffer := NewBuffer(s.config.IdleReapCycles)
	flusher := NewFlusher(buffer, s.database, s.config.BatchSize, s.config.FlushInterval, s.config.WriteTimeout, s.logger)
	auth := registry.NewClient(s.database, s.config.AuthTimeout, s.logger)

	s.listener = NewListener(s.transport, cipher, auth, m, buffer, s.config.MaxWorkers, s.logger)

	if err := s.listener.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		flusher.Run(runCtx)
	}()

	s.logger.Info().
		Int("batch_size", s.config.BatchSize).
		Dur("flush_interval", s.config.FlushInterval).
		Msg("collector started")

	return nil
}

// Stop shuts the pipeline down in dependency order: stop accepting messages,
// let workers finish, flush whatever remains, then drop the connections.
func (s *Service) Stop(_ context.Context) error {
	var firstErr error

	if s.listener != nil {
		if err := s.listener.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	if s.streamCon != nil {
		s.streamCon.Close()
	}

	if s.transport != nil {
		s.transport.Close()
	}

	if err := s.database.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.Info().Msg("collector stopped")

	return firstErr
}
