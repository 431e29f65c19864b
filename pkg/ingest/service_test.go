package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsense/gridsense/pkg/logger"
)

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewService(&Config{}, nil, logger.NewTestLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAPIKeySecret)
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()

	svc, err := NewService(cfg, nil, logger.NewTestLogger())
	require.NoError(t, err)
	require.NotNil(t, svc)

	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 64, cfg.MaxWorkers)
}
