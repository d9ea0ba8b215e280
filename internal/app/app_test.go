package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/finsights/internal/config"
	"github.com/dharsanguruparan/finsights/internal/storage"
)

func TestNewStagesOverMemoryStore(t *testing.T) {
	cfg := config.Default()
	cfg.PDFDir = t.TempDir()
	cfg.TextDir = t.TempDir()
	s := NewStages(cfg, storage.NewMemoryStore(), nil, slog.Default())

	require.NotNil(t, s.Pipeline)
	succeeded, failed, err := s.Converter.ConvertAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, succeeded+failed)
}

func TestNewPublisherDisabledWithoutEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.S3Endpoint = ""
	pub, err := newPublisher(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, pub)
}
