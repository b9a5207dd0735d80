package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlane/fhirjob/internal/config"
	"github.com/riverlane/fhirjob/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.ContainerName = "fhir-raw"
	cfg.StartTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.KnownResourceTypes = []string{"Patient", "Observation"}
	cfg.Store.Kind = config.StoreFilesystem
	cfg.Store.BaseDir = t.TempDir()
	return cfg
}

func TestBuildStoreFilesystem(t *testing.T) {
	store, err := buildStore(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestBuildStoreRejectsUnknownKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Kind = "bogus"

	_, err := buildStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildManagerWiresFsstoreAndFakeSource(t *testing.T) {
	mgr, err := buildManager(context.Background(), testConfig(t), newLogger(testConfig(t)))
	require.NoError(t, err)
	require.NotNil(t, mgr)

	// An empty fake source drains immediately; Trigger should succeed and
	// leave no active job behind.
	require.NoError(t, mgr.Trigger(context.Background()))
}

func TestNewLoggerFallsBackOnInvalidLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Level = "not-a-level"

	log := newLogger(cfg)
	assert.Equal(t, logger.INFO, log.GetLevel())
}
