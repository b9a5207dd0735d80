package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/riverlane/fhirjob/internal/catalog"
	"github.com/riverlane/fhirjob/internal/config"
	"github.com/riverlane/fhirjob/internal/executor/fakesource"
	"github.com/riverlane/fhirjob/internal/executor/fhirexec"
	"github.com/riverlane/fhirjob/internal/executor/ste"
	"github.com/riverlane/fhirjob/internal/jobmanager"
	"github.com/riverlane/fhirjob/internal/jobstore"
	"github.com/riverlane/fhirjob/internal/jobstore/fsstore"
	"github.com/riverlane/fhirjob/internal/jobstore/objectstore"
	"github.com/riverlane/fhirjob/pkg/clock"
	"github.com/riverlane/fhirjob/pkg/logger"
)

// buildStore wires the configured JobStore backend: fsstore for local
// and development use, objectstore (S3 + DynamoDB) for production.
func buildStore(ctx context.Context, cfg *config.Config) (jobstore.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreFilesystem:
		return fsstore.New(cfg.Store.BaseDir, cfg.LeaseTTL)
	case config.StoreObject:
		return objectstore.New(ctx, objectstore.Config{
			Region:     cfg.Store.Region,
			Bucket:     cfg.Store.Bucket,
			Prefix:     cfg.Store.BucketPrefix,
			LeaseTable: cfg.Store.LeaseTable,
			LeaseTTL:   cfg.LeaseTTL,
		})
	default:
		return nil, fmt.Errorf("unknown store kind: %s", cfg.Store.Kind)
	}
}

// buildManager wires a full jobmanager.Manager from cfg: the configured
// JobStore backend, a part-rotating fhirexec.Executor, and a static
// resource type catalog. The upstream FHIR source is an external
// collaborator (see SourceClient); fakesource stands in for it so the
// process runs end-to-end without one configured.
func buildManager(ctx context.Context, cfg *config.Config, log *logger.Logger) (*jobmanager.Manager, error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build job store: %w", err)
	}

	partsDir := cfg.Store.BaseDir
	if partsDir == "" {
		partsDir = "./data"
	}
	parts, err := ste.New(filepath.Join(partsDir, "parts"), cfg.MaxPartRecords)
	if err != nil {
		return nil, fmt.Errorf("build part writer: %w", err)
	}

	exec := fhirexec.New(fakesource.New(), parts, fhirexec.PassThrough)

	// KnownResourceTypes backs the catalog; fall back to the filter list
	// so a config that always restricts resourceTypeFilters doesn't have
	// to duplicate it, since the catalog is only ever consulted when no
	// filter is set.
	resourceTypes := cfg.KnownResourceTypes
	if len(resourceTypes) == 0 {
		resourceTypes = cfg.ResourceTypeFilters
	}
	cat, err := catalog.New(resourceTypes)
	if err != nil {
		return nil, fmt.Errorf("build resource type catalog: %w", err)
	}

	ownerID, err := os.Hostname()
	if err != nil || ownerID == "" {
		ownerID = fmt.Sprintf("fhirjob-%d", os.Getpid())
	}

	return jobmanager.New(store, exec, cat, clock.Real{}, cfg, log, ownerID), nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logger.INFO
	}
	return logger.NewWithConfig(logger.Config{
		Level:  level,
		Output: os.Stdout,
		Format: cfg.Logging.Format,
	})
}
