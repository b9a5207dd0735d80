// Package jobstore defines the durable-state contract the JobManager
// depends on, independent of backend. The two concrete backends,
// fsstore and objectstore, live in their own subpackages.
package jobstore

import (
	"context"

	"github.com/riverlane/fhirjob/internal/domain"
)

// Store is the durable state the scheduler depends on: the watermark,
// the at-most-one-active-job invariant, the completed/failed archive,
// and an advisory lease used to serialize Trigger invocations across
// processes.
//
// All operations are context-aware and fail with a wrapped
// errs.ErrStoreUnavailable on transient I/O errors.
type Store interface {
	// AcquireLease is advisory and non-blocking. It returns true iff no
	// other holder currently owns the lease; the lease is bound to
	// ownerID and expires on its own after a bounded TTL if never
	// released, so a crashed holder cannot wedge the scheduler forever.
	AcquireLease(ctx context.Context, ownerID string) (bool, error)

	// ReleaseLease is idempotent: calling it when the caller does not
	// hold the lease (already expired, or never acquired) is not an
	// error.
	ReleaseLease(ctx context.Context, ownerID string) error

	// GetSchedulerMetadata returns (nil, nil) if no metadata has ever
	// been written.
	GetSchedulerMetadata(ctx context.Context) (*domain.SchedulerMetadata, error)

	// GetActiveJobs returns every Job in the active set: New, Running or
	// Failed, plus a Succeeded job left behind when CompleteJob did not
	// follow its commit. The core treats the first element as the
	// active job, relying on the store to maintain at most one.
	GetActiveJobs(ctx context.Context) ([]*domain.Job, error)

	// UpdateJob writes a full snapshot of job. The JobManager may call it
	// concurrently for the same job (one call per progress checkpoint,
	// outside its job lock); each call writes the snapshot it is given
	// and the last write to land wins.
	UpdateJob(ctx context.Context, job *domain.Job) error

	// CompleteJob archives job into the completed or failed namespace
	// (per job.Status) and removes it from the active set. Idempotent:
	// calling it again on an already-archived job is a no-op success.
	CompleteJob(ctx context.Context, job *domain.Job) error

	// CommitJobData finalizes job's output parts and atomically
	// advances SchedulerMetadata.LastScheduledTimestamp to
	// job.DataPeriod.End. Idempotent: a retry after a partial crash
	// either completes the commit or leaves no partial effect.
	CommitJobData(ctx context.Context, job *domain.Job) error
}
