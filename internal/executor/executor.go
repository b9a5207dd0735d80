// Package executor defines the contracts between the JobManager and
// the code that actually pages through a resource type and writes
// output: TaskExecutor, ProgressSink, and ResourceTypeCatalog. The
// fhirexec subpackage provides a reference TaskExecutor; fakesource
// provides a deterministic SourceClient for tests.
package executor

import (
	"context"

	"github.com/riverlane/fhirjob/internal/domain"
)

// ProgressSink receives a pagination checkpoint from a TaskExecutor.
// Implementations must be safe to call concurrently from multiple
// in-flight tasks.
type ProgressSink interface {
	Progress(ctx context.Context, resourceType string, tc *domain.TaskContext)
}

// ProgressSinkFunc adapts a function to a ProgressSink.
type ProgressSinkFunc func(ctx context.Context, resourceType string, tc *domain.TaskContext)

func (f ProgressSinkFunc) Progress(ctx context.Context, resourceType string, tc *domain.TaskContext) {
	f(ctx, resourceType, tc)
}

// TaskExecutor runs a single resource type's extraction task to
// completion or cancellation.
//
// Execute must resume from tc.ContinuationToken, report progress to
// sink at each pagination page, and return a TaskResult whose
// IsCompleted is true iff upstream pagination is exhausted. On ctx
// cancellation it must return promptly with whatever partial result it
// has accumulated plus a non-nil error wrapping ctx.Err().
type TaskExecutor interface {
	Execute(ctx context.Context, tc *domain.TaskContext, sink ProgressSink) (*domain.TaskResult, error)
}

// ResourceTypeCatalog enumerates the resource types a new job should
// cover when the configuration does not pin an explicit filter list.
type ResourceTypeCatalog interface {
	GetAll(ctx context.Context) ([]string, error)
}
