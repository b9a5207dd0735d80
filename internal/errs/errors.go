// Package errs provides the classified error types used throughout
// fhirjob: a small set of sentinel errors for the scheduler's terminal
// outcomes, wrapped with enough context to log and classify without
// parsing strings.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the scheduler's terminal outcomes.
var (
	// ErrLeaseUnavailable means another holder currently owns the
	// JobStore lease. Not escalated: the caller logs and retries on the
	// next trigger.
	ErrLeaseUnavailable = errors.New("job store lease unavailable")

	// ErrStartJobFailed means configuration refused to start a new job
	// (horizon reached, or the window start is still in the future).
	ErrStartJobFailed = errors.New("start job failed")

	// ErrExecuteTaskFailed means one or more per-resource-type tasks
	// failed or were cancelled abnormally during the fan-out.
	ErrExecuteTaskFailed = errors.New("execute task failed")

	// ErrStoreUnavailable means a JobStore operation failed for
	// transient/infrastructure reasons.
	ErrStoreUnavailable = errors.New("job store unavailable")

	// ErrJobNotFound means no job exists for a given id in the queried
	// namespace (active/completed/failed).
	ErrJobNotFound = errors.New("job not found")
)

// ErrorCategory groups errors by the kind of problem they represent.
type ErrorCategory string

const (
	CategoryInfrastructure ErrorCategory = "infrastructure"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryValidation     ErrorCategory = "validation"
	CategoryRuntime        ErrorCategory = "runtime"
	CategoryConflict       ErrorCategory = "conflict"
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryUnknown        ErrorCategory = "unknown"
)

// ErrorSeverity indicates how serious an error is.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
)

// ClassifiedError wraps an error with category/severity/retryability
// metadata so callers can decide how to react without string-matching.
type ClassifiedError struct {
	Err       error
	Category  ErrorCategory
	Severity  ErrorSeverity
	Retryable bool
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// JobError associates an error with the job it occurred against.
type JobError struct {
	JobID     string
	Operation string
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Operation, e.Err)
}
func (e *JobError) Unwrap() error { return e.Err }

// WrapJobError attaches job/operation context to err. Returns nil if err
// is nil.
func WrapJobError(jobID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &JobError{JobID: jobID, Operation: operation, Err: err}
}

// TaskError associates an error with the resource-type task that
// produced it.
type TaskError struct {
	ResourceType string
	Err          error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.ResourceType, e.Err)
}
func (e *TaskError) Unwrap() error { return e.Err }

// WrapTaskError attaches resource-type context to err. Returns nil if err
// is nil.
func WrapTaskError(resourceType string, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{ResourceType: resourceType, Err: err}
}

// Classify assigns category/severity/retryable metadata to err based on
// which sentinel it wraps.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, ErrLeaseUnavailable):
		return &ClassifiedError{Err: err, Category: CategoryConflict, Severity: SeverityLow, Retryable: true}
	case errors.Is(err, ErrStartJobFailed):
		return &ClassifiedError{Err: err, Category: CategoryConfiguration, Severity: SeverityMedium, Retryable: false}
	case errors.Is(err, ErrExecuteTaskFailed):
		return &ClassifiedError{Err: err, Category: CategoryRuntime, Severity: SeverityHigh, Retryable: true}
	case errors.Is(err, ErrStoreUnavailable):
		return &ClassifiedError{Err: err, Category: CategoryInfrastructure, Severity: SeverityHigh, Retryable: true}
	case errors.Is(err, ErrJobNotFound):
		return &ClassifiedError{Err: err, Category: CategoryNotFound, Severity: SeverityLow, Retryable: false}
	case errors.Is(err, context.Canceled):
		return &ClassifiedError{Err: err, Category: CategoryTimeout, Severity: SeverityLow, Retryable: false}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{Err: err, Category: CategoryTimeout, Severity: SeverityMedium, Retryable: true}
	default:
		return &ClassifiedError{Err: err, Category: CategoryUnknown, Severity: SeverityMedium, Retryable: false}
	}
}

// ShouldRetry reports whether an operation that failed with err should be
// retried (i.e. the next periodic Trigger will likely make progress).
func ShouldRetry(err error) bool {
	c := Classify(err)
	return c != nil && c.Retryable
}
