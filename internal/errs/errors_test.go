package errs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapJobErrorNilPassthrough(t *testing.T) {
	require.NoError(t, WrapJobError("job-1", "commit", nil))
}

func TestWrapJobErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := WrapJobError("job-1", "commit", inner)

	var je *JobError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "job-1", je.JobID)
	assert.Equal(t, "commit", je.Operation)
	assert.True(t, errors.Is(err, inner))
}

func TestClassifySentinels(t *testing.T) {
	cases := []struct {
		err       error
		category  ErrorCategory
		retryable bool
	}{
		{ErrLeaseUnavailable, CategoryConflict, true},
		{ErrStartJobFailed, CategoryConfiguration, false},
		{ErrExecuteTaskFailed, CategoryRuntime, true},
		{ErrStoreUnavailable, CategoryInfrastructure, true},
		{ErrJobNotFound, CategoryNotFound, false},
		{context.Canceled, CategoryTimeout, false},
		{context.DeadlineExceeded, CategoryTimeout, true},
	}

	for _, tc := range cases {
		classified := Classify(tc.err)
		require.NotNil(t, classified)
		assert.Equal(t, tc.category, classified.Category, "category for %v", tc.err)
		assert.Equal(t, tc.retryable, classified.Retryable, "retryable for %v", tc.err)
		assert.Equal(t, tc.retryable, ShouldRetry(tc.err))
	}
}

func TestClassifyWrappedSentinelStillMatches(t *testing.T) {
	wrapped := WrapTaskError("Patient", ErrExecuteTaskFailed)
	assert.True(t, ShouldRetry(wrapped))
}

func TestClassifyIsIdempotent(t *testing.T) {
	once := Classify(ErrStoreUnavailable)
	twice := Classify(once)
	assert.Same(t, once, twice)
}

func TestClassifyNilIsNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}
