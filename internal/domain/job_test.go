package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func period(startHour, endHour int) DataPeriod {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return DataPeriod{
		Start: base.Add(time.Duration(startHour) * time.Hour),
		End:   base.Add(time.Duration(endHour) * time.Hour),
	}
}

func TestNewJobRejectsEmptyResourceTypes(t *testing.T) {
	_, err := NewJob("out", nil, period(0, 1), time.Now())
	require.ErrorIs(t, err, ErrEmptyResourceTypes)
}

func TestNewJobRejectsInvertedPeriod(t *testing.T) {
	_, err := NewJob("out", []string{"Patient"}, period(1, 0), time.Now())
	require.ErrorIs(t, err, ErrInvalidDataPeriod)
}

func TestNewJobDefaults(t *testing.T) {
	j, err := NewJob("out", []string{"Patient", "Observation"}, period(0, 1), time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusNew, j.Status)
	assert.NotEmpty(t, j.Id)
	assert.Empty(t, j.CompletedResources)
	assert.False(t, j.IsResourceCompleted("Patient"))
	assert.False(t, j.IsTerminal())
}

func TestTaskContextForFreshResource(t *testing.T) {
	j, err := NewJob("out", []string{"Patient"}, period(0, 1), time.Now())
	require.NoError(t, err)

	tc := j.TaskContextFor("Patient")
	assert.Equal(t, "Patient", tc.ResourceType)
	assert.Empty(t, tc.ContinuationToken)
	assert.False(t, tc.IsCompleted)
}

func TestApplyProgressThenResultMarksCompleted(t *testing.T) {
	j, err := NewJob("out", []string{"Patient"}, period(0, 1), time.Now())
	require.NoError(t, err)

	j.ApplyProgress("Patient", &TaskContext{ResourceType: "Patient", ContinuationToken: "tok1", ProcessedCount: 10, PartId: 1})
	assert.Equal(t, "tok1", j.ResourceProgresses["Patient"])
	assert.False(t, j.IsResourceCompleted("Patient"))

	j.ApplyResult("Patient", &TaskResult{ResourceType: "Patient", IsCompleted: true, ProcessedCount: 25, PartId: 2})
	assert.True(t, j.IsResourceCompleted("Patient"))
	assert.Equal(t, DrainedToken, j.ResourceProgresses["Patient"])
	assert.Equal(t, int64(25), j.ProcessedResourceCounts["Patient"])

	// A late TaskContext from the same (now completed) resource type must
	// not mutate it further.
	j.ApplyProgress("Patient", &TaskContext{ResourceType: "Patient", ContinuationToken: "tok-late", ProcessedCount: 999})
	assert.Equal(t, DrainedToken, j.ResourceProgresses["Patient"])
	assert.Equal(t, int64(25), j.ProcessedResourceCounts["Patient"])

	next := j.TaskContextFor("Patient")
	assert.True(t, next.IsCompleted)
}

func TestApplyResultAfterCompletionIsNoop(t *testing.T) {
	j, err := NewJob("out", []string{"Patient"}, period(0, 1), time.Now())
	require.NoError(t, err)

	j.ApplyResult("Patient", &TaskResult{IsCompleted: true, ProcessedCount: 5})
	j.ApplyResult("Patient", &TaskResult{IsCompleted: false, ProcessedCount: 1234, ContinuationToken: "resurrected"})

	assert.Equal(t, int64(5), j.ProcessedResourceCounts["Patient"])
	assert.Equal(t, DrainedToken, j.ResourceProgresses["Patient"])
}
