package fsstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlane/fhirjob/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 50*time.Millisecond)
	require.NoError(t, err)
	return s
}

func TestAcquireLeaseMutualExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, "owner-b")
	require.NoError(t, err)
	assert.False(t, ok, "a second owner must not acquire a live lease")
}

func TestAcquireLeaseExpiresAndIsTakenOver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "owner-a")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	ok, err = s.AcquireLease(ctx, "owner-b")
	require.NoError(t, err)
	assert.True(t, ok, "an expired lease must be takeable by a new owner")
}

func TestReleaseLeaseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReleaseLease(ctx, "nobody"))

	_, err := s.AcquireLease(ctx, "owner-a")
	require.NoError(t, err)
	require.NoError(t, s.ReleaseLease(ctx, "owner-a"))
	require.NoError(t, s.ReleaseLease(ctx, "owner-a"))

	ok, err := s.AcquireLease(ctx, "owner-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLeaseRefusesNonOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AcquireLease(ctx, "owner-a")
	require.NoError(t, err)
	require.NoError(t, s.ReleaseLease(ctx, "owner-b"))

	ok, err := s.AcquireLease(ctx, "owner-c")
	require.NoError(t, err)
	assert.False(t, ok, "owner-a's lease must still be held")
}

func TestGetSchedulerMetadataNilWhenUnset(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.GetSchedulerMetadata(context.Background())
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func testJob(t *testing.T) *domain.Job {
	t.Helper()
	j, err := domain.NewJob("out", []string{"Patient"}, domain.DataPeriod{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	}, time.Now())
	require.NoError(t, err)
	return j
}

func TestUpdateJobAndGetActiveJobsRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := testJob(t)

	require.NoError(t, s.UpdateJob(ctx, job))

	active, err := s.GetActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, job.Id, active[0].Id)
}

func TestCompleteJobMovesToCompletedAndClearsActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := testJob(t)
	job.Status = domain.StatusSucceeded

	require.NoError(t, s.UpdateJob(ctx, job))
	require.NoError(t, s.CompleteJob(ctx, job))

	active, err := s.GetActiveJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Idempotent: calling again must not error even though the active
	// record is already gone.
	require.NoError(t, s.CompleteJob(ctx, job))
}

func TestCompleteJobFailedGoesToFailedNamespace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := testJob(t)
	job.Status = domain.StatusFailed
	job.FailedReason = "boom"

	require.NoError(t, s.CompleteJob(ctx, job))

	failed, err := s.listJobs(failedDir)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].FailedReason)
}

func TestCommitJobDataAdvancesWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := testJob(t)

	require.NoError(t, s.CommitJobData(ctx, job))

	meta, err := s.GetSchedulerMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotNil(t, meta.LastScheduledTimestamp)
	assert.True(t, meta.LastScheduledTimestamp.Equal(job.DataPeriod.End))
}
