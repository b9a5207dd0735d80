package jobmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlane/fhirjob/internal/domain"
	"github.com/riverlane/fhirjob/internal/executor"
)

// stubExecutor is a minimal executor.TaskExecutor for fan-out unit
// tests that don't need a real pagination loop.
type stubExecutor struct {
	mu          sync.Mutex
	inFlight    int
	maxObserved int

	delay   time.Duration
	failOn  map[string]error
	onStart func(resourceType string)
}

func (s *stubExecutor) Execute(ctx context.Context, tc *domain.TaskContext, sink executor.ProgressSink) (*domain.TaskResult, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxObserved {
		s.maxObserved = s.inFlight
	}
	s.mu.Unlock()

	if s.onStart != nil {
		s.onStart(tc.ResourceType)
	}

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return &domain.TaskResult{ResourceType: tc.ResourceType}, ctx.Err()
	}

	sink.Progress(ctx, tc.ResourceType, &domain.TaskContext{ResourceType: tc.ResourceType, ContinuationToken: "done"})

	if s.failOn != nil {
		if err, ok := s.failOn[tc.ResourceType]; ok {
			return &domain.TaskResult{ResourceType: tc.ResourceType}, err
		}
	}

	return &domain.TaskResult{ResourceType: tc.ResourceType, IsCompleted: true, ProcessedCount: 1}, nil
}

func newFanoutJob(t *testing.T, resourceTypes ...string) *domain.Job {
	t.Helper()
	job, err := domain.NewJob("out", resourceTypes, domain.DataPeriod{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	}, time.Now())
	require.NoError(t, err)
	return job
}

func noopSink() executor.ProgressSink {
	return executor.ProgressSinkFunc(func(context.Context, string, *domain.TaskContext) {})
}

func TestRunFanoutAllSucceed(t *testing.T) {
	job := newFanoutJob(t, "A", "B", "C")
	stub := &stubExecutor{}
	var lock sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := runFanout(ctx, cancel, job, &lock, stub, noopSink(), 2)
	require.NoError(t, err)

	for _, rt := range []string{"A", "B", "C"} {
		assert.True(t, job.IsResourceCompleted(rt))
	}
}

func TestRunFanoutRespectsConcurrencyCap(t *testing.T) {
	job := newFanoutJob(t, "A", "B", "C", "D")
	stub := &stubExecutor{delay: 20 * time.Millisecond}
	var lock sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, runFanout(ctx, cancel, job, &lock, stub, noopSink(), 2))
	assert.LessOrEqual(t, stub.maxObserved, 2)
}

func TestRunFanoutSkipsCompletedResourceTypes(t *testing.T) {
	job := newFanoutJob(t, "A", "B")
	job.CompletedResources["A"] = true
	job.ResourceProgresses["A"] = domain.DrainedToken

	var seen []string
	var seenMu sync.Mutex
	stub := &stubExecutor{onStart: func(rt string) {
		seenMu.Lock()
		seen = append(seen, rt)
		seenMu.Unlock()
	}}
	var lock sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, runFanout(ctx, cancel, job, &lock, stub, noopSink(), 2))
	assert.Equal(t, []string{"B"}, seen)
}

func TestRunFanoutFirstFailureCancelsRemainder(t *testing.T) {
	job := newFanoutJob(t, "A", "B")
	stub := &stubExecutor{
		delay:  10 * time.Millisecond,
		failOn: map[string]error{"A": errors.New("boom")},
	}
	var lock sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := runFanout(ctx, cancel, job, &lock, stub, noopSink(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunFanoutCompletedStickinessAcrossFanouts(t *testing.T) {
	job := newFanoutJob(t, "A")

	var completions int32
	stub := &stubExecutor{onStart: func(string) {
		atomic.AddInt32(&completions, 1)
	}}
	var lock sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, runFanout(ctx, cancel, job, &lock, stub, noopSink(), 1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
	assert.True(t, job.IsResourceCompleted("A"))

	// A second fan-out over the same job must not re-submit A.
	require.NoError(t, runFanout(ctx, cancel, job, &lock, stub, noopSink(), 1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
}
