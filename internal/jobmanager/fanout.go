package jobmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/riverlane/fhirjob/internal/domain"
	"github.com/riverlane/fhirjob/internal/executor"
)

// taskOutcome is what a fanned-out task reports back on the
// completion-multiplexing channel.
type taskOutcome struct {
	resourceType string
	result       *domain.TaskResult
	err          error
}

// runFanout submits one task per not-yet-completed resource type in
// job, bounded to maxConcurrency in flight at a time, folding each
// TaskResult into job (under lock) as it arrives. The first task
// failure cancels the remaining in-flight tasks via cancel and stops
// submission; every already-started task is still drained before
// runFanout returns, so no goroutine is left writing to an abandoned
// channel.
//
// Concurrency control is a channel-as-semaphore: a buffered channel
// (sem) is sent to before a task starts and received from in its
// epilogue, and a single done channel multiplexes completions back to
// one consuming goroutine.
func runFanout(
	ctx context.Context,
	cancel context.CancelFunc,
	job *domain.Job,
	lock *sync.Mutex,
	exec executor.TaskExecutor,
	sink executor.ProgressSink,
	maxConcurrency int,
) error {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	sem := make(chan struct{}, maxConcurrency)
	done := make(chan taskOutcome)

	fold := func(outcome taskOutcome) {
		if outcome.result == nil {
			return
		}
		lock.Lock()
		job.ApplyResult(outcome.resourceType, outcome.result)
		lock.Unlock()
	}

	submit := func(rt string, tc *domain.TaskContext) {
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			result, err := exec.Execute(ctx, tc, sink)
			done <- taskOutcome{resourceType: rt, result: result, err: err}
		}()
	}

	drain := func(n int) {
		for i := 0; i < n; i++ {
			fold(<-done)
		}
	}

	inFlight := 0
	for _, rt := range job.ResourceTypes {
		lock.Lock()
		tc := job.TaskContextFor(rt)
		lock.Unlock()
		if tc.IsCompleted {
			continue
		}

		if inFlight == maxConcurrency {
			outcome := <-done
			inFlight--
			fold(outcome)
			if outcome.err != nil {
				cancel()
				drain(inFlight)
				return fmt.Errorf("resource type %s: %w", outcome.resourceType, outcome.err)
			}
		}

		submit(rt, tc)
		inFlight++
	}

	var firstErr error
	for inFlight > 0 {
		outcome := <-done
		inFlight--
		fold(outcome)
		if outcome.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("resource type %s: %w", outcome.resourceType, outcome.err)
			cancel()
		}
	}

	return firstErr
}
