// Package jobmanager implements the scheduler's single orchestrator:
// acquire the JobStore lease, load or construct the active job, fan
// its resource-type tasks out under a concurrency cap, and commit
// output and advance the watermark on success.
package jobmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/riverlane/fhirjob/internal/config"
	"github.com/riverlane/fhirjob/internal/domain"
	"github.com/riverlane/fhirjob/internal/errs"
	"github.com/riverlane/fhirjob/internal/executor"
	"github.com/riverlane/fhirjob/internal/jobstore"
	"github.com/riverlane/fhirjob/pkg/clock"
	"github.com/riverlane/fhirjob/pkg/logger"
)

// Manager is the scheduler's single entry point.
type Manager struct {
	store    jobstore.Store
	executor executor.TaskExecutor
	catalog  executor.ResourceTypeCatalog
	clock    clock.Clock
	cfg      *config.Config
	log      *logger.Logger
	ownerID  string
}

// New constructs a Manager. ownerID identifies this process for the
// JobStore's advisory lease.
func New(
	store jobstore.Store,
	exec executor.TaskExecutor,
	catalog executor.ResourceTypeCatalog,
	clk clock.Clock,
	cfg *config.Config,
	log *logger.Logger,
	ownerID string,
) *Manager {
	return &Manager{
		store:    store,
		executor: exec,
		catalog:  catalog,
		clock:    clk,
		cfg:      cfg,
		log:      log.WithField("component", "jobmanager"),
		ownerID:  ownerID,
	}
}

// Trigger runs one scheduling attempt: acquire the lease, select or
// construct the active job, execute it, and release the lease. A
// failure to acquire the lease is not an error; the next periodic
// trigger will retry.
func (m *Manager) Trigger(ctx context.Context) error {
	acquired, err := m.store.AcquireLease(ctx, m.ownerID)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		m.log.Debug("lease held by another owner, skipping this trigger")
		return nil
	}
	defer func() {
		if err := m.store.ReleaseLease(context.Background(), m.ownerID); err != nil {
			m.log.Error("release lease failed", "error", err)
		}
	}()

	job, err := m.selectJob(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	return m.run(ctx, job)
}

// selectJob resumes the active job if one exists (completing it first
// if it was left Succeeded by a crash between CommitJobData and
// CompleteJob), otherwise constructs a new one. Returns (nil, nil)
// when there is nothing left to execute this trigger.
func (m *Manager) selectJob(ctx context.Context) (*domain.Job, error) {
	active, err := m.store.GetActiveJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active jobs: %w", err)
	}

	if len(active) > 0 {
		job := active[0]
		if job.Status == domain.StatusSucceeded {
			if err := m.store.CompleteJob(ctx, job); err != nil {
				return nil, fmt.Errorf("complete succeeded job %s: %w", job.Id, err)
			}
			m.log.Info("completed job left behind by a prior crash", "jobId", job.Id)
			return nil, nil
		}
		job.Status = domain.StatusRunning
		job.FailedReason = ""
		return job, nil
	}

	return m.newJob(ctx)
}

// newJob opens the next window off the watermark (or the configured
// start, cold) and constructs a new Job for it.
func (m *Manager) newJob(ctx context.Context) (*domain.Job, error) {
	meta, err := m.store.GetSchedulerMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("get scheduler metadata: %w", err)
	}

	triggerStart := m.cfg.StartTime
	if meta != nil && meta.LastScheduledTimestamp != nil {
		triggerStart = *meta.LastScheduledTimestamp
	}

	now := m.clock.Now()
	triggerEnd := now.Add(-m.cfg.LatencyMargin())
	if m.cfg.EndTime != nil && m.cfg.EndTime.Before(triggerEnd) {
		triggerEnd = *m.cfg.EndTime
	}

	if m.cfg.EndTime != nil && !triggerStart.Before(*m.cfg.EndTime) {
		return nil, fmt.Errorf("%w: scheduled to end", errs.ErrStartJobFailed)
	}
	if !triggerStart.Before(triggerEnd) {
		return nil, fmt.Errorf("%w: start is in the future", errs.ErrStartJobFailed)
	}

	resourceTypes := m.cfg.ResourceTypeFilters
	if len(resourceTypes) == 0 {
		resourceTypes, err = m.catalog.GetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("resource type catalog: %w", err)
		}
	}

	job, err := domain.NewJob(m.cfg.ContainerName, resourceTypes, domain.DataPeriod{
		Start: triggerStart,
		End:   triggerEnd,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStartJobFailed, err)
	}

	if err := m.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist new job: %w", err)
	}

	job.Status = domain.StatusRunning
	m.log.Info("started new job", "jobId", job.Id, "resourceTypes", len(job.ResourceTypes))
	return job, nil
}

// run executes the fan-out for job and finalizes it. The ordering
// CommitJobData -> Status=Succeeded -> CompleteJob is mandatory so a
// crash after Commit but before Complete is recoverable by selectJob's
// "already succeeded" branch.
func (m *Manager) run(ctx context.Context, job *domain.Job) error {
	tasksCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	executionCtx, executionCancel := context.WithCancel(ctx)
	defer executionCancel()

	var lock sync.Mutex

	sink := executor.ProgressSinkFunc(func(_ context.Context, rt string, tc *domain.TaskContext) {
		// Snapshot under the lock so the store encodes a copy that other
		// tasks' progress and result folds cannot mutate mid-write.
		lock.Lock()
		job.ApplyProgress(rt, tc)
		encoded, err := json.Marshal(job)
		lock.Unlock()

		select {
		case <-executionCtx.Done():
			return
		default:
		}

		var snapshot domain.Job
		if err == nil {
			err = json.Unmarshal(encoded, &snapshot)
		}
		if err != nil {
			m.log.Warn("progress snapshot failed", "resourceType", rt, "error", err)
			return
		}
		if err := m.store.UpdateJob(executionCtx, &snapshot); err != nil {
			m.log.Warn("progress persist failed", "resourceType", rt, "error", err)
		}
	})

	fanoutErr := runFanout(tasksCtx, cancelTasks, job, &lock, m.executor, sink, m.cfg.MaxConcurrencyCount)
	if fanoutErr != nil {
		lock.Lock()
		job.Status = domain.StatusFailed
		job.FailedReason = fanoutErr.Error()
		lock.Unlock()

		if err := m.store.UpdateJob(ctx, job); err != nil {
			m.log.Error("persist failed job state failed", "jobId", job.Id, "error", err)
		}
		return fmt.Errorf("%w: %v", errs.ErrExecuteTaskFailed, fanoutErr)
	}

	// Stop late progress writes before the final commit sequence; the
	// outer ctx still governs Commit/Complete themselves.
	executionCancel()

	// CommitJobData must land before the job is ever recorded as
	// Succeeded: if this fails or the process dies here, the job is
	// still Running on the next Trigger, all its resource types are
	// already marked complete, so the fan-out is a no-op and this same
	// commit is retried. Recording Succeeded first would let a crash
	// before the commit leave a job archived as succeeded with its
	// watermark never advanced.
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist final counts: %w", err)
	}
	if err := m.store.CommitJobData(ctx, job); err != nil {
		return fmt.Errorf("commit job data: %w", err)
	}

	lock.Lock()
	job.Status = domain.StatusSucceeded
	lock.Unlock()

	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist final job state: %w", err)
	}
	if err := m.store.CompleteJob(ctx, job); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	m.log.Info("job completed", "jobId", job.Id)
	return nil
}
