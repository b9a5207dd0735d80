// Package domain holds the core data model of the extraction scheduler:
// Job, SchedulerMetadata, and the in-memory TaskContext/TaskResult shapes
// exchanged between the JobManager and a TaskExecutor.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// DrainedToken is the sentinel continuation-token value marking a
// resource type as fully drained. An empty string means "not started
// yet"; DrainedToken means "nothing left to page through".
const DrainedToken = "\x00drained"

var (
	ErrEmptyResourceTypes = errors.New("job must have at least one resource type")
	ErrInvalidDataPeriod  = errors.New("data period start must be before end")
)

// DataPeriod is the half-open time window [Start, End) of source-record
// timestamps a Job processes.
type DataPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Job is one in-flight (or terminal) extraction window. It is mutated
// only by the JobManager, always under its updateJobLock, and persisted
// via JobStore.UpdateJob after every mutation batch.
type Job struct {
	SchemaVersion int    `json:"schemaVersion"`
	Id            string `json:"id"`
	ContainerName string `json:"containerName"`
	Status        Status `json:"status"`

	ResourceTypes []string `json:"resourceTypes"`
	DataPeriod    DataPeriod `json:"dataPeriod"`
	CreatedAt     time.Time  `json:"createdAt"`

	CompletedResources map[string]bool `json:"completedResources"`

	ResourceProgresses      map[string]string `json:"resourceProgresses"`
	TotalResourceCounts     map[string]int64  `json:"totalResourceCounts"`
	ProcessedResourceCounts map[string]int64  `json:"processedResourceCounts"`
	SkippedResourceCounts   map[string]int64  `json:"skippedResourceCounts"`
	PartIds                 map[string]int    `json:"partIds"`

	FailedReason string `json:"failedReason,omitempty"`
}

// NewJob constructs a New job for the given window and resource types.
// It validates its invariants eagerly so a malformed Job is never
// persisted.
func NewJob(containerName string, resourceTypes []string, period DataPeriod, now time.Time) (*Job, error) {
	if len(resourceTypes) == 0 {
		return nil, ErrEmptyResourceTypes
	}
	if !period.Start.Before(period.End) {
		return nil, ErrInvalidDataPeriod
	}

	j := &Job{
		SchemaVersion:           1,
		Id:                      uuid.NewString(),
		ContainerName:           containerName,
		Status:                  StatusNew,
		ResourceTypes:           append([]string(nil), resourceTypes...),
		DataPeriod:              period,
		CreatedAt:               now,
		CompletedResources:      make(map[string]bool),
		ResourceProgresses:      make(map[string]string),
		TotalResourceCounts:     make(map[string]int64),
		ProcessedResourceCounts: make(map[string]int64),
		SkippedResourceCounts:   make(map[string]int64),
		PartIds:                 make(map[string]int),
	}
	return j, nil
}

// IsResourceCompleted reports whether rt has been fully drained.
func (j *Job) IsResourceCompleted(rt string) bool {
	return j.CompletedResources[rt]
}

// IsTerminal reports whether the Job has reached Succeeded or Failed.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// TaskContextFor builds the in-memory work descriptor for rt from the
// Job's current persisted state.
func (j *Job) TaskContextFor(rt string) *TaskContext {
	token := j.ResourceProgresses[rt]
	completed := j.IsResourceCompleted(rt) || token == DrainedToken
	return &TaskContext{
		ResourceType:      rt,
		ContinuationToken: token,
		SearchCount:       j.TotalResourceCounts[rt],
		ProcessedCount:    j.ProcessedResourceCounts[rt],
		SkippedCount:      j.SkippedResourceCounts[rt],
		PartId:            j.PartIds[rt],
		IsCompleted:       completed,
	}
}

// ApplyProgress overwrites rt's per-resource fields from an in-flight
// progress checkpoint, unless rt is already completed. Callers must
// hold the Job's update lock.
func (j *Job) ApplyProgress(rt string, tc *TaskContext) {
	if j.IsResourceCompleted(rt) {
		return
	}
	j.ResourceProgresses[rt] = tc.ContinuationToken
	j.TotalResourceCounts[rt] = tc.SearchCount
	j.ProcessedResourceCounts[rt] = tc.ProcessedCount
	j.SkippedResourceCounts[rt] = tc.SkippedCount
	j.PartIds[rt] = tc.PartId
}

// ApplyResult folds a task's terminal TaskResult into the Job. If the
// task reports completion, rt is added to CompletedResources before its
// fields are overwritten, so a completed task's result is authoritative
// over any racing progress callback. Callers must hold the Job's update
// lock.
func (j *Job) ApplyResult(rt string, r *TaskResult) {
	if r.IsCompleted {
		j.CompletedResources[rt] = true
		j.ResourceProgresses[rt] = DrainedToken
		j.TotalResourceCounts[rt] = r.SearchCount
		j.ProcessedResourceCounts[rt] = r.ProcessedCount
		j.SkippedResourceCounts[rt] = r.SkippedCount
		j.PartIds[rt] = r.PartId
		return
	}
	if j.IsResourceCompleted(rt) {
		return
	}
	j.ResourceProgresses[rt] = r.ContinuationToken
	j.TotalResourceCounts[rt] = r.SearchCount
	j.ProcessedResourceCounts[rt] = r.ProcessedCount
	j.SkippedResourceCounts[rt] = r.SkippedCount
	j.PartIds[rt] = r.PartId
}

// TaskContext is the in-memory per-resource work descriptor passed to a
// TaskExecutor.
type TaskContext struct {
	ResourceType      string
	ContinuationToken string
	SearchCount       int64
	ProcessedCount    int64
	SkippedCount      int64
	PartId            int
	IsCompleted       bool
}

// TaskResult is the terminal report a TaskExecutor returns from one
// Execute call.
type TaskResult struct {
	ResourceType      string
	ContinuationToken string
	SearchCount       int64
	ProcessedCount    int64
	SkippedCount      int64
	PartId            int
	IsCompleted       bool
}

// SchedulerMetadata is process-wide durable state outside any Job: the
// watermark of the last successfully committed window.
type SchedulerMetadata struct {
	SchemaVersion          int        `json:"schemaVersion"`
	LastScheduledTimestamp *time.Time `json:"lastScheduledTimestamp,omitempty"`
}
