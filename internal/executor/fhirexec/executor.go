// Package fhirexec is the reference TaskExecutor: it pages through a
// SourceClient, transforms each record, and writes the result to a
// rotating part file via ste.PartWriter.
package fhirexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/riverlane/fhirjob/internal/domain"
	"github.com/riverlane/fhirjob/internal/executor"
	"github.com/riverlane/fhirjob/internal/executor/ste"
)

// SearchPage is one page of upstream search results.
type SearchPage struct {
	Records               []json.RawMessage
	Total                 int
	NextContinuationToken string
}

// SourceClient pages through a resource type's records, starting from
// continuationToken (empty for the first page). An empty
// NextContinuationToken on the returned page means pagination is
// exhausted.
type SourceClient interface {
	Search(ctx context.Context, resourceType, continuationToken string) (SearchPage, error)
}

// Transform converts one raw upstream record into a row appended to
// the output part, or requests it be skipped.
type Transform func(resourceType string, raw json.RawMessage) (row []byte, skip bool, err error)

// PassThrough is the default Transform: the raw record becomes the row
// verbatim, standing in for a real columnar encoding.
func PassThrough(_ string, raw json.RawMessage) ([]byte, bool, error) {
	return []byte(raw), false, nil
}

// Executor is the reference TaskExecutor implementation.
type Executor struct {
	source    SourceClient
	transform Transform
	parts     *ste.PartWriter
}

// New constructs an Executor. A nil transform defaults to PassThrough.
func New(source SourceClient, parts *ste.PartWriter, transform Transform) *Executor {
	if transform == nil {
		transform = PassThrough
	}
	return &Executor{source: source, transform: transform, parts: parts}
}

// Execute implements executor.TaskExecutor.
func (e *Executor) Execute(ctx context.Context, tc *domain.TaskContext, sink executor.ProgressSink) (*domain.TaskResult, error) {
	result := &domain.TaskResult{
		ResourceType:      tc.ResourceType,
		ContinuationToken: tc.ContinuationToken,
		SearchCount:       tc.SearchCount,
		ProcessedCount:    tc.ProcessedCount,
		SkippedCount:      tc.SkippedCount,
		PartId:            tc.PartId,
	}

	token := tc.ContinuationToken
	for {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("execute %s: %w", tc.ResourceType, ctx.Err())
		default:
		}

		page, err := e.source.Search(ctx, tc.ResourceType, token)
		if err != nil {
			return result, fmt.Errorf("search %s: %w", tc.ResourceType, err)
		}

		result.SearchCount += int64(page.Total)

		for _, raw := range page.Records {
			row, skip, err := e.transform(tc.ResourceType, raw)
			if err != nil {
				return result, fmt.Errorf("transform %s record: %w", tc.ResourceType, err)
			}
			if skip {
				result.SkippedCount++
				continue
			}

			partID, err := e.parts.Append(tc.ResourceType, result.PartId, row)
			if err != nil {
				return result, fmt.Errorf("write %s part: %w", tc.ResourceType, err)
			}
			result.PartId = partID
			result.ProcessedCount++
		}

		token = page.NextContinuationToken
		result.ContinuationToken = token
		result.IsCompleted = token == ""

		sink.Progress(ctx, tc.ResourceType, &domain.TaskContext{
			ResourceType:      tc.ResourceType,
			ContinuationToken: token,
			SearchCount:       result.SearchCount,
			ProcessedCount:    result.ProcessedCount,
			SkippedCount:      result.SkippedCount,
			PartId:            result.PartId,
			IsCompleted:       result.IsCompleted,
		})

		if result.IsCompleted {
			return result, nil
		}
	}
}
