// Package ste writes transformed rows to rotating output "part"
// files, one open file per resource type, caching the open handles
// the way a per-job file-handle cache would.
package ste

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PartWriter appends rows to newline-delimited JSON part files under a
// base directory, rotating to a new part whenever a resource type's
// current part reaches maxRecords. Safe for concurrent use across
// distinct resource types; a single resource type is never written to
// concurrently by the fan-out (one task owns it).
type PartWriter struct {
	baseDir    string
	maxRecords int

	mu    sync.Mutex
	parts map[string]*openPart
}

type openPart struct {
	file    *os.File
	partID  int
	records int
}

// New creates a PartWriter rooted at baseDir, creating it if absent.
func New(baseDir string, maxRecords int) (*PartWriter, error) {
	if maxRecords <= 0 {
		maxRecords = 50000
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ste: create base dir: %w", err)
	}
	return &PartWriter{
		baseDir:    baseDir,
		maxRecords: maxRecords,
		parts:      make(map[string]*openPart),
	}, nil
}

// Append writes row, terminated by a newline, to resourceType's
// current part, rotating to startingPartID+1 (or higher) if the
// current part is full. It returns the PartId the row was written
// under so callers can track it in TaskContext/TaskResult.
func (w *PartWriter) Append(resourceType string, startingPartID int, row []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	part, err := w.currentPart(resourceType, startingPartID)
	if err != nil {
		return 0, err
	}

	if part.records >= w.maxRecords {
		if err := w.rotate(resourceType, part); err != nil {
			return 0, err
		}
		part = w.parts[resourceType]
	}

	if _, err := part.file.Write(append(row, '\n')); err != nil {
		return 0, fmt.Errorf("ste: write %s part %d: %w", resourceType, part.partID, err)
	}
	part.records++
	return part.partID, nil
}

func (w *PartWriter) currentPart(resourceType string, startingPartID int) (*openPart, error) {
	if part, ok := w.parts[resourceType]; ok {
		return part, nil
	}
	return w.openPart(resourceType, startingPartID)
}

func (w *PartWriter) openPart(resourceType string, partID int) (*openPart, error) {
	f, err := os.OpenFile(w.partPath(resourceType, partID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ste: open %s part %d: %w", resourceType, partID, err)
	}
	part := &openPart{file: f, partID: partID}
	w.parts[resourceType] = part
	return part, nil
}

func (w *PartWriter) rotate(resourceType string, current *openPart) error {
	if err := current.file.Close(); err != nil {
		return fmt.Errorf("ste: close %s part %d: %w", resourceType, current.partID, err)
	}
	_, err := w.openPart(resourceType, current.partID+1)
	return err
}

func (w *PartWriter) partPath(resourceType string, partID int) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s.part%04d.ndjson", resourceType, partID))
}

// Close closes every open part file.
func (w *PartWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for rt, part := range w.parts {
		if err := part.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ste: close %s part %d: %w", rt, part.partID, err)
		}
	}
	w.parts = make(map[string]*openPart)
	return firstErr
}
