// Package fsstore is a filesystem-backed jobstore.Store: JSON
// snapshots under a base directory, with an advisory lease implemented
// as a JSON file carrying an owner and an expiry. It trades
// distributed correctness for zero external dependencies, making it
// the store of choice for local development and the test suite.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/riverlane/fhirjob/internal/domain"
	"github.com/riverlane/fhirjob/internal/errs"
)

const (
	activeDir    = "active"
	completedDir = "completed"
	failedDir    = "failed"
	metadataFile = "scheduler/metadata.json"
	leaseFile    = "scheduler/lease.json"

	// DefaultLeaseTTL is used when the Store is constructed without an
	// explicit TTL.
	DefaultLeaseTTL = 15 * time.Minute
)

// leaseRecord is the persisted shape of scheduler/lease.json.
type leaseRecord struct {
	OwnerID   string    `json:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is a filesystem-backed jobstore.Store rooted at Dir. All
// operations are serialized through a single in-process mutex; this is
// sufficient for single-process use (one fhirjob instance per base
// directory), which is the only deployment fsstore targets.
type Store struct {
	mu       sync.Mutex
	dir      string
	leaseTTL time.Duration
}

// New creates a Store rooted at dir, creating the active/completed/
// failed/scheduler subdirectories if they do not exist.
func New(dir string, leaseTTL time.Duration) (*Store, error) {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	s := &Store{dir: dir, leaseTTL: leaseTTL}
	for _, sub := range []string{activeDir, completedDir, failedDir, "scheduler"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("fsstore: create %s: %w", sub, err)
		}
	}
	return s, nil
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

// writeJSON atomically writes v to path: encode to a temp file in the
// same directory, then rename over the destination, following the
// write-temp-then-rename idiom used for durable snapshot writes.
func writeJSON(path string, v interface{}) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func readJSON(path string, v interface{}) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(v); err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return true, nil
}

// AcquireLease acquires scheduler/lease.json for ownerID if it is
// unheld or expired.
func (s *Store) AcquireLease(_ context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec leaseRecord
	found, err := readJSON(s.path(leaseFile), &rec)
	if err != nil {
		return false, err
	}

	now := time.Now()
	if found && rec.OwnerID != ownerID && now.Before(rec.ExpiresAt) {
		return false, nil
	}

	rec = leaseRecord{OwnerID: ownerID, ExpiresAt: now.Add(s.leaseTTL)}
	if err := writeJSON(s.path(leaseFile), &rec); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLease removes the lease file iff ownerID currently holds it.
func (s *Store) ReleaseLease(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec leaseRecord
	found, err := readJSON(s.path(leaseFile), &rec)
	if err != nil {
		return err
	}
	if !found || rec.OwnerID != ownerID {
		return nil
	}
	if err := os.Remove(s.path(leaseFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// GetSchedulerMetadata returns (nil, nil) if scheduler/metadata.json
// does not exist yet.
func (s *Store) GetSchedulerMetadata(_ context.Context) (*domain.SchedulerMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta domain.SchedulerMetadata
	found, err := readJSON(s.path(metadataFile), &meta)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &meta, nil
}

// GetActiveJobs lists every record under active/, in the directory's
// natural (filename-sorted) order.
func (s *Store) GetActiveJobs(_ context.Context) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listJobs(activeDir)
}

func (s *Store) listJobs(dir string) ([]*domain.Job, error) {
	entries, err := os.ReadDir(s.path(dir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}

	var jobs []*domain.Job
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var job domain.Job
		if _, err := readJSON(s.path(dir, e.Name()), &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// UpdateJob overwrites active/<id>.json with a full snapshot of job.
func (s *Store) UpdateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path(activeDir, job.Id+".json"), job)
}

// CompleteJob moves job out of active/ and into completed/ or failed/
// depending on job.Status. Removing an already-absent active record is
// not an error, making the operation idempotent.
func (s *Store) CompleteJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := completedDir
	if job.Status == domain.StatusFailed {
		dest = failedDir
	}

	if err := writeJSON(s.path(dest, job.Id+".json"), job); err != nil {
		return err
	}

	if err := os.Remove(s.path(activeDir, job.Id+".json")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// CommitJobData writes the final active/<id>.json snapshot and
// advances scheduler/metadata.json's watermark in one critical
// section, so no concurrent in-process caller observes one write
// without the other. The two files are written separately: a crash
// between them leaves the snapshot updated and the watermark not yet
// advanced, and a retry with the same job completes the commit.
func (s *Store) CommitJobData(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.path(activeDir, job.Id+".json"), job); err != nil {
		return err
	}

	end := job.DataPeriod.End
	meta := domain.SchedulerMetadata{SchemaVersion: 1, LastScheduledTimestamp: &end}
	return writeJSON(s.path(metadataFile), &meta)
}
