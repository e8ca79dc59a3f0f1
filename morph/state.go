package morph

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JobStatus is the lifecycle state of a tracked transfer job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRecord tracks one transfer job through its lifecycle.
type JobRecord struct {
	ID      string          `json:"id"`
	Request TransferRequest `json:"request"`
	Status  JobStatus       `json:"status"`
	Error   string          `json:"error,omitempty"`
	Summary *JobSummary     `json:"summary,omitempty"`
	Created time.Time       `json:"created"`
	Updated time.Time       `json:"updated"`

	// RenderSVG holds the debug view for the render endpoint. Kept out of
	// the JSON cache; it can be rebuilt from the output meshes.
	RenderSVG []byte `json:"-"`
}

// JobTracker tracks transfer jobs for the HTTP endpoints and worker mode.
type JobTracker struct {
	mu        sync.RWMutex
	jobs      map[string]*JobRecord
	order     []string // insertion order
	seq       int
	cachePath string // job-history JSON file; empty disables persistence
}

// NewJobTracker creates a new in-memory job tracker
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*JobRecord)}
}

// NewJobTrackerWithCache creates a job tracker that persists finished jobs
// to the given JSON file. Existing history is loaded on creation; jobs that
// were mid-flight when the process died come back as failed.
func NewJobTrackerWithCache(cachePath string) *JobTracker {
	t := &JobTracker{
		jobs:      make(map[string]*JobRecord),
		cachePath: cachePath,
	}
	if cachePath == "" {
		return t
	}
	records, err := loadJobHistory(cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("warning: failed to load job history: %v", err)
		}
		return t
	}
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if rec.Status == JobQueued || rec.Status == JobRunning {
			rec.Status = JobFailed
			rec.Error = "interrupted by restart"
		}
		t.jobs[rec.ID] = rec
		t.order = append(t.order, rec.ID)
	}
	return t
}

// Create registers a new queued job. When the request carries no ID one is
// assigned. An already-tracked ID is an error so clients cannot silently
// clobber history.
func (t *JobTracker) Create(req TransferRequest) (*JobRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := req.ID
	if id == "" {
		t.seq++
		id = fmt.Sprintf("job-%s-%04d", time.Now().UTC().Format("20060102T150405"), t.seq)
		req.ID = id
	}
	if _, exists := t.jobs[id]; exists {
		return nil, fmt.Errorf("job %q already exists", id)
	}

	now := time.Now()
	rec := &JobRecord{
		ID:      id,
		Request: req,
		Status:  JobQueued,
		Created: now,
		Updated: now,
	}
	t.jobs[id] = rec
	t.order = append(t.order, id)
	return copyRecord(rec), nil
}

// MarkRunning flips a job to running.
func (t *JobTracker) MarkRunning(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.jobs[id]; ok {
		rec.Status = JobRunning
		rec.Updated = time.Now()
	}
}

// Complete stores the job outcome and optional debug render.
func (t *JobTracker) Complete(id string, summary *JobSummary, renderSVG []byte) {
	t.mu.Lock()
	if rec, ok := t.jobs[id]; ok {
		rec.Status = JobCompleted
		rec.Summary = summary
		rec.RenderSVG = renderSVG
		rec.Updated = time.Now()
	}
	t.mu.Unlock()
	t.persist()
}

// Fail marks the job failed with the error text.
func (t *JobTracker) Fail(id string, jobErr error) {
	t.mu.Lock()
	if rec, ok := t.jobs[id]; ok {
		rec.Status = JobFailed
		if jobErr != nil {
			rec.Error = jobErr.Error()
		}
		rec.Updated = time.Now()
	}
	t.mu.Unlock()
	t.persist()
}

// Get returns a copy of the job record
func (t *JobTracker) Get(id string) (*JobRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// List returns copies of all job records, newest first
func (t *JobTracker) List() []*JobRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]*JobRecord, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		result = append(result, copyRecord(t.jobs[t.order[i]]))
	}
	return result
}

// RenderSVG returns the stored debug render for a completed job.
func (t *JobTracker) RenderSVG(id string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.jobs[id]
	if !ok || len(rec.RenderSVG) == 0 {
		return nil, false
	}
	return rec.RenderSVG, true
}

// copyRecord clones a record. The SVG bytes are shared; they are written
// once and only read afterwards.
func copyRecord(rec *JobRecord) *JobRecord {
	cp := *rec
	if rec.Summary != nil {
		s := *rec.Summary
		cp.Summary = &s
	}
	return &cp
}

// persist snapshots the history to the cache file when one is configured.
func (t *JobTracker) persist() {
	t.mu.RLock()
	cachePath := t.cachePath
	var records []*JobRecord
	if cachePath != "" {
		records = make([]*JobRecord, 0, len(t.order))
		for _, id := range t.order {
			records = append(records, copyRecord(t.jobs[id]))
		}
	}
	t.mu.RUnlock()

	if cachePath == "" {
		return
	}
	if err := saveJobHistory(records, cachePath); err != nil {
		log.Printf("warning: failed to save job history: %v", err)
	}
}

// saveJobHistory writes job records to disk as JSON.
func saveJobHistory(records []*JobRecord, path string) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job history: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write job history: %w", err)
	}
	return nil
}

// loadJobHistory reads job records from a JSON file on disk.
func loadJobHistory(path string) ([]*JobRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []*JobRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal job history: %w", err)
	}
	return records, nil
}
