package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job represents an async batch action (e.g. DISABLE over selected bundles).
type Job struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Kind       string     `json:"kind"`
	Profile    string     `json:"profile"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Done       int        `json:"done"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	Output     []string   `json:"output"`

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the context that is cancelled when the job is cancelled.
func (j *Job) Context() context.Context {
	return j.ctx
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// Progress records the outcome of one batch item.
func (j *Job) Progress(failed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Done++
	if failed {
		j.Failed++
	}
}

// State returns the job status under lock.
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// JobView is a point-in-time copy of a job, safe to serialise.
type JobView struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Kind       string     `json:"kind"`
	Profile    string     `json:"profile"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Done       int        `json:"done"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	Output     []string   `json:"output"`
}

// View returns a snapshot of the job.
func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.Output))
	copy(out, j.Output)
	return JobView{
		ID: j.ID, Action: j.Action, Kind: j.Kind, Profile: j.Profile,
		Status: j.Status, StartedAt: j.StartedAt, FinishedAt: j.FinishedAt,
		Total: j.Total, Done: j.Done, Failed: j.Failed, Error: j.Error,
		Output: out,
	}
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	return j.State() != JobRunning
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	j.finish(JobCompleted, "")
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.finish(JobFailed, err)
}

// Cancel requests cooperative cancellation. The batch loop observes it
// between items; the job is marked cancelled immediately.
func (j *Job) Cancel() {
	j.cancel()
	j.finish(JobCancelled, "")
}

func (j *Job) finish(status, err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != JobRunning {
		return
	}
	j.Status = status
	j.Error = err
	now := time.Now()
	j.FinishedAt = &now
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new running job, assigning it a UUID.
func (s *JobStore) Create(action, kind, profile string, total int) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.New().String(),
		Action:    action,
		Kind:      kind,
		Profile:   profile,
		Status:    JobRunning,
		StartedAt: time.Now(),
		Total:     total,
		Output:    []string{},
		ctx:       ctx,
		cancel:    cancel,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}
