// Package jobs tracks encodes submitted over SRT, from the first received
// byte until their Sequence (or error) is collected through the API.
package jobs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/pixseq/internal/sequence"
)

// Status is the lifecycle stage of a job.
type Status string

// Job lifecycle stages.
const (
	StatusReceiving Status = "receiving"
	StatusEncoding  Status = "encoding"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// Info is the JSON view of a job.
type Info struct {
	Key        string             `json:"key"`
	Status     Status             `json:"status"`
	StartedAt  int64              `json:"startedAt"`
	FinishedAt int64              `json:"finishedAt,omitempty"`
	Error      string             `json:"error,omitempty"`
	Sequence   *sequence.Sequence `json:"sequence,omitempty"`
}

// Job is one SRT-submitted encode.
type Job struct {
	Key       string
	StartedAt time.Time
	done      chan struct{}

	mu         sync.Mutex
	status     Status
	finishedAt time.Time
	err        error
	result     *sequence.Sequence
}

// Done is closed once the job has completed or failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// SetEncoding marks the upload as fully received.
func (j *Job) SetEncoding() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusReceiving {
		j.status = StatusEncoding
	}
}

// Finish records the outcome of the encode. Only the first call has effect.
func (j *Job) Finish(seq *sequence.Sequence, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished() {
		return
	}
	j.finishedAt = time.Now()
	if err != nil {
		j.status = StatusFailed
		j.err = err
	} else {
		j.status = StatusDone
		j.result = seq
	}
	close(j.done)
}

// Finished reports whether Finish has been called.
func (j *Job) Finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished()
}

// Result returns the Sequence or the error of a finished job. Both are nil
// while the job is still running.
func (j *Job) Result() (*sequence.Sequence, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Info returns a snapshot suitable for JSON. The Sequence is only included
// when withSequence is set.
func (j *Job) Info(withSequence bool) Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := Info{
		Key:       j.Key,
		Status:    j.status,
		StartedAt: j.StartedAt.UnixMilli(),
	}
	if !j.finishedAt.IsZero() {
		info.FinishedAt = j.finishedAt.UnixMilli()
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	if withSequence {
		info.Sequence = j.result
	}
	return info
}

func (j *Job) finished() bool {
	return j.status == StatusDone || j.status == StatusFailed
}

// Manager holds jobs by key.
type Manager struct {
	log  *slog.Logger
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewManager creates a job manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:  log.With("component", "job-manager"),
		jobs: make(map[string]*Job),
	}
}

// Create registers a new job. A finished job with the same key is replaced;
// an unfinished one makes Create return nil and false.
func (m *Manager) Create(key string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.jobs[key]; ok {
		if !old.Finished() {
			m.log.Warn("job already running, rejecting duplicate", "key", key)
			return nil, false
		}
	}

	j := &Job{
		Key:       key,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		status:    StatusReceiving,
	}
	m.jobs[key] = j
	m.log.Info("job created", "key", key)
	return j, true
}

// Get returns the job for key.
func (m *Manager) Get(key string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[key]
	return j, ok
}

// Remove forgets a job. It reports whether the key existed.
func (m *Manager) Remove(key string) bool {
	m.mu.Lock()
	_, ok := m.jobs[key]
	delete(m.jobs, key)
	m.mu.Unlock()

	if ok {
		m.log.Info("job removed", "key", key)
	}
	return ok
}

// List returns a snapshot of every job without their Sequences.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Info(false))
	}
	return out
}

// Prune removes jobs that finished before cutoff and returns how many were
// removed. Running jobs are never pruned.
func (m *Manager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, j := range m.jobs {
		j.mu.Lock()
		expired := j.finished() && j.finishedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(m.jobs, key)
			n++
		}
	}
	if n > 0 {
		m.log.Debug("pruned jobs", "count", n)
	}
	return n
}
