// Package jobs tracks in-flight generation jobs and drives them to a
// terminal status.
package jobs

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/nvim-llm/internal/llm"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusApplied   Status = "applied"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusError || s == StatusStopped
}

// Options describe a job at registration.
type Options struct {
	Provider string
	Model    string
	Mode     string
	// Timeout trips the job context with a llm.TimeoutError cause.
	Timeout time.Duration
}

// Job is one generation request. Its context is the cancellation handle
// handed to the executor.
type Job struct {
	ID      string
	Options Options
	Created time.Time

	ctx         context.Context
	cancel      context.CancelCauseFunc
	stopTimeout context.CancelFunc

	mu     sync.Mutex
	status Status
}

// Context returns the job's cancellation context.
func (j *Job) Context() context.Context { return j.ctx }

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// Stopped reports whether the job was stopped on request.
func (j *Job) Stopped() bool {
	return errors.Is(context.Cause(j.ctx), llm.ErrStopped)
}

func (j *Job) release() {
	j.stopTimeout()
	j.cancel(context.Canceled)
}

// Info is a point-in-time view of a job.
type Info struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	Provider string    `json:"provider,omitempty"`
	Model    string    `json:"model,omitempty"`
	Mode     string    `json:"out,omitempty"`
	Created  time.Time `json:"created_at"`
}

func (j *Job) info() Info {
	return Info{
		ID:       j.ID,
		Status:   j.Status(),
		Provider: j.Options.Provider,
		Model:    j.Options.Model,
		Mode:     j.Options.Mode,
		Created:  j.Created,
	}
}

// Registry maps live job ids to jobs. It is safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job), now: time.Now}
}

// Register creates a pending job whose context derives from parent.
func (r *Registry) Register(parent context.Context, opts Options) *Job {
	ctx, cancel := context.WithCancelCause(parent)
	timed, stopTimeout := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		timed, stopTimeout = context.WithTimeoutCause(ctx, opts.Timeout,
			&llm.TimeoutError{Provider: opts.Provider, After: opts.Timeout})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	for r.jobs[id] != nil {
		id = uuid.NewString()
	}
	job := &Job{
		ID:          id,
		Options:     opts,
		Created:     r.now(),
		ctx:         timed,
		cancel:      cancel,
		stopTimeout: stopTimeout,
		status:      StatusPending,
	}
	r.jobs[id] = job
	return job
}

// UpdateStatus sets the status of a live job. It returns false for an
// unknown id.
func (r *Registry) UpdateStatus(id string, s Status) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	job.setStatus(s)
	return true
}

// Stop trips the job's cancellation handle with llm.ErrStopped and marks it
// stopped. It returns false for an unknown id. Stopping twice is harmless.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel(llm.ErrStopped)
	job.setStatus(StatusStopped)
	return true
}

// StopAll stops every live job and returns how many were stopped.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	live := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		live = append(live, job)
	}
	r.mu.Unlock()
	for _, job := range live {
		job.cancel(llm.ErrStopped)
		job.setStatus(StatusStopped)
	}
	return len(live)
}

// Finalize removes the job unconditionally and releases its context.
func (r *Registry) Finalize(id string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()
	if ok {
		job.release()
	}
}

// Get returns a snapshot of a live job.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return job.info(), true
}

// List returns snapshots of every live job, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.info())
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
