package cron

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Job is a unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduledJob struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry holds the jobs and their cadence. A zero cadence means every cycle.
type Registry struct {
	entries []*scheduledJob
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Schedule adds job to run at most once per every. Names must be unique.
func (r *Registry) Schedule(job Job, every time.Duration) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("job name required")
	}
	for _, entry := range r.entries {
		if entry.job.Name() == name {
			return fmt.Errorf("job %q already scheduled", name)
		}
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, &scheduledJob{job: job, every: every})
	return nil
}

// Jobs returns every scheduled job in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, entry := range r.entries {
		jobs = append(jobs, entry.job)
	}
	return jobs
}

// Due returns the jobs whose cadence has elapsed at now.
func (r *Registry) Due(now time.Time) []Job {
	var due []Job
	for _, entry := range r.entries {
		if entry.lastRun.IsZero() || entry.every == 0 || !now.Before(entry.lastRun.Add(entry.every)) {
			due = append(due, entry.job)
		}
	}
	return due
}

// MarkRun records a successful run so the job waits a full cadence before running again.
func (r *Registry) MarkRun(name string, at time.Time) {
	for _, entry := range r.entries {
		if entry.job.Name() == name {
			entry.lastRun = at
			return
		}
	}
}
