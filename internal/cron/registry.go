package cron

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Job is one maintenance task run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs under unique names in registration order.
type Registry struct {
	order []string
	byKey map[string]Job
}

// NewRegistry registers jobs in order, skipping nil entries.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds job; names are matched case-insensitively.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	key := normalizeName(job.Name())
	if key == "" {
		return fmt.Errorf("job name is required")
	}
	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("job %q already registered", job.Name())
	}
	r.order = append(r.order, key)
	r.byKey[key] = job
	return nil
}

// Lookup finds a job by name.
func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byKey[normalizeName(name)]
	return job, ok
}

// Select resolves names to jobs in the order given. No names selects all.
func (r *Registry) Select(names ...string) ([]Job, error) {
	if len(names) == 0 {
		return r.Jobs(), nil
	}
	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		job, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown job %q (known: %s)", name, strings.Join(r.Names(), ", "))
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Names lists registered job names in order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Jobs returns a copy of the registered jobs in order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.order))
	for _, key := range r.order {
		jobs = append(jobs, r.byKey[key])
	}
	return jobs
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
