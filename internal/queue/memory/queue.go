// Package memory provides an in-process job queue.
//
// Jobs are kept in one ordered list shared by all applications. A job is
// queued at most once: enqueueing it again leaves it in place, unless it is
// enqueued at the head, which moves it to the front.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/djlord-it/deploytrigger/internal/domain"
)

var ErrQueueFull = errors.New("job queue is full")

// MetricsSink defines the interface for recording queue metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	QueueDepthUpdate(depth int)
	QueueCapacitySet(capacity int)
}

// Queue is an in-memory job queue. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	jobs     []domain.QueuedJob
	capacity int
	ready    chan struct{}
	metrics  MetricsSink // optional, nil = disabled
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the number of queued jobs. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		q.capacity = n
	}
}

// WithMetrics attaches a metrics sink to the queue.
func WithMetrics(sink MetricsSink) Option {
	return func(q *Queue) {
		q.metrics = sink
	}
}

// New returns an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{ready: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics != nil && q.capacity > 0 {
		q.metrics.QueueCapacitySet(q.capacity)
	}
	return q
}

func (q *Queue) indexOf(job domain.QueuedJob) int {
	for i, j := range q.jobs {
		if j == job {
			return i
		}
	}
	return -1
}

// Enqueue adds a job, at the head of the queue if first is set.
func (q *Queue) Enqueue(ctx context.Context, id domain.ApplicationID, jobType domain.JobType, first bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job := domain.QueuedJob{ApplicationID: id, JobType: jobType}

	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(job)
	switch {
	case i >= 0 && !first:
		return nil
	case i >= 0:
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
	case q.capacity > 0 && len(q.jobs) >= q.capacity:
		return ErrQueueFull
	}

	if first {
		q.jobs = append([]domain.QueuedJob{job}, q.jobs...)
	} else {
		q.jobs = append(q.jobs, job)
	}
	q.updated()
	return nil
}

// RemoveAll drops every queued job of the application.
func (q *Queue) RemoveAll(ctx context.Context, id domain.ApplicationID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if j.ApplicationID != id {
			kept = append(kept, j)
		}
	}
	clear(q.jobs[len(kept):])
	q.jobs = kept
	q.updated()
	return nil
}

// Jobs returns the application's queued jobs in queue order.
func (q *Queue) Jobs(ctx context.Context, id domain.ApplicationID) ([]domain.JobType, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := []domain.JobType{}
	for _, j := range q.jobs {
		if j.ApplicationID == id {
			jobs = append(jobs, j.JobType)
		}
	}
	return jobs, nil
}

// Take removes and returns up to n jobs from the head of the queue.
func (q *Queue) Take(ctx context.Context, n int) ([]domain.QueuedJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.jobs) {
		n = len(q.jobs)
	}
	taken := make([]domain.QueuedJob, n)
	copy(taken, q.jobs[:n])
	q.jobs = append(q.jobs[:0], q.jobs[n:]...)
	q.updated()
	return taken, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Ready returns a channel which receives a value after jobs were added.
// Receivers should Take until the queue is empty.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// updated must be called with q.mu held.
func (q *Queue) updated() {
	if q.metrics != nil {
		q.metrics.QueueDepthUpdate(len(q.jobs))
	}
	if len(q.jobs) == 0 {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
