// Package queue serializes task execution per project: one lazily started
// worker per project, strict FIFO within it, full concurrency across
// projects.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one queued unit of work.
type Task struct {
	ID          string
	Project     string
	Prompt      string
	Attachments []string
	ChannelID   int64
	EnqueuedAt  time.Time
}

// ProcessFunc runs one task. The context is cancelled when a skip is
// requested for the task; implementations observe it at their own decision
// points, nothing is force-killed.
type ProcessFunc func(ctx context.Context, t *Task)

// Status is one project's queue state.
type Status struct {
	Depth   int
	Current *Task
}

type projectQueue struct {
	pending []*Task
	current *Task
	running bool
	wake    chan struct{}

	cancelInflight context.CancelFunc
}

// Registry owns one queue and at most one live worker per project. A single
// mutex guards all queue state, including worker retirement, so an enqueue
// can never land on a dead queue without a worker.
type Registry struct {
	mu          sync.Mutex
	queues      map[string]*projectQueue
	idleTimeout time.Duration
	process     ProcessFunc
}

// NewRegistry creates a registry whose workers retire after idleTimeout
// without work.
func NewRegistry(idleTimeout time.Duration, process ProcessFunc) *Registry {
	return &Registry{
		queues:      map[string]*projectQueue{},
		idleTimeout: idleTimeout,
		process:     process,
	}
}

// Enqueue appends t to its project's queue, starting a worker when none is
// running, and returns the task's position: 0 starts immediately, otherwise
// pending depth plus one when a task is in flight.
func (r *Registry) Enqueue(t *Task) int {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	r.mu.Lock()
	q := r.queues[t.Project]
	if q == nil {
		q = &projectQueue{wake: make(chan struct{}, 1)}
		r.queues[t.Project] = q
	}
	pos := len(q.pending)
	if q.current != nil {
		pos++
	}
	q.pending = append(q.pending, t)
	if !q.running {
		q.running = true
		go r.run(t.Project, q)
	}
	r.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return pos
}

func (r *Registry) run(project string, q *projectQueue) {
	log.Printf("[queue] worker started for %s", project)
	for {
		t, ctx, ok := r.next(q)
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-time.After(r.idleTimeout):
				if r.retire(project, q) {
					log.Printf("[queue] worker for %s idle, stopping", project)
					return
				}
				continue
			}
		}
		r.runOne(ctx, t)
		r.finish(q)
	}
}

// runOne contains panics so a misbehaving task cannot take the worker down.
func (r *Registry) runOne(ctx context.Context, t *Task) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[queue] task %s for %s panicked: %v", t.ID, t.Project, rec)
		}
	}()
	r.process(ctx, t)
}

func (r *Registry) next(q *projectQueue) (*Task, context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	ctx, cancel := context.WithCancel(context.Background())
	q.current = t
	q.cancelInflight = cancel
	return t, ctx, true
}

func (r *Registry) finish(q *projectQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.cancelInflight != nil {
		q.cancelInflight()
		q.cancelInflight = nil
	}
	q.current = nil
}

// retire flips the worker dead only when the queue is still empty; a racing
// enqueue that got the lock first keeps the worker alive.
func (r *Registry) retire(project string, q *projectQueue) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(q.pending) > 0 {
		return false
	}
	q.running = false
	return true
}

// SkipCurrent cancels the named project's in-flight task context and reports
// whether a task was in flight. The signal is advisory and bound to that
// task; it never carries over to the next one.
func (r *Registry) SkipCurrent(project string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[project]
	if q == nil || q.current == nil {
		return false
	}
	log.Printf("[queue] skip requested for %s (task %s)", project, q.current.ID)
	if q.cancelInflight != nil {
		q.cancelInflight()
	}
	return true
}

// Size returns the pending depth, excluding any in-flight task.
func (r *Registry) Size(project string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[project]
	if q == nil {
		return 0
	}
	return len(q.pending)
}

// Current returns a copy of the in-flight task, if any.
func (r *Registry) Current(project string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[project]
	if q == nil || q.current == nil {
		return Task{}, false
	}
	return *q.current, true
}

// Snapshot returns every project's status in one consistent pass.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.queues))
	for name, q := range r.queues {
		st := Status{Depth: len(q.pending)}
		if q.current != nil {
			cp := *q.current
			st.Current = &cp
		}
		out[name] = st
	}
	return out
}
