package schedule

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	errEmptyPrompt      = errors.New("prompt must not be empty")
	errFirstRunRequired = errors.New("once tasks need an explicit first run time")
	errBadDayOfWeek     = errors.New("day_of_week must be 0 (Monday) through 6 (Sunday)")
)

// DueFunc receives each due task. Failures inside it are its own business;
// the scheduler advances the task either way.
type DueFunc func(t Task)

// Scheduler holds the authoritative in-memory collection and drives the tick
// loop. Every mutation is written through the store; store failures are
// logged and memory stays authoritative.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*Task
	store *Store
	tick  time.Duration
	now   func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler loads the stored collection. A corrupt or unreadable file is
// logged and the scheduler starts empty rather than failing startup.
func NewScheduler(store *Store, tick time.Duration) *Scheduler {
	s := &Scheduler{
		tasks: map[string]*Task{},
		store: store,
		tick:  tick,
		now:   time.Now,
	}
	loaded, err := store.Load()
	if err != nil {
		log.Printf("[scheduler] load: %v (starting empty)", err)
		return s
	}
	for i := range loaded {
		t := loaded[i]
		s.tasks[t.ID] = &t
	}
	if len(s.tasks) > 0 {
		log.Printf("[scheduler] loaded %d scheduled task(s)", len(s.tasks))
	}
	return s
}

// CreateParams are the operator-supplied fields for a new scheduled task.
type CreateParams struct {
	ChannelID int64
	Project   string
	Prompt    string
	Kind      Kind
	FirstRun  time.Time
	TimeOfDay string
	DayOfWeek *int
}

// Create validates and stores a new task. For recurring kinds a zero
// FirstRun means "the next natural occurrence"; once-tasks must name their
// run time explicitly.
func (s *Scheduler) Create(p CreateParams) (Task, error) {
	kind, err := ParseKind(string(p.Kind))
	if err != nil {
		return Task{}, err
	}
	if p.Prompt == "" {
		return Task{}, errEmptyPrompt
	}

	t := Task{
		ID:        uuid.NewString()[:8],
		ChannelID: p.ChannelID,
		Project:   p.Project,
		Prompt:    p.Prompt,
		Kind:      kind,
		NextRun:   p.FirstRun,
		Enabled:   true,
		TimeOfDay: p.TimeOfDay,
		DayOfWeek: p.DayOfWeek,
	}

	switch kind {
	case KindOnce:
		if t.NextRun.IsZero() {
			return Task{}, errFirstRunRequired
		}
	case KindDaily, KindWeekly:
		hour, minute, err := parseTimeOfDay(t.TimeOfDay)
		if err != nil {
			return Task{}, err
		}
		if kind == KindWeekly {
			if t.DayOfWeek == nil || *t.DayOfWeek < 0 || *t.DayOfWeek > 6 {
				return Task{}, errBadDayOfWeek
			}
		}
		if t.NextRun.IsZero() {
			now := s.now()
			if kind == KindDaily {
				t.NextRun = nextDaily(now, hour, minute)
			} else {
				t.NextRun = nextWeekly(now, *t.DayOfWeek, hour, minute)
			}
		}
	}

	s.mu.Lock()
	s.tasks[t.ID] = &t
	s.saveLocked()
	s.mu.Unlock()

	log.Printf("[scheduler] created %s task %s for %s (next run %s)",
		t.Kind, t.ID, t.Project, t.NextRun.Format(time.RFC3339))
	return t, nil
}

// Delete removes a task; false when the id is unknown.
func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	s.saveLocked()
	return true
}

// List returns all tasks sorted by next run time.
func (s *Scheduler) List() []Task {
	return s.list(func(*Task) bool { return true })
}

// ListChannel returns one channel's tasks sorted by next run time.
func (s *Scheduler) ListChannel(channelID int64) []Task {
	return s.list(func(t *Task) bool { return t.ChannelID == channelID })
}

func (s *Scheduler) list(keep func(*Task) bool) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].NextRun.Before(out[j].NextRun)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one task.
func (s *Scheduler) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Start spawns the tick loop. Stop (or cancelling ctx) halts it.
func (s *Scheduler) Start(ctx context.Context, onDue DueFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(onDue)
			}
		}
	}()
	log.Printf("[scheduler] started (tick %s)", s.tick)
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[scheduler] stopped")
}

// runDue fires every enabled task whose next run is at or before now, then
// advances and persists each one individually so a crash mid-tick loses at
// most the unprocessed remainder.
func (s *Scheduler) runDue(onDue DueFunc) {
	now := s.now()

	s.mu.Lock()
	var due []Task
	for _, t := range s.tasks {
		if t.Enabled && !t.NextRun.After(now) {
			due = append(due, *t)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].NextRun.Before(due[j].NextRun) })

	for _, fired := range due {
		log.Printf("[scheduler] task %s due for %s", fired.ID, fired.Project)
		s.invoke(onDue, fired)

		s.mu.Lock()
		t, ok := s.tasks[fired.ID]
		if !ok {
			// Deleted while firing.
			s.mu.Unlock()
			continue
		}
		ranAt := now
		t.LastRun = &ranAt
		if err := advance(t, now); err != nil {
			log.Printf("[scheduler] advance task %s: %v (disabling)", t.ID, err)
			t.Enabled = false
		}
		s.saveLocked()
		s.mu.Unlock()
	}
}

// invoke shields the loop from a panicking callback.
func (s *Scheduler) invoke(onDue DueFunc, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[scheduler] task %s callback panicked: %v", t.ID, rec)
		}
	}()
	onDue(t)
}

func (s *Scheduler) saveLocked() {
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, *t)
	}
	if err := s.store.Save(tasks); err != nil {
		log.Printf("[scheduler] persist: %v", err)
	}
}
