package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTasksRunFIFOWithinProject(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 3)

	r := NewRegistry(time.Minute, func(ctx context.Context, task *Task) {
		mu.Lock()
		order = append(order, task.Prompt)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		done <- struct{}{}
	})

	for _, p := range []string{"first", "second", "third"} {
		r.Enqueue(&Task{Project: "web", Prompt: p})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("task %d did not finish", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("order = %v, want [first second third]", order)
	}
}

func TestDistinctProjectsRunConcurrently(t *testing.T) {
	started := make(chan string, 2)
	block := make(chan struct{})

	r := NewRegistry(time.Minute, func(ctx context.Context, task *Task) {
		started <- task.Project
		<-block
	})
	defer close(block)

	r.Enqueue(&Task{Project: "web", Prompt: "a"})
	r.Enqueue(&Task{Project: "api", Prompt: "b"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case p := <-started:
			seen[p] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d projects started concurrently, want 2", len(seen))
		}
	}
	if !seen["web"] || !seen["api"] {
		t.Fatalf("started projects = %v", seen)
	}
}

func TestEnqueuePositions(t *testing.T) {
	started := make(chan struct{}, 4)
	block := make(chan struct{})

	r := NewRegistry(time.Minute, func(ctx context.Context, task *Task) {
		started <- struct{}{}
		<-block
	})

	if pos := r.Enqueue(&Task{Project: "web", Prompt: "A"}); pos != 0 {
		t.Fatalf("position A = %d, want 0", pos)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("A never started")
	}

	if pos := r.Enqueue(&Task{Project: "web", Prompt: "B"}); pos != 1 {
		t.Fatalf("position B = %d, want 1", pos)
	}
	if pos := r.Enqueue(&Task{Project: "web", Prompt: "C"}); pos != 2 {
		t.Fatalf("position C = %d, want 2", pos)
	}

	cur, ok := r.Current("web")
	if !ok || cur.Prompt != "A" {
		t.Fatalf("Current() = %+v ok=%v, want A in flight", cur, ok)
	}
	if size := r.Size("web"); size != 2 {
		t.Fatalf("Size() = %d, want 2", size)
	}

	snap := r.Snapshot()
	st, ok := snap["web"]
	if !ok || st.Depth != 2 || st.Current == nil || st.Current.Prompt != "A" {
		t.Fatalf("Snapshot()[web] = %+v", st)
	}

	close(block)
	waitIdle(t, r, "web")
}

func TestSkipCurrentCancelsInflightOnly(t *testing.T) {
	entered := make(chan struct{})
	observed := make(chan error, 1)

	r := NewRegistry(time.Minute, func(ctx context.Context, task *Task) {
		entered <- struct{}{}
		<-ctx.Done()
		observed <- ctx.Err()
	})

	if r.SkipCurrent("web") {
		t.Fatalf("SkipCurrent() = true with nothing in flight")
	}

	r.Enqueue(&Task{Project: "web", Prompt: "long"})
	<-entered

	if !r.SkipCurrent("web") {
		t.Fatalf("SkipCurrent() = false with task in flight")
	}
	select {
	case err := <-observed:
		if err != context.Canceled {
			t.Fatalf("ctx.Err() = %v, want Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task context was not cancelled")
	}

	waitIdle(t, r, "web")
	if r.SkipCurrent("web") {
		t.Fatalf("SkipCurrent() = true after task finished")
	}
	if r.SkipCurrent("ghost") {
		t.Fatalf("SkipCurrent(ghost) = true for unknown project")
	}
}

func TestSkipDoesNotLeakToNextTask(t *testing.T) {
	entered := make(chan string)
	states := make(chan error, 2)

	r := NewRegistry(time.Minute, func(ctx context.Context, task *Task) {
		entered <- task.Prompt
		if task.Prompt == "skipme" {
			<-ctx.Done()
		}
		states <- ctx.Err()
	})

	r.Enqueue(&Task{Project: "web", Prompt: "skipme"})
	r.Enqueue(&Task{Project: "web", Prompt: "runme"})

	if got := <-entered; got != "skipme" {
		t.Fatalf("first task = %q", got)
	}
	r.SkipCurrent("web")
	if err := <-states; err != context.Canceled {
		t.Fatalf("skipped task ctx.Err() = %v, want Canceled", err)
	}

	if got := <-entered; got != "runme" {
		t.Fatalf("second task = %q", got)
	}
	if err := <-states; err != nil {
		t.Fatalf("second task ctx.Err() = %v, want nil", err)
	}
}

func TestWorkerIdlesOutAndRestarts(t *testing.T) {
	done := make(chan string, 2)
	r := NewRegistry(30*time.Millisecond, func(ctx context.Context, task *Task) {
		done <- task.Prompt
	})

	r.Enqueue(&Task{Project: "web", Prompt: "one"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("first task did not run")
	}

	// Let the worker retire, then make sure an enqueue revives it.
	time.Sleep(120 * time.Millisecond)

	r.Enqueue(&Task{Project: "web", Prompt: "two"})
	select {
	case got := <-done:
		if got != "two" {
			t.Fatalf("restarted worker ran %q, want two", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task after idle retirement did not run")
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	done := make(chan string, 1)
	r := NewRegistry(time.Minute, func(ctx context.Context, task *Task) {
		if task.Prompt == "boom" {
			panic("task exploded")
		}
		done <- task.Prompt
	})

	r.Enqueue(&Task{Project: "web", Prompt: "boom"})
	r.Enqueue(&Task{Project: "web", Prompt: "after"})

	select {
	case got := <-done:
		if got != "after" {
			t.Fatalf("survivor task = %q, want after", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive the panic")
	}
}

func TestEnqueueAssignsIDAndTimestamp(t *testing.T) {
	done := make(chan struct{}, 1)
	r := NewRegistry(time.Minute, func(ctx context.Context, task *Task) {
		done <- struct{}{}
	})

	task := &Task{Project: "web", Prompt: "x"}
	r.Enqueue(task)
	if task.ID == "" {
		t.Fatalf("task ID not assigned")
	}
	if task.EnqueuedAt.IsZero() {
		t.Fatalf("EnqueuedAt not assigned")
	}
	<-done
}

func waitIdle(t *testing.T, r *Registry, project string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, busy := r.Current(project); !busy && r.Size(project) == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("project %s never went idle", project)
}
