// Package engine ties the project queues, the approval gate, the agent
// runner, and the output pipeline into one task processing loop.
package engine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aaronjnichols/puter/internal/agent"
	"github.com/aaronjnichols/puter/internal/approval"
	"github.com/aaronjnichols/puter/internal/history"
	"github.com/aaronjnichols/puter/internal/observability"
	"github.com/aaronjnichols/puter/internal/output"
	"github.com/aaronjnichols/puter/internal/project"
	"github.com/aaronjnichols/puter/internal/queue"
	"github.com/aaronjnichols/puter/internal/reliability"
	"github.com/aaronjnichols/puter/internal/schedule"
	"github.com/aaronjnichols/puter/internal/session"
)

const (
	defaultExecTimeout     = 30 * time.Minute
	defaultApprovalTimeout = 5 * time.Minute
	defaultIdleTimeout     = time.Minute
)

// Config bounds the engine's waits. Zero values fall back to the defaults
// above.
type Config struct {
	ExecTimeout      time.Duration
	ApprovalTimeout  time.Duration
	QueueIdleTimeout time.Duration
}

// Deps are the collaborators the engine drives. Scheduler, History, and
// Metrics may be nil; the rest are required.
type Deps struct {
	Projects  *project.Registry
	Sessions  *session.Manager
	Output    *output.Processor
	Runner    agent.Runner
	Scheduler *schedule.Scheduler
	History   history.Store
	Metrics   *observability.Metrics
}

// Engine owns the per-project queues and runs each task to a terminal
// outcome.
type Engine struct {
	cfg      Config
	projects *project.Registry
	sessions *session.Manager
	output   *output.Processor
	runner   agent.Runner
	sched    *schedule.Scheduler
	history  history.Store
	metrics  *observability.Metrics

	queues *queue.Registry
	gate   *approval.Gate

	mu       sync.RWMutex
	notifier Notifier
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = defaultApprovalTimeout
	}
	if cfg.QueueIdleTimeout <= 0 {
		cfg.QueueIdleTimeout = defaultIdleTimeout
	}
	e := &Engine{
		cfg:      cfg,
		projects: deps.Projects,
		sessions: deps.Sessions,
		output:   deps.Output,
		runner:   deps.Runner,
		sched:    deps.Scheduler,
		history:  deps.History,
		metrics:  deps.Metrics,
		gate:     approval.NewGate(cfg.ApprovalTimeout),
		notifier: noopNotifier{},
	}
	e.queues = queue.NewRegistry(cfg.QueueIdleTimeout, e.process)
	return e
}

// SetNotifier attaches the outbound transport.
func (e *Engine) SetNotifier(n Notifier) {
	if n == nil {
		return
	}
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

func (e *Engine) notify() Notifier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.notifier
}

// SubmitParams describe one task submission. An empty Project routes to the
// configured default; ChannelID zero means no channel wants the results.
type SubmitParams struct {
	Project     string
	Prompt      string
	Attachments []string
	ChannelID   int64
}

// Receipt reports where a submitted task landed.
type Receipt struct {
	TaskID   string `json:"task_id"`
	Project  string `json:"project"`
	Position int    `json:"position"`
}

// Submit validates and enqueues a task, acknowledging the queue position on
// the submitting channel. Position zero means the task started immediately.
func (e *Engine) Submit(p SubmitParams) (Receipt, error) {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return Receipt{}, reliability.Configf("task prompt is empty")
	}
	name, _, err := e.projects.Resolve(strings.TrimSpace(p.Project))
	if err != nil {
		return Receipt{}, reliability.Wrap(reliability.KindConfig, err)
	}

	t := &queue.Task{
		Project:     name,
		Prompt:      prompt,
		Attachments: p.Attachments,
		ChannelID:   p.ChannelID,
	}
	pos := e.queues.Enqueue(t)
	e.setQueueDepth(name)
	log.Printf("[engine] task %s queued for %s at position %d", t.ID, name, pos)

	if p.ChannelID != 0 {
		e.sendText(p.ChannelID, name, output.QueuePosition(pos, name))
	}
	return Receipt{TaskID: t.ID, Project: name, Position: pos}, nil
}

// Skip cancels the named project's in-flight task and reports whether one was
// running. The project must be explicit so a skip can never land on a queue
// the operator did not mean.
func (e *Engine) Skip(projectName string) (bool, error) {
	name := strings.TrimSpace(projectName)
	if name == "" {
		return false, reliability.Configf("skip needs an explicit project")
	}
	if _, _, err := e.projects.Resolve(name); err != nil {
		return false, reliability.Wrap(reliability.KindConfig, err)
	}
	return e.queues.SkipCurrent(name), nil
}

// ResolveApproval hands an operator decision to the waiting task. False means
// the prompt already expired or was never registered.
func (e *Engine) ResolveApproval(channelID int64, messageID int, approved bool) bool {
	return e.gate.Resolve(channelID, messageID, approved)
}

// HasPendingApproval reports whether a channel has a prompt awaiting a
// decision.
func (e *Engine) HasPendingApproval(channelID int64) bool {
	return e.gate.HasPending(channelID)
}

// PendingApprovals lists every prompt still waiting for a decision.
func (e *Engine) PendingApprovals() []approval.Pending {
	return e.gate.List()
}

// QueueSnapshot returns the status of every active project queue.
func (e *Engine) QueueSnapshot() map[string]queue.Status {
	return e.queues.Snapshot()
}

// QueueStatus returns one project's queue status.
func (e *Engine) QueueStatus(projectName string) (queue.Status, error) {
	name, _, err := e.projects.Resolve(strings.TrimSpace(projectName))
	if err != nil {
		return queue.Status{}, reliability.Wrap(reliability.KindConfig, err)
	}
	st := queue.Status{Depth: e.queues.Size(name)}
	if cur, ok := e.queues.Current(name); ok {
		st.Current = &cur
	}
	return st, nil
}

// ResetSession clears the stored agent session for a project so its next task
// starts a fresh conversation. It returns the resolved project name and
// whether a session existed.
func (e *Engine) ResetSession(projectName string) (string, bool, error) {
	name, _, err := e.projects.Resolve(strings.TrimSpace(projectName))
	if err != nil {
		return "", false, reliability.Wrap(reliability.KindConfig, err)
	}
	had := e.sessions.Reset(name)
	return name, had, nil
}

// Sessions lists the stored session handle per project.
func (e *Engine) Sessions() map[string]string {
	return e.sessions.All()
}

// ScheduleCreate validates the project and stores a new scheduled task.
func (e *Engine) ScheduleCreate(p schedule.CreateParams) (schedule.Task, error) {
	if e.sched == nil {
		return schedule.Task{}, reliability.Configf("scheduler is not configured")
	}
	name, _, err := e.projects.Resolve(strings.TrimSpace(p.Project))
	if err != nil {
		return schedule.Task{}, reliability.Wrap(reliability.KindConfig, err)
	}
	p.Project = name
	t, err := e.sched.Create(p)
	if err != nil {
		return schedule.Task{}, reliability.Wrap(reliability.KindConfig, err)
	}
	return t, nil
}

// ScheduleDelete removes a scheduled task; false when the id is unknown.
func (e *Engine) ScheduleDelete(id string) bool {
	return e.sched != nil && e.sched.Delete(id)
}

// ScheduleGet returns one scheduled task by id.
func (e *Engine) ScheduleGet(id string) (schedule.Task, bool) {
	if e.sched == nil {
		return schedule.Task{}, false
	}
	return e.sched.Get(id)
}

// Schedules lists every scheduled task.
func (e *Engine) Schedules() []schedule.Task {
	if e.sched == nil {
		return nil
	}
	return e.sched.List()
}

// SchedulesForChannel lists the scheduled tasks created from one channel.
func (e *Engine) SchedulesForChannel(channelID int64) []schedule.Task {
	if e.sched == nil {
		return nil
	}
	return e.sched.ListChannel(channelID)
}

// HandleDue queues a due scheduled task as a normal submission. It is the
// scheduler's DueFunc.
func (e *Engine) HandleDue(t schedule.Task) {
	if e.metrics != nil {
		e.metrics.SchedulerFires.Inc()
	}
	log.Printf("[engine] scheduled task %s due for %s", t.ID, t.Project)
	if _, err := e.Submit(SubmitParams{Project: t.Project, Prompt: t.Prompt, ChannelID: t.ChannelID}); err != nil {
		log.Printf("[engine] scheduled task %s for %s: %v", t.ID, t.Project, err)
		e.sendText(t.ChannelID, t.Project, "Error: scheduled task could not be queued: "+err.Error())
	}
}

// History lists finished runs, newest first. An empty project means all
// projects.
func (e *Engine) History(ctx context.Context, projectName string, limit int) ([]history.Record, error) {
	if e.history == nil {
		return nil, nil
	}
	recs, err := e.history.ListRuns(ctx, strings.TrimSpace(projectName), limit)
	return recs, reliability.Wrap(reliability.KindPersistence, err)
}

func (e *Engine) setQueueDepth(projectName string) {
	if e.metrics == nil {
		return
	}
	e.metrics.QueueDepth.WithLabelValues(projectName).Set(float64(e.queues.Size(projectName)))
}

func (e *Engine) sendText(channelID int64, projectName, text string) {
	if channelID == 0 {
		log.Printf("[engine] #%s: %s", projectName, snippet(text))
		return
	}
	if _, err := e.notify().SendMessage(channelID, projectName, text); err != nil {
		log.Printf("[engine] send to channel %d: %v", channelID, err)
	}
}

func (e *Engine) sendFile(channelID int64, projectName, path string) {
	if channelID == 0 {
		return
	}
	if _, err := e.notify().SendFile(channelID, projectName, path); err != nil {
		log.Printf("[engine] send file %s to channel %d: %v", path, channelID, err)
	}
}
