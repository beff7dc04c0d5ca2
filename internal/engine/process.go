package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aaronjnichols/puter/internal/agent"
	"github.com/aaronjnichols/puter/internal/approval"
	"github.com/aaronjnichols/puter/internal/history"
	"github.com/aaronjnichols/puter/internal/output"
	"github.com/aaronjnichols/puter/internal/policy"
	"github.com/aaronjnichols/puter/internal/queue"
	"github.com/aaronjnichols/puter/internal/reliability"
)

const (
	outcomeDone    = "done"
	outcomeFailed  = "failed"
	outcomeDenied  = "denied"
	outcomeSkipped = "skipped"
)

// process runs one dequeued task to its terminal outcome. It is the queue
// registry's ProcessFunc; ctx carries the task's advisory skip signal.
func (e *Engine) process(ctx context.Context, t *queue.Task) {
	started := time.Now()
	e.setQueueDepth(t.Project)
	e.metrics.ObserveStage("queue_wait", started.Sub(t.EnqueuedAt))

	status, report := e.run(ctx, t)

	if e.metrics != nil {
		e.metrics.TasksTotal.WithLabelValues(status).Inc()
		e.metrics.ObserveTaskDuration(time.Since(started))
	}
	log.Printf("[engine] task %s for %s finished: %s", t.ID, t.Project, status)

	e.saveHistory(history.Record{
		ID:        t.ID,
		Project:   t.Project,
		Prompt:    t.Prompt,
		Outcome:   status,
		Output:    report,
		SessionID: e.sessions.Get(t.Project),
		ChannelID: t.ChannelID,
		StartedAt: started,
	})
}

// run drives the execute/approve loop until a terminal outcome and sends the
// task's single outbound report. It returns the outcome and the report text.
func (e *Engine) run(ctx context.Context, t *queue.Task) (string, string) {
	proj, ok := e.projects.Get(t.Project)
	if !ok {
		// Removed between enqueue and dequeue.
		msg, _ := e.output.Process(t.Project, "", false, fmt.Sprintf("project %s is no longer configured", t.Project))
		e.sendText(t.ChannelID, t.Project, msg)
		return outcomeFailed, msg
	}

	prompt := t.Prompt
	if len(t.Attachments) > 0 {
		prompt += fmt.Sprintf("\n\n[Images attached: %s]", strings.Join(t.Attachments, ", "))
	}

	req := agent.Request{
		Prompt:    prompt,
		Dir:       proj.Path,
		SessionID: e.sessions.Get(t.Project),
		Mode:      proj.ApprovalMode,
	}

	for {
		if ctx.Err() != nil {
			return e.reportSkipped(t)
		}

		res, abandoned, err := e.invoke(ctx, t, req)
		if abandoned {
			return e.reportSkipped(t)
		}
		if err != nil {
			return outcomeFailed, e.reportError(t, err)
		}
		if res.SessionID != "" {
			req.SessionID = res.SessionID
		}

		if len(res.Denials) > 0 && req.Mode == policy.ModeAskAll {
			denial := res.Denials[0]
			approved := e.askApproval(ctx, t, denial)
			if ctx.Err() != nil {
				return e.reportSkipped(t)
			}
			if approved {
				req.AllowedTools = append(req.AllowedTools, denial.Tool)
				log.Printf("[engine] task %s: %s approved, re-running", t.ID, denial.Tool)
				continue
			}
			msg := fmt.Sprintf("Permission denied for %s. Task stopped.", denial.Tool)
			e.sendText(t.ChannelID, t.Project, msg)
			return outcomeDenied, msg
		}

		msg, file := e.output.Process(t.Project, res.Output, res.Success, "")
		e.sendText(t.ChannelID, t.Project, msg)
		if file != "" {
			e.sendFile(t.ChannelID, t.Project, file)
		}
		if !res.Success {
			return outcomeFailed, msg
		}
		return outcomeDone, msg
	}
}

type invokeOut struct {
	res agent.Result
	err error
}

// invoke runs the agent once under the execution deadline. A skip cancels the
// wait, not the subprocess; an abandoned run still stores its session handle
// when it eventually finishes.
func (e *Engine) invoke(ctx context.Context, t *queue.Task, req agent.Request) (agent.Result, bool, error) {
	execCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ExecTimeout)
	ch := make(chan invokeOut, 1)
	go func() {
		defer cancel()
		res, err := e.runner.Run(execCtx, req)
		if err == nil && res.SessionID != "" {
			e.sessions.Set(t.Project, res.SessionID)
		}
		ch <- invokeOut{res: res, err: err}
	}()

	started := time.Now()
	select {
	case out := <-ch:
		e.metrics.ObserveStage("execution", time.Since(started))
		return out.res, false, out.err
	case <-ctx.Done():
		log.Printf("[engine] task %s for %s: skip requested, abandoning run", t.ID, t.Project)
		return agent.Result{}, true, nil
	}
}

// askApproval prompts the channel and blocks for the decision. False covers
// denial, gate timeout, prompt delivery failure, and skip; the caller tells
// skip apart by checking ctx.
func (e *Engine) askApproval(ctx context.Context, t *queue.Task, denial agent.PermissionDenial) bool {
	text := output.PermissionRequest(denial.Tool, denial.Input, t.Project)
	msgID, err := e.notify().PromptApproval(t.ChannelID, t.Project, denial.Tool, text, e.cfg.ApprovalTimeout)
	if err != nil {
		log.Printf("[engine] approval prompt for task %s: %v", t.ID, err)
		e.metrics.ObserveIndicator("approval_prompt_failed")
		return false
	}

	started := time.Now()
	approved := e.gate.Request(ctx, approval.Pending{
		Project:   t.Project,
		Tool:      denial.Tool,
		Input:     denial.Input,
		ChannelID: t.ChannelID,
		MessageID: msgID,
	})
	if ctx.Err() != nil {
		return false
	}
	if e.metrics != nil {
		decision := "denied"
		if approved {
			decision = "approved"
		}
		e.metrics.ApprovalsTotal.WithLabelValues(decision).Inc()
		e.metrics.ObserveApprovalLatency(time.Since(started))
	}
	return approved
}

func (e *Engine) reportSkipped(t *queue.Task) (string, string) {
	e.metrics.ObserveIndicator("tasks_skipped")
	msg := fmt.Sprintf("Task skipped for #%s.", t.Project)
	e.sendText(t.ChannelID, t.Project, msg)
	return outcomeSkipped, msg
}

func (e *Engine) reportError(t *queue.Task, err error) string {
	kind := reliability.Classify(err)
	errText := err.Error()
	if kind == reliability.KindExecTimeout {
		errText = fmt.Sprintf("Command timed out after %d seconds", int(e.cfg.ExecTimeout.Seconds()))
	}
	log.Printf("[engine] task %s for %s failed (%s): %v", t.ID, t.Project, kind, err)
	msg, _ := e.output.Process(t.Project, "", false, errText)
	e.sendText(t.ChannelID, t.Project, msg)
	return msg
}

// saveHistory is write-behind: a slow or failing store never holds up the
// queue worker.
func (e *Engine) saveHistory(rec history.Record) {
	if e.history == nil {
		return
	}
	rec.FinishedAt = time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.history.SaveRun(ctx, rec); err != nil {
			log.Printf("[engine] history save for task %s: %v", rec.ID, err)
			if e.metrics != nil {
				e.metrics.PersistenceFailures.WithLabelValues("history").Inc()
			}
		}
	}()
}
