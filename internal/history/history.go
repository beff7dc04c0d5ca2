// Package history records finished task runs so operators can audit what ran
// for each project and how it ended.
package history

import (
	"context"
	"time"
)

// Record is one completed task run.
type Record struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Prompt     string    `json:"prompt"`
	Outcome    string    `json:"outcome"`
	Output     string    `json:"output"`
	SessionID  string    `json:"session_id,omitempty"`
	ChannelID  int64     `json:"channel_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store persists run records. Failures are reported but never block task
// processing; the engine treats history as write-behind.
type Store interface {
	SaveRun(ctx context.Context, record Record) error
	ListRuns(ctx context.Context, project string, limit int) ([]Record, error)
	Close() error
}
