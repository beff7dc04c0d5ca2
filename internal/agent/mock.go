package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockRunner provides deterministic local results when the agent CLI is
// unavailable. It keeps the session handle stable so resume plumbing can be
// exercised without the real binary.
type MockRunner struct{}

func NewMockRunner() *MockRunner { return &MockRunner{} }

func (r *MockRunner) Run(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		sid = "mock-session"
	}
	return Result{
		Success:   true,
		Output:    buildMockOutput(req),
		SessionID: sid,
	}, nil
}

func buildMockOutput(req Request) string {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "Nothing to do."
	}
	if len(req.AllowedTools) == 0 {
		return fmt.Sprintf("Completed (mock): %s", prompt)
	}
	return fmt.Sprintf("Completed (mock): %s\nAllowed tools: %s",
		prompt, strings.Join(req.AllowedTools, ", "))
}
