// Package agent runs coding-agent tasks through the external CLI and
// normalizes its stream output into a single result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/aaronjnichols/puter/internal/policy"
)

// Request describes one agent invocation.
type Request struct {
	Prompt       string
	Dir          string
	SessionID    string
	Mode         policy.ApprovalMode
	AllowedTools []string
}

// PermissionDenial is a tool call the agent was not allowed to make.
type PermissionDenial struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Result is the normalized outcome of one invocation. SessionID carries the
// handle for resuming the conversation; Denials is non-empty when the agent
// stopped because a tool needed permission.
type Result struct {
	Success   bool
	Output    string
	SessionID string
	Denials   []PermissionDenial
}

// Runner executes one agent request. Implementations must honor ctx and
// return ctx.Err() when it expires mid-run.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// NewRunner selects a runner for the configured mode. Auto prefers the real
// CLI when it is on PATH and falls back to the mock otherwise.
func NewRunner(mode, bin string) (Runner, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		if b := strings.TrimSpace(bin); b != "" {
			if _, err := exec.LookPath(b); err == nil {
				return NewCLIRunner(b), nil
			}
		}
		log.Printf("[agent] %q not found on PATH, using mock runner", bin)
		return NewMockRunner(), nil
	case "cli":
		if strings.TrimSpace(bin) == "" {
			return nil, errors.New("agent binary path is required for cli mode")
		}
		return NewCLIRunner(bin), nil
	case "mock":
		return NewMockRunner(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", mode)
	}
}
