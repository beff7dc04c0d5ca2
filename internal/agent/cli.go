package agent

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/aaronjnichols/puter/internal/policy"
)

// CLIRunner executes the agent CLI and extracts the final result from its
// stream-json output.
type CLIRunner struct {
	bin string
}

func NewCLIRunner(bin string) *CLIRunner {
	return &CLIRunner{bin: strings.TrimSpace(bin)}
}

func (r *CLIRunner) Run(ctx context.Context, req Request) (Result, error) {
	args := buildArgs(req)

	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = req.Dir
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext surfaces "signal: killed" instead of the
			// context error.
			return Result{}, ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = strings.TrimSpace(stdout.String())
		}
		if errText != "" {
			return Result{}, fmt.Errorf("agent cli failed: %w: %s", err, errText)
		}
		return Result{}, fmt.Errorf("agent cli failed: %w", err)
	}

	if errText := strings.TrimSpace(stderr.String()); errText != "" {
		log.Printf("[agent] stderr: %s", errText)
	}
	return parseStream(stdout.String()), nil
}

// buildArgs assembles the CLI invocation. The prompt always travels over
// stdin; -p selects print mode so the process exits after one turn.
func buildArgs(req Request) []string {
	var args []string

	if sid := strings.TrimSpace(req.SessionID); sid != "" {
		args = append(args, "--resume", sid)
	}

	args = append(args, "-p", "--output-format", "stream-json", "--verbose")

	switch req.Mode {
	case policy.ModeAutoAll:
		args = append(args, "--dangerously-skip-permissions")
	case policy.ModeSafe:
		tools := req.AllowedTools
		if len(tools) == 0 {
			tools = policy.SafeTools()
		}
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	case policy.ModeAskAll:
		// No flags on the first run: the agent reports the denied tool and
		// the approval loop re-runs with it on the allow-list.
		if len(req.AllowedTools) > 0 {
			args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
		}
	}

	return args
}
