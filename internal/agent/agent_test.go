package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aaronjnichols/puter/internal/policy"
)

func TestNewRunnerAutoFallsBackToMockWhenCLIMissing(t *testing.T) {
	r, err := NewRunner("auto", "/definitely/missing/agent-cli")
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	if _, ok := r.(*MockRunner); !ok {
		t.Fatalf("NewRunner(auto) = %T, want *MockRunner", r)
	}
}

func TestNewRunnerMock(t *testing.T) {
	r, err := NewRunner("mock", "")
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	if _, ok := r.(*MockRunner); !ok {
		t.Fatalf("NewRunner(mock) = %T, want *MockRunner", r)
	}
}

func TestNewRunnerCLIRequiresBinary(t *testing.T) {
	if _, err := NewRunner("cli", "  "); err == nil {
		t.Fatalf("NewRunner(cli, empty) error = nil, want error")
	}
	r, err := NewRunner("cli", "agent-cli")
	if err != nil {
		t.Fatalf("NewRunner(cli) error = %v", err)
	}
	if _, ok := r.(*CLIRunner); !ok {
		t.Fatalf("NewRunner(cli) = %T, want *CLIRunner", r)
	}
}

func TestNewRunnerRejectsUnknownMode(t *testing.T) {
	if _, err := NewRunner("gateway", "x"); err == nil {
		t.Fatalf("NewRunner(gateway) error = nil, want error")
	}
}

func TestMockRunnerEchoesPromptAndKeepsSession(t *testing.T) {
	r := NewMockRunner()

	res, err := r.Run(context.Background(), Request{Prompt: "fix the tests"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, want true")
	}
	if !strings.Contains(res.Output, "fix the tests") {
		t.Fatalf("Output = %q, want prompt echoed", res.Output)
	}
	if res.SessionID != "mock-session" {
		t.Fatalf("SessionID = %q, want mock-session", res.SessionID)
	}

	res, err = r.Run(context.Background(), Request{Prompt: "again", SessionID: "abc123"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.SessionID != "abc123" {
		t.Fatalf("SessionID = %q, want resumed abc123", res.SessionID)
	}
}

func TestMockRunnerHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockRunner().Run(ctx, Request{Prompt: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "safe mode uses the read-only tool set",
			req:  Request{Mode: policy.ModeSafe},
			want: []string{"-p", "--output-format", "stream-json", "--verbose",
				"--allowedTools", strings.Join(policy.SafeTools(), ",")},
		},
		{
			name: "safe mode keeps accumulated tools",
			req:  Request{Mode: policy.ModeSafe, AllowedTools: []string{"Read", "Write"}},
			want: []string{"-p", "--output-format", "stream-json", "--verbose",
				"--allowedTools", "Read,Write"},
		},
		{
			name: "auto-all skips permissions",
			req:  Request{Mode: policy.ModeAutoAll},
			want: []string{"-p", "--output-format", "stream-json", "--verbose",
				"--dangerously-skip-permissions"},
		},
		{
			name: "ask-all first run passes no tool flags",
			req:  Request{Mode: policy.ModeAskAll},
			want: []string{"-p", "--output-format", "stream-json", "--verbose"},
		},
		{
			name: "ask-all with approved tools",
			req:  Request{Mode: policy.ModeAskAll, AllowedTools: []string{"Write"}},
			want: []string{"-p", "--output-format", "stream-json", "--verbose",
				"--allowedTools", "Write"},
		},
		{
			name: "resume goes first",
			req:  Request{Mode: policy.ModeAutoAll, SessionID: "s-42"},
			want: []string{"--resume", "s-42",
				"-p", "--output-format", "stream-json", "--verbose",
				"--dangerously-skip-permissions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildArgs(tt.req)
			if len(got) != len(tt.want) {
				t.Fatalf("buildArgs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("buildArgs()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
