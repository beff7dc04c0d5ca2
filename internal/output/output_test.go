package output

import (
	"os"
	"strings"
	"testing"
)

func TestProcessShortOutputPassesThrough(t *testing.T) {
	p, err := NewProcessor(t.TempDir())
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	msg, file := p.Process("web", "all done", true, "")
	if msg != "all done" || file != "" {
		t.Fatalf("Process() = %q, %q; want passthrough, no file", msg, file)
	}
}

func TestProcessErrorAndEmpty(t *testing.T) {
	p, err := NewProcessor(t.TempDir())
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	if msg, _ := p.Process("web", "ignored", false, "exit status 1"); msg != "Error: exit status 1" {
		t.Fatalf("error message = %q", msg)
	}
	if msg, _ := p.Process("web", "", true, ""); msg != "Task completed (no output)" {
		t.Fatalf("empty success message = %q", msg)
	}
	if msg, _ := p.Process("web", "", false, ""); msg != "Task failed with no output" {
		t.Fatalf("empty failure message = %q", msg)
	}
}

func TestProcessLongOutputSpillsToFile(t *testing.T) {
	p, err := NewProcessor(t.TempDir())
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	long := strings.Repeat("line of output\n", 500)
	msg, file := p.Process("web", long, true, "")
	if file == "" {
		t.Fatalf("Process() returned no spill file for %d chars", len(long))
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", file, err)
	}
	if !strings.Contains(string(raw), "# Agent Output - web") {
		t.Fatalf("spill file missing header: %q", string(raw[:80]))
	}
	if !strings.HasSuffix(string(raw), long) {
		t.Fatalf("spill file does not end with the full output")
	}
	if !strings.Contains(msg, "Output saved to file") || !strings.Contains(msg, "Preview:") {
		t.Fatalf("summary = %q", msg)
	}
	if len(msg) > MaxMessageChars {
		t.Fatalf("summary length = %d, want <= %d", len(msg), MaxMessageChars)
	}
}

func TestQueuePosition(t *testing.T) {
	if got := QueuePosition(0, "web"); got != "Processing task for #web..." {
		t.Fatalf("QueuePosition(0) = %q", got)
	}
	if got := QueuePosition(3, "web"); got != "Queued for #web (position 3)" {
		t.Fatalf("QueuePosition(3) = %q", got)
	}
}

func TestPermissionRequestRedactsAndTruncates(t *testing.T) {
	input := map[string]any{
		"command": "deploy",
		"token":   "super-secret-value",
		"blob":    strings.Repeat("x", 2000),
	}
	got := PermissionRequest("Bash", input, "web")
	if !strings.Contains(got, "Tool: Bash") || !strings.Contains(got, "#web") {
		t.Fatalf("PermissionRequest() = %q", got)
	}
	if !strings.Contains(got, "Input:\n") {
		t.Fatalf("PermissionRequest() = %q, want input on its own lines", got)
	}
	if strings.Contains(got, "super-secret-value") {
		t.Fatalf("secret leaked into prompt: %q", got)
	}
	if len(got) > 950 {
		t.Fatalf("prompt length = %d, want truncated input", len(got))
	}
}
