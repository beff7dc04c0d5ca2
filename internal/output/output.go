// Package output shapes agent output into channel-sized messages, spilling
// long results to files.
package output

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aaronjnichols/puter/internal/policy"
)

// MaxMessageChars caps one outbound message; longer output goes to a file.
const MaxMessageChars = 4000

const (
	previewLines = 10
	previewChars = 500
	inputChars   = 800
)

// Processor turns raw agent output into an outbound message plus an optional
// spill file under its outputs directory.
type Processor struct {
	dir string
	now func() time.Time
}

func NewProcessor(dir string) (*Processor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outputs dir: %w", err)
	}
	return &Processor{dir: dir, now: time.Now}, nil
}

// Dir returns the outputs directory spill files are written to.
func (p *Processor) Dir() string { return p.dir }

// Process returns the message to send and, for long output, the path of the
// file holding the full text.
func (p *Processor) Process(project, text string, success bool, errText string) (msg string, filePath string) {
	if errText != "" {
		return "Error: " + errText, ""
	}
	if text == "" {
		if success {
			return "Task completed (no output)", ""
		}
		return "Task failed with no output", ""
	}
	if len(text) <= MaxMessageChars {
		return text, ""
	}

	path, err := p.saveToFile(project, text)
	if err != nil {
		log.Printf("[output] spill for %s: %v", project, err)
		return text[:MaxMessageChars-22] + "\n\n[output truncated]", ""
	}
	return p.summarize(text), path
}

func (p *Processor) saveToFile(project, text string) (string, error) {
	name := fmt.Sprintf("%s_%s.md", project, p.now().Format("20060102_150405"))
	path := filepath.Join(p.dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "# Agent Output - %s\n\n", project)
	fmt.Fprintf(&b, "Generated: %s\n\n", p.now().Format(time.RFC3339))
	b.WriteString("---\n\n")
	b.WriteString(text)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Processor) summarize(text string) string {
	lines := strings.Split(text, "\n")
	previewEnd := previewLines
	if previewEnd > len(lines) {
		previewEnd = len(lines)
	}
	preview := strings.Join(lines[:previewEnd], "\n")
	if len(preview) > previewChars {
		preview = preview[:previewChars] + "..."
	}
	return fmt.Sprintf("Output saved to file (%d chars, %d lines)\n\nPreview:\n%s",
		len(text), len(lines), preview)
}

// QueuePosition phrases the submit acknowledgement.
func QueuePosition(position int, project string) string {
	if position == 0 {
		return fmt.Sprintf("Processing task for #%s...", project)
	}
	return fmt.Sprintf("Queued for #%s (position %d)", project, position)
}

// PermissionRequest phrases an approval prompt. Tool input is rendered as
// JSON, redacted, and truncated so a huge or sensitive payload never lands on
// a channel verbatim.
func PermissionRequest(tool string, input map[string]any, project string) string {
	rendered := renderInput(input)
	rendered, _ = policy.RedactSecrets(rendered)
	if len(rendered) > inputChars {
		rendered = rendered[:inputChars] + "..."
	}
	return fmt.Sprintf("Permission requested for #%s\n\nTool: %s\nInput:\n%s", project, tool, rendered)
}

func renderInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(raw)
}
