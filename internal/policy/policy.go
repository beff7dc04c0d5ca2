package policy

import (
	"fmt"
	"strings"
)

// ApprovalMode controls how much the agent may do without a human decision.
type ApprovalMode string

const (
	// ModeSafe restricts the agent to the read-only tool allow-list.
	ModeSafe ApprovalMode = "safe"
	// ModeAskAll forwards every permission denial to an operator for a decision.
	ModeAskAll ApprovalMode = "ask-all"
	// ModeAutoAll lets the agent run unattended with permission checks disabled.
	ModeAutoAll ApprovalMode = "auto-all"
)

// ParseApprovalMode validates a mode string. Empty input falls back to safe.
func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch ApprovalMode(strings.TrimSpace(s)) {
	case "":
		return ModeSafe, nil
	case ModeSafe:
		return ModeSafe, nil
	case ModeAskAll:
		return ModeAskAll, nil
	case ModeAutoAll:
		return ModeAutoAll, nil
	default:
		return "", fmt.Errorf("unknown approval mode %q (want safe, ask-all, or auto-all)", s)
	}
}

func (m ApprovalMode) String() string { return string(m) }

var safeTools = []string{
	"Read",
	"Glob",
	"Grep",
	"WebFetch",
	"WebSearch",
	"Task",
	"Bash(git status)",
	"Bash(git diff)",
	"Bash(git log)",
}

// SafeTools returns the read-only allow-list used by safe mode.
func SafeTools() []string {
	out := make([]string, len(safeTools))
	copy(out, safeTools)
	return out
}
