package engine

import (
	"errors"
	"log"
	"strings"
	"time"
)

// Notifier delivers outbound traffic to whatever channel transport is
// attached. Returned message ids key approval decisions back to their
// prompts, so PromptApproval must return an id that is stable for the
// lifetime of the prompt.
type Notifier interface {
	SendMessage(channelID int64, project, text string) (messageID int, err error)
	SendFile(channelID int64, project, path string) (messageID int, err error)
	PromptApproval(channelID int64, project, tool, text string, timeout time.Duration) (messageID int, err error)
}

// noopNotifier logs outbound traffic instead of delivering it. It stands in
// until a transport registers via SetNotifier, so wiring order never matters.
type noopNotifier struct{}

func (noopNotifier) SendMessage(channelID int64, project, text string) (int, error) {
	log.Printf("[engine] no transport, dropping message for channel %d #%s: %s", channelID, project, snippet(text))
	return 0, nil
}

func (noopNotifier) SendFile(channelID int64, project, path string) (int, error) {
	log.Printf("[engine] no transport, dropping file for channel %d #%s: %s", channelID, project, path)
	return 0, nil
}

func (noopNotifier) PromptApproval(int64, string, string, string, time.Duration) (int, error) {
	return 0, errors.New("no transport attached for approval prompts")
}

func snippet(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
