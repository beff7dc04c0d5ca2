// Package protocol defines the websocket payloads exchanged with channel
// clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client to server.
	TypeTaskSubmit       MessageType = "task"
	TypeApprovalDecision MessageType = "approval_decision"
	TypeSkip             MessageType = "skip"

	// Server to client.
	TypeMessage         MessageType = "message"
	TypeFile            MessageType = "file"
	TypeApprovalRequest MessageType = "approval_request"
	TypeApprovalResult  MessageType = "approval_result"
	TypeQueueUpdate     MessageType = "queue_update"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TaskSubmit enqueues a task for a project. Attachments are paths the agent
// can read from the project's working directory or temp storage.
type TaskSubmit struct {
	Type        MessageType `json:"type"`
	Project     string      `json:"project,omitempty"`
	Prompt      string      `json:"prompt"`
	Attachments []string    `json:"attachments,omitempty"`
}

// ApprovalDecision answers a pending approval_request by its message id.
type ApprovalDecision struct {
	Type            MessageType `json:"type"`
	PromptMessageID int         `json:"prompt_message_id"`
	Approved        bool        `json:"approved"`
}

// Skip asks the named project's in-flight task to stop.
type Skip struct {
	Type    MessageType `json:"type"`
	Project string      `json:"project"`
}

// ChatMessage is plain text pushed to a channel.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	ChannelID int64       `json:"channel_id"`
	MessageID int         `json:"message_id"`
	Project   string      `json:"project,omitempty"`
	Text      string      `json:"text"`
}

// FileMessage delivers a spill file by name; clients fetch the content over
// the HTTP outputs endpoint at URL.
type FileMessage struct {
	Type      MessageType `json:"type"`
	ChannelID int64       `json:"channel_id"`
	MessageID int         `json:"message_id"`
	Project   string      `json:"project,omitempty"`
	Name      string      `json:"name"`
	SizeBytes int64       `json:"size_bytes"`
	URL       string      `json:"url"`
}

// ApprovalRequest asks the channel to allow or deny one tool call.
type ApprovalRequest struct {
	Type           MessageType `json:"type"`
	ChannelID      int64       `json:"channel_id"`
	MessageID      int         `json:"message_id"`
	Project        string      `json:"project"`
	Tool           string      `json:"tool"`
	Text           string      `json:"text"`
	TimeoutSeconds int         `json:"timeout_seconds"`
}

// ApprovalResult reports how an approval_request ended so clients can update
// the rendered prompt.
type ApprovalResult struct {
	Type            MessageType `json:"type"`
	ChannelID       int64       `json:"channel_id"`
	PromptMessageID int         `json:"prompt_message_id"`
	Status          string      `json:"status"`
}

// QueueUpdate reports a project's queue state after a submit.
type QueueUpdate struct {
	Type      MessageType `json:"type"`
	ChannelID int64       `json:"channel_id"`
	Project   string      `json:"project"`
	Depth     int         `json:"depth"`
	Position  int         `json:"position"`
}

// ParseClientMessage decodes and validates one inbound payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTaskSubmit:
		var msg TaskSubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Prompt) == "" {
			return nil, errors.New("invalid task: empty prompt")
		}
		return msg, nil
	case TypeApprovalDecision:
		var msg ApprovalDecision
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PromptMessageID <= 0 {
			return nil, errors.New("invalid approval_decision: missing prompt_message_id")
		}
		return msg, nil
	case TypeSkip:
		var msg Skip
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Project) == "" {
			return nil, errors.New("invalid skip: missing project")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
