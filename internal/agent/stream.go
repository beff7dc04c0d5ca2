package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

const maxStreamLine = 4 * 1024 * 1024

// parseStream folds the CLI's line-delimited JSON stream into one Result.
// The session handle may appear on any line; the result line wins for output
// text, with the last assistant message as fallback when it is absent.
func parseStream(raw string) Result {
	res := Result{Success: true}
	var lastAssistant string

	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			// Non-JSON noise between stream lines.
			continue
		}

		if sid, ok := obj["session_id"].(string); ok && sid != "" {
			res.SessionID = sid
		}

		switch obj["type"] {
		case "assistant":
			if text := assistantText(obj); text != "" {
				lastAssistant = text
			}
		case "result":
			if text, ok := obj["result"].(string); ok {
				res.Output = text
			}
			if isErr, ok := obj["is_error"].(bool); ok && isErr {
				res.Success = false
			}
			res.Denials = parseDenials(obj["permission_denials"])
		}
	}

	if res.Output == "" {
		res.Output = lastAssistant
	}
	return res
}

// assistantText joins the text blocks of an assistant message, marking tool
// calls so intermediate output stays readable.
func assistantText(obj map[string]any) string {
	message, ok := obj["message"].(map[string]any)
	if !ok {
		return ""
	}
	blocks, ok := message["content"].([]any)
	if !ok {
		return ""
	}

	var parts []string
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text, ok := block["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		case "tool_use":
			name, _ := block["name"].(string)
			if name == "" {
				name = "unknown"
			}
			parts = append(parts, fmt.Sprintf("[Using tool: %s]", name))
		}
	}
	return strings.Join(parts, "\n")
}

func parseDenials(v any) []PermissionDenial {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]PermissionDenial, 0, len(arr))
	for _, raw := range arr {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		d := PermissionDenial{Tool: "unknown", Input: map[string]any{}}
		if tool, ok := entry["tool"].(string); ok && tool != "" {
			d.Tool = tool
		}
		if input, ok := entry["input"].(map[string]any); ok {
			d.Input = input
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
