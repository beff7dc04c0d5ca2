package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aaronjnichols/puter/internal/agent"
	"github.com/aaronjnichols/puter/internal/policy"
)

// scriptedRunner replays canned results, echoing the prompt once the script
// runs out.
type scriptedRunner struct {
	mu      sync.Mutex
	results []agent.Result
}

func (s *scriptedRunner) Run(_ context.Context, req agent.Request) (agent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return agent.Result{Success: true, Output: "echo: " + req.Prompt}, nil
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res, nil
}

// parkedRunner blocks until released so skips have something to abandon.
type parkedRunner struct {
	started chan struct{}
	release chan struct{}
}

func (p *parkedRunner) Run(ctx context.Context, _ agent.Request) (agent.Result, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return agent.Result{Success: true, Output: "released"}, nil
	case <-ctx.Done():
		return agent.Result{}, ctx.Err()
	}
}

func dialChannel(t *testing.T, srv *testServer, channelID string) *wsClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.ts.URL, "http") + "/v1/channels/" + channelID + "/ws"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", wsURL, err)
	}
	if res != nil {
		res.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{conn: conn}
}

// wsClient keeps every message it has read so assertions can look back at
// traffic that arrived before the one they waited for.
type wsClient struct {
	conn *websocket.Conn
	seen []map[string]any
}

func (c *wsClient) until(t *testing.T, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for _, m := range c.seen {
		if match(m) {
			return m
		}
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			t.Fatalf("websocket read: %v (seen %v)", err, c.seen)
		}
		c.seen = append(c.seen, msg)
		if match(msg) {
			return msg
		}
	}
}

func (c *wsClient) send(t *testing.T, v any) {
	t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		t.Fatalf("websocket write: %v", err)
	}
}

func byType(want string) func(map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == want }
}

func textContains(sub string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		if m["type"] != "message" {
			return false
		}
		text, _ := m["text"].(string)
		return strings.Contains(text, sub)
	}
}

func TestWSSubmitDeliversResult(t *testing.T) {
	srv := newTestServer(t, policy.ModeSafe, nil)
	client := dialChannel(t, srv, "42")

	client.send(t, map[string]any{"type": "task", "project": "api", "prompt": "ship it"})

	client.until(t, textContains("Processing task for #api..."))
	update := client.until(t, byType("queue_update"))
	if update["project"] != "api" || update["position"] != float64(0) {
		t.Fatalf("queue_update = %v, want api at position 0", update)
	}
	result := client.until(t, textContains("Completed (mock): ship it"))
	if result["channel_id"] != float64(42) {
		t.Fatalf("result channel_id = %v, want 42", result["channel_id"])
	}
}

func TestWSApprovalApproveFlow(t *testing.T) {
	runner := &scriptedRunner{results: []agent.Result{
		{
			Success:   true,
			Output:    "blocked on write",
			SessionID: "sess-1",
			Denials:   []agent.PermissionDenial{{Tool: "Write", Input: map[string]any{"file_path": "main.go"}}},
		},
		{Success: true, Output: "change applied", SessionID: "sess-2"},
	}}
	srv := newTestServer(t, policy.ModeAskAll, runner)
	client := dialChannel(t, srv, "42")

	client.send(t, map[string]any{"type": "task", "project": "api", "prompt": "fix the build"})

	prompt := client.until(t, byType("approval_request"))
	if prompt["tool"] != "Write" {
		t.Fatalf("prompt tool = %v, want Write", prompt["tool"])
	}
	text, _ := prompt["text"].(string)
	if !strings.Contains(text, "Permission requested for #api") {
		t.Fatalf("prompt text = %q, want the permission header", text)
	}
	msgID := int(prompt["message_id"].(float64))

	deadline := time.Now().Add(2 * time.Second)
	for !srv.eng.HasPendingApproval(42) && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	client.send(t, map[string]any{"type": "approval_decision", "prompt_message_id": msgID, "approved": true})

	verdict := client.until(t, byType("approval_result"))
	if verdict["status"] != "approved" || int(verdict["prompt_message_id"].(float64)) != msgID {
		t.Fatalf("approval_result = %v, want approved for message %d", verdict, msgID)
	}
	client.until(t, textContains("change applied"))

	runs := waitRuns(t, srv, "api", 1)
	if runs[0].Outcome != "done" {
		t.Fatalf("Outcome = %q, want done", runs[0].Outcome)
	}
}

func TestWSApprovalDenyFlow(t *testing.T) {
	runner := &scriptedRunner{results: []agent.Result{
		{
			Success: true,
			Output:  "blocked on bash",
			Denials: []agent.PermissionDenial{{Tool: "Bash", Input: map[string]any{"command": "make deploy"}}},
		},
	}}
	srv := newTestServer(t, policy.ModeAskAll, runner)
	client := dialChannel(t, srv, "42")

	client.send(t, map[string]any{"type": "task", "project": "api", "prompt": "deploy"})

	prompt := client.until(t, byType("approval_request"))
	msgID := int(prompt["message_id"].(float64))

	deadline := time.Now().Add(2 * time.Second)
	for !srv.eng.HasPendingApproval(42) && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	client.send(t, map[string]any{"type": "approval_decision", "prompt_message_id": msgID, "approved": false})

	verdict := client.until(t, byType("approval_result"))
	if verdict["status"] != "denied" {
		t.Fatalf("approval_result status = %v, want denied", verdict["status"])
	}
	client.until(t, textContains("Permission denied for Bash. Task stopped."))

	runs := waitRuns(t, srv, "api", 1)
	if runs[0].Outcome != "denied" {
		t.Fatalf("Outcome = %q, want denied", runs[0].Outcome)
	}
}

func TestWSSkipStopsCurrentTask(t *testing.T) {
	runner := &parkedRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	srv := newTestServer(t, policy.ModeSafe, runner)
	defer close(runner.release)
	client := dialChannel(t, srv, "42")

	client.send(t, map[string]any{"type": "task", "project": "api", "prompt": "long haul"})
	<-runner.started

	client.send(t, map[string]any{"type": "skip", "project": "api"})
	client.until(t, textContains("Skipping current task for #api"))
	client.until(t, textContains("Task skipped for #api."))

	runs := waitRuns(t, srv, "api", 1)
	if runs[0].Outcome != "skipped" {
		t.Fatalf("Outcome = %q, want skipped", runs[0].Outcome)
	}
}

func TestWSSkipIdleQueue(t *testing.T) {
	srv := newTestServer(t, policy.ModeSafe, nil)
	client := dialChannel(t, srv, "42")

	client.send(t, map[string]any{"type": "skip", "project": "api"})
	client.until(t, textContains("No task is running for #api."))
}

func TestWSInvalidPayloadReportsError(t *testing.T) {
	srv := newTestServer(t, policy.ModeSafe, nil)
	client := dialChannel(t, srv, "42")

	client.send(t, map[string]any{"type": "task", "prompt": "   "})
	client.until(t, textContains("Error:"))
}

func TestWSLateDecisionExpires(t *testing.T) {
	srv := newTestServer(t, policy.ModeSafe, nil)
	client := dialChannel(t, srv, "42")

	client.send(t, map[string]any{"type": "approval_decision", "prompt_message_id": 99, "approved": true})
	verdict := client.until(t, byType("approval_result"))
	if verdict["status"] != "expired" {
		t.Fatalf("approval_result status = %v, want expired", verdict["status"])
	}
}

func TestWSRejectsZeroChannel(t *testing.T) {
	srv := newTestServer(t, policy.ModeSafe, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.ts.URL, "http") + "/v1/channels/0/ws"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Dial(channel 0) succeeded, want rejection")
	}
	if res != nil {
		res.Body.Close()
		if res.StatusCode != 400 {
			t.Fatalf("status = %d, want 400", res.StatusCode)
		}
	}
}
