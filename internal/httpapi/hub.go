package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aaronjnichols/puter/internal/engine"
	"github.com/aaronjnichols/puter/internal/observability"
	"github.com/aaronjnichols/puter/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 120 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub fans engine traffic out to the websocket clients of each channel and
// feeds their submissions back in. It is the engine's Notifier, so message
// ids are allocated here, one monotonic counter per channel.
type Hub struct {
	engine   *engine.Engine
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	channels map[int64]*channel
}

type channel struct {
	nextMsgID int
	subs      map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan any
	done chan struct{}
	once sync.Once
}

func NewHub(eng *engine.Engine, metrics *observability.Metrics, allowAnyOrigin bool) *Hub {
	return &Hub{
		engine:   eng,
		metrics:  metrics,
		channels: map[int64]*channel{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a channel unless the
				// operator opts out; other sites must not be able to approve
				// tool calls on the user's behalf.
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// SendMessage implements engine.Notifier.
func (h *Hub) SendMessage(channelID int64, projectName, text string) (int, error) {
	id := h.nextID(channelID)
	h.broadcast(channelID, protocol.TypeMessage, protocol.ChatMessage{
		Type:      protocol.TypeMessage,
		ChannelID: channelID,
		MessageID: id,
		Project:   projectName,
		Text:      text,
	})
	return id, nil
}

// SendFile implements engine.Notifier. The file itself stays on disk; clients
// fetch it by name over the outputs endpoint.
func (h *Hub) SendFile(channelID int64, projectName, path string) (int, error) {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	name := filepath.Base(path)
	id := h.nextID(channelID)
	h.broadcast(channelID, protocol.TypeFile, protocol.FileMessage{
		Type:      protocol.TypeFile,
		ChannelID: channelID,
		MessageID: id,
		Project:   projectName,
		Name:      name,
		SizeBytes: size,
		URL:       "/v1/outputs/" + name,
	})
	return id, nil
}

// PromptApproval implements engine.Notifier. A channel nobody is connected to
// cannot answer, so the prompt fails fast instead of waiting out the gate.
func (h *Hub) PromptApproval(channelID int64, projectName, tool, text string, timeout time.Duration) (int, error) {
	if !h.hasSubscribers(channelID) {
		return 0, fmt.Errorf("channel %d has no connected clients", channelID)
	}
	id := h.nextID(channelID)
	h.broadcast(channelID, protocol.TypeApprovalRequest, protocol.ApprovalRequest{
		Type:           protocol.TypeApprovalRequest,
		ChannelID:      channelID,
		MessageID:      id,
		Project:        projectName,
		Tool:           tool,
		Text:           text,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	return id, nil
}

// ServeWS upgrades the request and pumps the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channelID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := &subscriber{conn: conn, send: make(chan any, 64), done: make(chan struct{})}
	h.register(channelID, sub)
	defer h.unregister(channelID, sub)
	defer conn.Close()

	writerDone := make(chan struct{})
	go h.writePump(sub, writerDone)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		h.dispatch(channelID, data)
	}

	h.unregister(channelID, sub)
	<-writerDone
}

// writePump keeps websocket writes single-threaded and the peer pinged.
func (h *Hub) writePump(sub *subscriber, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
		close(done)
	}()
	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(channelID int64, raw []byte) {
	parsed, err := protocol.ParseClientMessage(raw)
	if err != nil {
		h.sendError(channelID, err)
		return
	}
	switch m := parsed.(type) {
	case protocol.TaskSubmit:
		h.countWS("inbound", protocol.TypeTaskSubmit)
		h.handleSubmit(channelID, m)
	case protocol.ApprovalDecision:
		h.countWS("inbound", protocol.TypeApprovalDecision)
		resolved := h.engine.ResolveApproval(channelID, m.PromptMessageID, m.Approved)
		h.announceDecision(channelID, m.PromptMessageID, resolved, m.Approved)
	case protocol.Skip:
		h.countWS("inbound", protocol.TypeSkip)
		h.handleSkip(channelID, m)
	}
}

func (h *Hub) handleSubmit(channelID int64, m protocol.TaskSubmit) {
	receipt, err := h.engine.Submit(engine.SubmitParams{
		Project:     m.Project,
		Prompt:      m.Prompt,
		Attachments: m.Attachments,
		ChannelID:   channelID,
	})
	if err != nil {
		h.sendError(channelID, err)
		return
	}
	st, err := h.engine.QueueStatus(receipt.Project)
	if err != nil {
		return
	}
	h.broadcast(channelID, protocol.TypeQueueUpdate, protocol.QueueUpdate{
		Type:      protocol.TypeQueueUpdate,
		ChannelID: channelID,
		Project:   receipt.Project,
		Depth:     st.Depth,
		Position:  receipt.Position,
	})
}

func (h *Hub) handleSkip(channelID int64, m protocol.Skip) {
	skipped, err := h.engine.Skip(m.Project)
	if err != nil {
		h.sendError(channelID, err)
		return
	}
	text := fmt.Sprintf("No task is running for #%s.", m.Project)
	if skipped {
		text = fmt.Sprintf("Skipping current task for #%s", m.Project)
	}
	_, _ = h.SendMessage(channelID, m.Project, text)
}

// announceDecision tells the channel how an approval prompt ended. A decision
// that found nothing to resolve arrived after the gate gave up.
func (h *Hub) announceDecision(channelID int64, promptMessageID int, resolved, approved bool) {
	status := "expired"
	if resolved {
		status = "denied"
		if approved {
			status = "approved"
		}
	}
	h.broadcast(channelID, protocol.TypeApprovalResult, protocol.ApprovalResult{
		Type:            protocol.TypeApprovalResult,
		ChannelID:       channelID,
		PromptMessageID: promptMessageID,
		Status:          status,
	})
}

func (h *Hub) sendError(channelID int64, err error) {
	_, _ = h.SendMessage(channelID, "", "Error: "+err.Error())
}

func (h *Hub) register(channelID int64, sub *subscriber) {
	h.mu.Lock()
	ch := h.channels[channelID]
	if ch == nil {
		ch = &channel{subs: map[*subscriber]struct{}{}}
		h.channels[channelID] = ch
	}
	ch.subs[sub] = struct{}{}
	n := len(ch.subs)
	h.mu.Unlock()
	log.Printf("[hub] channel %d: client connected (%d total)", channelID, n)
}

// unregister is idempotent; both the read loop and deferred cleanup call it.
func (h *Hub) unregister(channelID int64, sub *subscriber) {
	h.mu.Lock()
	if ch := h.channels[channelID]; ch != nil {
		delete(ch.subs, sub)
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.done) })
}

// nextID hands out per-channel message ids. Channel entries are never
// removed, so ids stay monotonic for the life of the process even when every
// client disconnects.
func (h *Hub) nextID(channelID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.channels[channelID]
	if ch == nil {
		ch = &channel{subs: map[*subscriber]struct{}{}}
		h.channels[channelID] = ch
	}
	ch.nextMsgID++
	return ch.nextMsgID
}

func (h *Hub) hasSubscribers(channelID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.channels[channelID]
	return ch != nil && len(ch.subs) > 0
}

func (h *Hub) broadcast(channelID int64, msgType protocol.MessageType, v any) {
	h.mu.Lock()
	ch := h.channels[channelID]
	subs := make([]*subscriber, 0, 4)
	if ch != nil {
		for sub := range ch.subs {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	if len(subs) == 0 {
		log.Printf("[hub] channel %d has no clients, dropping %s", channelID, msgType)
		return
	}
	for _, sub := range subs {
		select {
		case sub.send <- v:
			h.countWS("outbound", msgType)
		default:
			// A stalled client loses messages rather than stalling the engine.
			log.Printf("[hub] channel %d: client buffer full, dropping %s", channelID, msgType)
		}
	}
}

func (h *Hub) countWS(direction string, t protocol.MessageType) {
	if h.metrics == nil {
		return
	}
	h.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}
