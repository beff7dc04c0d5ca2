// Package approval couples blocking permission requests with decisions that
// arrive asynchronously on operator channels.
package approval

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Key identifies one pending request: the channel the prompt went out on and
// the prompt's message id, which is what a decision references.
type Key struct {
	ChannelID int64
	MessageID int
}

// Pending is a registered approval request.
type Pending struct {
	Project   string
	Tool      string
	Input     map[string]any
	ChannelID int64
	MessageID int

	decided chan bool
}

// Gate registers pending requests and hands decisions to their waiters.
type Gate struct {
	mu      sync.RWMutex
	pending map[Key]*Pending
	timeout time.Duration
}

// NewGate creates a gate whose Request calls give up after timeout.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{
		pending: map[Key]*Pending{},
		timeout: timeout,
	}
}

// Request registers p and blocks until a decision arrives, the gate timeout
// elapses, or ctx is cancelled; the last two count as denial. The entry is
// gone by the time Request returns on every path, so a decision arriving
// later resolves nothing.
func (g *Gate) Request(ctx context.Context, p Pending) bool {
	key := Key{ChannelID: p.ChannelID, MessageID: p.MessageID}
	p.decided = make(chan bool, 1)

	g.mu.Lock()
	g.pending[key] = &p
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case approved := <-p.decided:
		// Resolve removed the entry before delivering.
		return approved
	case <-timer.C:
		return g.abandon(key, &p)
	case <-ctx.Done():
		return g.abandon(key, &p)
	}
}

// abandon withdraws the entry on timeout or cancellation. When a resolution
// committed first, its decision wins: Resolve only removes an entry when it
// is about to send, so the receive below cannot block for long.
func (g *Gate) abandon(key Key, p *Pending) bool {
	g.mu.Lock()
	_, mine := g.pending[key]
	if mine {
		delete(g.pending, key)
	}
	g.mu.Unlock()

	if mine {
		return false
	}
	return <-p.decided
}

// Resolve delivers a decision to the request registered under the key.
// Returns false when no such request exists anymore: already decided, timed
// out, or never registered. Callers surface that as "expired".
func (g *Gate) Resolve(channelID int64, messageID int, approved bool) bool {
	key := Key{ChannelID: channelID, MessageID: messageID}

	g.mu.Lock()
	p, ok := g.pending[key]
	if ok {
		// Removing under the lock makes a duplicate resolve a no-op.
		delete(g.pending, key)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	// Capacity 1, one send per entry; never blocks.
	p.decided <- approved
	return true
}

// HasPending reports whether any request is waiting on the channel.
func (g *Gate) HasPending(channelID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for key := range g.pending {
		if key.ChannelID == channelID {
			return true
		}
	}
	return false
}

// PendingCount returns the number of registered requests.
func (g *Gate) PendingCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pending)
}

// List returns a copy of every pending request, ordered by channel then
// message id.
func (g *Gate) List() []Pending {
	g.mu.RLock()
	out := make([]Pending, 0, len(g.pending))
	for _, p := range g.pending {
		cp := *p
		cp.decided = nil
		out = append(out, cp)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
