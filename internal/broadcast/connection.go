package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"
)

// State is a connection's lifecycle state.
type State int

// Connection states. Disconnected is terminal.
const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Sink delivers envelopes to one client.
type Sink interface {
	Send(ctx context.Context, env Envelope) error
	Close() error
}

// Connection is one live client of a user.
type Connection struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	sink   Sink
	sendMu sync.Mutex

	mu           sync.Mutex
	state        State
	rooms        map[string]struct{}
	lastActivity time.Time
}

func newConnection(id, userID string, sink Sink, now time.Time) *Connection {
	return &Connection{
		ID:           id,
		UserID:       userID,
		ConnectedAt:  now,
		sink:         sink,
		state:        StateConnecting,
		rooms:        make(map[string]struct{}),
		lastActivity: now,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms returns the rooms the connection has joined, sorted.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// LastActivity returns when the client last sent or received a message.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
	c.mu.Unlock()
}

// transition moves the connection forward. It reports false when the move is
// not allowed, which includes leaving Disconnected.
func (c *Connection) transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected || to <= c.state {
		return false
	}
	c.state = to
	return true
}

func (c *Connection) send(ctx context.Context, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sink.Send(ctx, env)
}
