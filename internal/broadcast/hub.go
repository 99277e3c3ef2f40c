// Package broadcast keeps live client connections grouped into rooms and fans
// messages out to room members.
//
// Delivery is best effort: a member whose send fails is disconnected once the
// current pass finishes, and the remaining members still receive the message.
// Messages to one room are delivered in the order Broadcast was called.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope types emitted by the hub.
const (
	TypeSystem      = "system"
	TypeUserJoined  = "user_joined"
	TypeChatJoined  = "chat_joined"
	TypeUserLeft    = "user_left"
	TypeChatMessage = "chat_message"
	TypeTyping      = "typing"
)

const (
	// HistoryLimit caps the stored chat history per room.
	HistoryLimit       = 100
	defaultSendTimeout = 5 * time.Second
)

// ErrNotConnected is returned for users without a live connection.
var ErrNotConnected = errors.New("user is not connected")

// Envelope is the unit delivered to clients.
type Envelope struct {
	Type      string    `json:"type"`
	Room      string    `json:"room,omitempty"`
	From      string    `json:"from,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Presence is told about client activity so learning sessions stay warm.
type Presence interface {
	Touch(userID string) error
}

// Relay forwards broadcasts between hub instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope, exclude string) error
	// Subscribe blocks, calling deliver for envelopes published by other
	// instances, until ctx is done.
	Subscribe(ctx context.Context, deliver func(env Envelope, exclude string)) error
}

// Config configures a Hub.
type Config struct {
	Relay       Relay
	Presence    Presence
	SendTimeout time.Duration
	Now         func() time.Time
}

// Result reports the outcome of a broadcast on this instance.
type Result struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// RoomInfo summarizes a room.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Stats summarizes the hub.
type Stats struct {
	Connections     int `json:"connections"`
	Rooms           int `json:"rooms"`
	HistoryMessages int `json:"history_messages"`
}

type room struct {
	name    string
	members map[string]*Connection
	history []Envelope
	// sendMu orders deliveries within the room.
	sendMu sync.Mutex
}

// Hub owns connections and rooms. Lock order is room.sendMu, then Hub.mu,
// then Connection.mu.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]*room

	relay       Relay
	presence    Presence
	sendTimeout time.Duration
	now         func() time.Time
}

// NewHub creates a Hub.
func NewHub(cfg Config) *Hub {
	h := &Hub{
		conns:       make(map[string]*Connection),
		rooms:       make(map[string]*room),
		relay:       cfg.Relay,
		presence:    cfg.Presence,
		sendTimeout: cfg.SendTimeout,
		now:         cfg.Now,
	}
	if h.sendTimeout <= 0 {
		h.sendTimeout = defaultSendTimeout
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Run consumes the relay until ctx is done. Without a relay it only waits.
func (h *Hub) Run(ctx context.Context) {
	if h.relay == nil {
		<-ctx.Done()
		return
	}
	err := h.relay.Subscribe(ctx, func(env Envelope, exclude string) {
		h.deliverLocal(ctx, env, exclude)
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("Broadcast relay stopped", "error", err)
	}
}

// Connect registers a new connection for userID, replacing any previous one.
// The client receives a system welcome envelope.
func (h *Hub) Connect(ctx context.Context, userID string, sink Sink) (*Connection, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	conn := newConnection(uuid.NewString(), userID, sink, h.now())

	h.mu.Lock()
	previous := h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()

	if previous != nil {
		h.disconnect(ctx, previous, "replaced")
	}

	conn.transition(StateConnected)
	slog.Info("Client connected", "user_id", userID, "connection_id", conn.ID)

	err := conn.send(ctx, Envelope{
		Type: TypeSystem,
		Data: map[string]any{
			"message":       "Welcome! You are connected to the real-time chat.",
			"connection_id": conn.ID,
			"features":      []string{"ai_chat", "language_learning", "real_time_updates"},
		},
		Timestamp: h.now(),
	}, h.sendTimeout)
	if err != nil {
		h.disconnect(ctx, conn, "send_failed")
		return nil, err
	}
	return conn, nil
}

// Connection returns the live connection of a user.
func (h *Hub) Connection(userID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[userID]
	return c, ok
}

// Touch records inbound activity from a user.
func (h *Hub) Touch(userID string) {
	if c, ok := h.Connection(userID); ok {
		c.touch(h.now())
	}
	if h.presence != nil {
		_ = h.presence.Touch(userID)
	}
}

// Join adds the user to a room. Joining a room twice is a no-op.
func (h *Hub) Join(ctx context.Context, userID, roomName string) error {
	h.mu.Lock()
	conn, ok := h.conns[userID]
	if !ok || conn.State() == StateDisconnected {
		h.mu.Unlock()
		return ErrNotConnected
	}
	r, ok := h.rooms[roomName]
	if !ok {
		r = &room{name: roomName, members: make(map[string]*Connection)}
		h.rooms[roomName] = r
	}
	if r.members[userID] == conn {
		h.mu.Unlock()
		return nil
	}
	r.members[userID] = conn
	conn.mu.Lock()
	conn.rooms[roomName] = struct{}{}
	conn.mu.Unlock()
	participants := memberNames(r)
	h.mu.Unlock()

	now := h.now()
	h.Broadcast(ctx, roomName, Envelope{
		Type:      TypeUserJoined,
		From:      userID,
		Data:      map[string]any{"user_id": userID, "chat_room": roomName},
		Timestamp: now,
	}, userID)

	h.SendTo(ctx, userID, Envelope{
		Type: TypeChatJoined,
		Room: roomName,
		Data: map[string]any{
			"chat_room":    roomName,
			"participants": participants,
			"message":      "You joined the chat \"" + roomName + "\"",
		},
		Timestamp: now,
	})
	return nil
}

// Leave removes the user from a room and prunes the room when it empties.
// Leaving a room the user is not in is a no-op and notifies nobody.
func (h *Hub) Leave(ctx context.Context, userID, roomName string) error {
	h.mu.Lock()
	conn, ok := h.conns[userID]
	if !ok {
		h.mu.Unlock()
		return ErrNotConnected
	}
	r, ok := h.rooms[roomName]
	if !ok || r.members[userID] != conn {
		h.mu.Unlock()
		return nil
	}
	h.removeMemberLocked(r, userID, conn)
	h.mu.Unlock()

	h.Broadcast(ctx, roomName, Envelope{
		Type:      TypeUserLeft,
		From:      userID,
		Data:      map[string]any{"user_id": userID, "chat_room": roomName},
		Timestamp: h.now(),
	}, userID)
	return nil
}

func (h *Hub) removeMemberLocked(r *room, userID string, conn *Connection) {
	if r.members[userID] == conn {
		delete(r.members, userID)
	}
	conn.mu.Lock()
	delete(conn.rooms, r.name)
	conn.mu.Unlock()
	if len(r.members) == 0 && h.rooms[r.name] == r {
		delete(h.rooms, r.name)
	}
}

// Disconnect removes the user's connection from every room and notifies the
// remaining members.
func (h *Hub) Disconnect(ctx context.Context, userID string) error {
	conn, ok := h.Connection(userID)
	if !ok {
		return ErrNotConnected
	}
	h.disconnect(ctx, conn, "disconnected")
	return nil
}

// Release disconnects one specific connection. It is a no-op when the
// connection was already replaced or disconnected.
func (h *Hub) Release(ctx context.Context, conn *Connection) {
	h.disconnect(ctx, conn, "closed")
}

func (h *Hub) disconnect(ctx context.Context, conn *Connection, reason string) {
	if !conn.transition(StateDisconnected) {
		return
	}

	h.mu.Lock()
	if h.conns[conn.UserID] == conn {
		delete(h.conns, conn.UserID)
	}
	var left []string
	for _, name := range conn.Rooms() {
		if r, ok := h.rooms[name]; ok {
			h.removeMemberLocked(r, conn.UserID, conn)
			left = append(left, name)
		}
	}
	h.mu.Unlock()

	if err := conn.sink.Close(); err != nil {
		slog.Debug("Closing client sink failed", "user_id", conn.UserID, "error", err)
	}
	slog.Info("Client disconnected", "user_id", conn.UserID, "connection_id", conn.ID, "reason", reason)

	for _, name := range left {
		h.Broadcast(ctx, name, Envelope{
			Type:      TypeUserLeft,
			From:      conn.UserID,
			Data:      map[string]any{"user_id": conn.UserID, "chat_room": name, "reason": reason},
			Timestamp: h.now(),
		}, conn.UserID)
	}
}

// Broadcast delivers env to every member of roomName except exclude and
// forwards it to other instances through the relay.
func (h *Hub) Broadcast(ctx context.Context, roomName string, env Envelope, exclude string) Result {
	env.Room = roomName
	if env.Timestamp.IsZero() {
		env.Timestamp = h.now()
	}

	res := h.deliverLocal(ctx, env, exclude)

	if h.relay != nil {
		if err := h.relay.Publish(ctx, env, exclude); err != nil {
			slog.Warn("Broadcast relay publish failed", "room", roomName, "error", err)
		}
	}
	return res
}

// lockRoom returns the current room with its send lock held, or nil when
// the room does not exist.
func (h *Hub) lockRoom(name string) *room {
	for {
		h.mu.RLock()
		r := h.rooms[name]
		h.mu.RUnlock()
		if r == nil {
			return nil
		}
		r.sendMu.Lock()
		h.mu.RLock()
		current := h.rooms[name] == r
		h.mu.RUnlock()
		if current {
			return r
		}
		// Pruned and possibly recreated while waiting.
		r.sendMu.Unlock()
	}
}

func (h *Hub) deliverLocal(ctx context.Context, env Envelope, exclude string) Result {
	r := h.lockRoom(env.Room)
	if r == nil {
		return Result{}
	}

	h.mu.Lock()
	if env.Type == TypeChatMessage {
		r.history = append(r.history, env)
		if len(r.history) > HistoryLimit {
			r.history = append([]Envelope(nil), r.history[len(r.history)-HistoryLimit:]...)
		}
	}
	targets := make([]*Connection, 0, len(r.members))
	for userID, c := range r.members {
		if userID != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].UserID < targets[j].UserID })

	var res Result
	var failed []*Connection
	for _, c := range targets {
		if err := c.send(ctx, env, h.sendTimeout); err != nil {
			slog.Warn("Broadcast delivery failed", "room", env.Room, "user_id", c.UserID, "error", err)
			failed = append(failed, c)
			continue
		}
		c.touch(h.now())
		res.Delivered++
	}
	r.sendMu.Unlock()

	res.Failed = len(failed)
	for _, c := range failed {
		h.disconnect(ctx, c, "send_failed")
	}
	return res
}

// SendTo delivers env to one user. A failed send disconnects the user.
func (h *Hub) SendTo(ctx context.Context, userID string, env Envelope) error {
	conn, ok := h.Connection(userID)
	if !ok {
		return ErrNotConnected
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = h.now()
	}
	if err := conn.send(ctx, env, h.sendTimeout); err != nil {
		slog.Warn("Direct delivery failed", "user_id", userID, "error", err)
		h.disconnect(ctx, conn, "send_failed")
		return err
	}
	conn.touch(h.now())
	return nil
}

// SweepInactive disconnects connections idle longer than threshold and
// returns how many were removed.
func (h *Hub) SweepInactive(ctx context.Context, threshold time.Duration) int {
	cutoff := h.now().Add(-threshold)

	h.mu.RLock()
	var stale []*Connection
	for _, c := range h.conns {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.disconnect(ctx, c, "inactive")
	}
	return len(stale)
}

// Members returns the user IDs in a room, sorted.
func (h *Hub) Members(roomName string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomName]
	if !ok {
		return []string{}
	}
	return memberNames(r)
}

func memberNames(r *room) []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rooms lists the non-empty rooms.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for name, r := range h.rooms {
		out = append(out, RoomInfo{Name: name, Members: len(r.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Online lists connected user IDs, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// History returns up to limit recent chat messages of a room, oldest first.
func (h *Hub) History(roomName string, limit int) []Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomName]
	if !ok {
		return []Envelope{}
	}
	hist := r.history
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	return append([]Envelope{}, hist...)
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Connections: len(h.conns), Rooms: len(h.rooms)}
	for _, r := range h.rooms {
		s.HistoryMessages += len(r.history)
	}
	return s
}

// Close disconnects every client.
func (h *Hub) Close(ctx context.Context) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.disconnect(ctx, c, "shutdown")
	}
}
