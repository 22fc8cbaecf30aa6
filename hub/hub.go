package hub

import (
	"log/slog"
	"sort"
	"sync"

	"pixiedraw-relay/domain"
)

type member struct {
	conn  domain.Connection
	rooms map[int64]struct{}
}

// Hub holds the connection registry and the room index under a single lock
// so every membership change updates both tables together.
type Hub struct {
	mu      sync.RWMutex
	members map[string]*member
	rooms   map[int64]map[string]domain.Connection
}

func New() *Hub {
	return &Hub{
		members: make(map[string]*member),
		rooms:   make(map[int64]map[string]domain.Connection),
	}
}

func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	if _, exists := h.members[conn.ID()]; !exists {
		h.members[conn.ID()] = &member{conn: conn, rooms: make(map[int64]struct{})}
	}
	count := len(h.members)
	h.mu.Unlock()

	slog.Info("client connected", "clientId", conn.ID(), "userId", conn.UserID(), "clients", count)
}

// Unregister removes the connection from the registry and from every room it
// had joined.
func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	m, exists := h.members[conn.ID()]
	if !exists {
		h.mu.Unlock()
		return
	}
	for roomID := range m.rooms {
		h.removeFromRoom(roomID, conn.ID())
	}
	delete(h.members, conn.ID())
	count := len(h.members)
	h.mu.Unlock()

	slog.Info("client disconnected", "clientId", conn.ID(), "userId", conn.UserID(), "clients", count)
}

func (h *Hub) Join(conn domain.Connection, roomID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, exists := h.members[conn.ID()]
	if !exists {
		return domain.ErrNotRegistered
	}
	if _, joined := m.rooms[roomID]; joined {
		return nil
	}
	m.rooms[roomID] = struct{}{}

	subs, exists := h.rooms[roomID]
	if !exists {
		subs = make(map[string]domain.Connection)
		h.rooms[roomID] = subs
	}
	subs[conn.ID()] = m.conn

	slog.Debug("joined room", "clientId", conn.ID(), "roomId", roomID, "subscribers", len(subs))
	return nil
}

func (h *Hub) Leave(conn domain.Connection, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, exists := h.members[conn.ID()]
	if !exists {
		return
	}
	if _, joined := m.rooms[roomID]; !joined {
		return
	}
	delete(m.rooms, roomID)
	h.removeFromRoom(roomID, conn.ID())

	slog.Debug("left room", "clientId", conn.ID(), "roomId", roomID)
}

// removeFromRoom must be called with h.mu held.
func (h *Hub) removeFromRoom(roomID int64, connID string) {
	subs, exists := h.rooms[roomID]
	if !exists {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
}

// Subscribers returns a point-in-time snapshot of the room's connections.
// The caller may send to them without holding any hub lock.
func (h *Hub) Subscribers(roomID int64) []domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.rooms[roomID]
	if len(subs) == 0 {
		return nil
	}
	out := make([]domain.Connection, 0, len(subs))
	for _, conn := range subs {
		out = append(out, conn)
	}
	return out
}

func (h *Hub) Connections() []domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Connection, 0, len(h.members))
	for _, m := range h.members {
		out = append(out, m.conn)
	}
	return out
}

// Rooms returns the sorted room ids the connection has joined.
func (h *Hub) Rooms(conn domain.Connection) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m, exists := h.members[conn.ID()]
	if !exists {
		return nil
	}
	out := make([]int64, 0, len(m.rooms))
	for roomID := range m.rooms {
		out = append(out, roomID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.members)
}
