package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"pixiedraw-relay/domain"
)

// Handler dispatches decoded frames for every session. Chat frames are
// persisted before they are broadcast, and each room is published under its
// own lock so peers observe append-completion order.
type Handler struct {
	registry domain.Registry
	store    domain.HistoryStore

	// ctx bounds store appends. It is cancelled only when a drain gives up.
	ctx     context.Context
	abandon context.CancelFunc

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup

	rooms roomLocks
}

func NewHandler(registry domain.Registry, store domain.HistoryStore) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		registry: registry,
		store:    store,
		ctx:      ctx,
		abandon:  cancel,
		rooms:    roomLocks{locks: make(map[int64]*roomLock)},
	}
}

// Handle processes one inbound frame. The only error it returns wraps
// domain.ErrMalformedFrame, after which the session must be closed.
func (h *Handler) Handle(conn domain.Connection, data []byte) error {
	f, err := DecodeFrame(data)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	switch f.Kind() {
	case TypeJoinRoom:
		roomID, ok := h.roomID(conn, f)
		if !ok {
			return nil
		}
		if err := h.registry.Join(conn, roomID); err != nil {
			slog.Warn("join failed", "clientId", conn.ID(), "roomId", roomID, "error", err)
		}
	case TypeLeaveRoom:
		roomID, ok := h.roomID(conn, f)
		if !ok {
			return nil
		}
		h.registry.Leave(conn, roomID)
	case TypeChat:
		roomID, ok := h.roomID(conn, f)
		if !ok {
			return nil
		}
		if !hasMessage(f.Message) {
			slog.Debug("dropping chat without message", "clientId", conn.ID(), "roomId", roomID)
			return nil
		}
		h.publish(conn, roomID, f.Message)
	default:
		slog.Debug("ignoring unknown message type", "clientId", conn.ID(), "type", string(f.Type))
	}
	return nil
}

func (h *Handler) roomID(conn domain.Connection, f Frame) (int64, bool) {
	roomID, err := ParseRoomID(f.RoomID)
	if err != nil {
		slog.Debug("dropping frame", "clientId", conn.ID(), "type", f.Kind(), "error", err)
		return 0, false
	}
	return roomID, true
}

func (h *Handler) publish(sender domain.Connection, roomID int64, message json.RawMessage) {
	if !h.admit() {
		slog.Warn("dropping chat during shutdown", "clientId", sender.ID(), "roomId", roomID)
		return
	}
	defer h.inflight.Done()

	lock := h.rooms.acquire(roomID)
	defer h.rooms.release(roomID, lock)

	event, err := h.store.Append(h.ctx, roomID, sender.UserID(), string(message))
	if err != nil {
		slog.Error("history append failed", "clientId", sender.ID(), "roomId", roomID, "error", err)
		return
	}

	envelope := EncodeEnvelope(roomID, message)
	peers := h.registry.Subscribers(roomID)
	for _, peer := range peers {
		if err := peer.Send(envelope); err != nil {
			slog.Warn("send failed", "clientId", peer.ID(), "roomId", roomID, "error", err)
			peer.Close(domain.CloseSlowConsumer)
		}
	}

	slog.Debug("chat broadcast", "clientId", sender.ID(), "roomId", roomID, "eventId", event.ID, "peers", len(peers))
}

func (h *Handler) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.inflight.Add(1)
	return true
}

// Drain stops admitting new chats and waits for in-flight publishes. If ctx
// ends first the pending appends are abandoned by cancelling their context.
func (h *Handler) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.abandon()
		<-done
		return ctx.Err()
	}
}

type roomLock struct {
	sync.Mutex
	refs int
}

// roomLocks hands out one mutex per active room and forgets it once no
// publisher holds or waits on it.
type roomLocks struct {
	mu    sync.Mutex
	locks map[int64]*roomLock
}

func (r *roomLocks) acquire(roomID int64) *roomLock {
	r.mu.Lock()
	l, ok := r.locks[roomID]
	if !ok {
		l = &roomLock{}
		r.locks[roomID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return l
}

func (r *roomLocks) release(roomID int64, l *roomLock) {
	l.Unlock()

	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, roomID)
	}
	r.mu.Unlock()
}
