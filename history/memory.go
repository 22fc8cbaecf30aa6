package history

import (
	"context"
	"sync"
	"time"

	"pixiedraw-relay/domain"
)

// MemoryStore keeps events in process memory. It backs memory:// DSNs and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rooms  map[int64][]domain.Event
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[int64][]domain.Event)}
}

func (s *MemoryStore) Append(ctx context.Context, roomID int64, userID, payload string) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Event{}, ErrClosed
	}

	s.nextID++
	event := domain.Event{
		ID:        s.nextID,
		RoomID:    roomID,
		UserID:    userID,
		Message:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.rooms[roomID] = append(s.rooms[roomID], event)
	return event, nil
}

func (s *MemoryStore) Recent(ctx context.Context, roomID int64, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	events := s.rooms[roomID]
	if limit <= 0 || len(events) == 0 {
		return []domain.Event{}, nil
	}
	if limit > len(events) {
		limit = len(events)
	}
	out := make([]domain.Event, 0, limit)
	for i := len(events) - 1; i >= len(events)-limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
