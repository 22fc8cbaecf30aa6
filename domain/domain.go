package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMalformedFrame is returned by a MessageHandler when an inbound frame
	// is not a JSON object. The session must be closed.
	ErrMalformedFrame = errors.New("malformed frame")
	ErrNotRegistered  = errors.New("connection not registered")
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// CloseReason tells a Connection why it is being closed so the transport can
// pick the matching close code.
type CloseReason int

const (
	CloseNormal CloseReason = iota
	CloseMalformed
	CloseShutdown
	CloseSlowConsumer
)

func (r CloseReason) String() string {
	switch r {
	case CloseMalformed:
		return "malformed"
	case CloseShutdown:
		return "shutdown"
	case CloseSlowConsumer:
		return "slow_consumer"
	default:
		return "normal"
	}
}

// Event is a persisted drawing event. Message holds the JSON text of the
// client-supplied message exactly as it arrived.
type Event struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Connection interface {
	ID() string
	UserID() string
	// Send enqueues data on the connection's outbound queue without blocking.
	Send(data []byte) error
	Close(reason CloseReason) error
}

// Registry is the process-wide table of authenticated connections together
// with the reverse index from room to subscribers.
type Registry interface {
	Register(conn Connection)
	Unregister(conn Connection)
	Join(conn Connection, roomID int64) error
	Leave(conn Connection, roomID int64)
	Subscribers(roomID int64) []Connection
	Connections() []Connection
	Stats() (rooms, clients int)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte) error
}

type HistoryStore interface {
	Append(ctx context.Context, roomID int64, userID, payload string) (Event, error)
	// Recent returns up to limit events for the room, newest first.
	Recent(ctx context.Context, roomID int64, limit int) ([]Event, error)
	Close() error
}

type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}
