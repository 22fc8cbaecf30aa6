package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pixiedraw-relay/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	DefaultSendBuffer = 256
)

var closeCodes = map[domain.CloseReason]int{
	domain.CloseNormal:       websocket.CloseNormalClosure,
	domain.CloseMalformed:    websocket.CloseUnsupportedData,
	domain.CloseShutdown:     websocket.CloseGoingAway,
	domain.CloseSlowConsumer: websocket.ClosePolicyViolation,
}

// Conn is one authenticated session. The read pump feeds frames to the
// handler; the write pump drains the outbound queue in FIFO order.
type Conn struct {
	id       string
	userID   string
	ws       *websocket.Conn
	registry domain.Registry
	handler  domain.MessageHandler

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	closeCode int

	pumps sync.WaitGroup
	done  chan struct{}
}

func NewConn(id, userID string, ws *websocket.Conn, r domain.Registry, h domain.MessageHandler, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Conn{
		id:       id,
		userID:   userID,
		ws:       ws,
		registry: r,
		handler:  h,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send never blocks. A full queue is reported so the dispatcher can drop the
// slow peer instead of stalling the room.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// Close stops accepting sends and lets the write pump flush queued frames
// followed by a close frame. It is safe to call more than once.
func (c *Conn) Close(reason domain.CloseReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = closeCodes[reason]
	close(c.send)

	slog.Debug("closing connection", "clientId", c.id, "reason", reason.String())
	return nil
}

// Done is closed once both pumps have exited and the session is unregistered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Start() {
	c.registry.Register(c)
	c.pumps.Add(2)
	go c.writePump()
	go c.readPump()
	go func() {
		c.pumps.Wait()
		close(c.done)
	}()
}

func (c *Conn) readPump() {
	defer func() {
		// Close before unregistering so no broadcast holding an older
		// subscriber snapshot can queue data after Unregister returns.
		c.Close(domain.CloseNormal)
		c.registry.Unregister(c)
		c.pumps.Done()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			slog.Warn("closing connection on binary frame", "clientId", c.id)
			c.Close(domain.CloseMalformed)
			return
		}

		if err := c.handler.Handle(c, data); err != nil {
			if errors.Is(err, domain.ErrMalformedFrame) {
				slog.Warn("closing connection on malformed frame", "clientId", c.id, "error", err)
				c.Close(domain.CloseMalformed)
				return
			}
			slog.Error("handler error", "clientId", c.id, "error", err)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.pumps.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code := c.closeCode
				c.mu.Unlock()
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
