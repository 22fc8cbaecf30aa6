// Package server exposes the relay over HTTP: the websocket handshake, the
// room history endpoint used by clients to rehydrate, and health/stats
// probes. It also coordinates graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pixiedraw-relay/domain"
	"pixiedraw-relay/hub"
	"pixiedraw-relay/protocol"
	ws "pixiedraw-relay/websocket"
)

const DefaultHistoryLimit = 50

type Options struct {
	Addr         string
	HistoryLimit int
	SendBuffer   int
}

type Server struct {
	opts     Options
	registry *hub.Hub
	handler  *protocol.Handler
	store    domain.HistoryStore
	verifier domain.TokenVerifier
	upgrader websocket.Upgrader
	http     *http.Server

	// mu orders session starts against the shutdown snapshot.
	mu      sync.Mutex
	closing bool
}

func New(opts Options, store domain.HistoryStore, verifier domain.TokenVerifier) *Server {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	registry := hub.New()
	s := &Server{
		opts:     opts,
		registry: registry,
		handler:  protocol.NewHandler(registry, store),
		store:    store,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.wsHandler)
	mux.HandleFunc("GET /chats/{roomId}", s.chatsHandler)
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	return mux
}

func (s *Server) Registry() *hub.Hub {
	return s.registry
}

// ListenAndServe blocks until the listener fails or Shutdown is called, in
// which case it returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	slog.Info("server starting", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting handshakes, closes every session with a
// going-away frame, waits for in-flight appends and finally closes the
// history store. When ctx expires pending appends are abandoned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopSessions()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping listener: %w", err))
	}

	conns := s.registry.Connections()
	slog.Info("closing sessions", "clients", len(conns))
	for _, conn := range conns {
		conn.Close(domain.CloseShutdown)
	}

	if err := s.handler.Drain(ctx); err != nil {
		slog.Warn("abandoned in-flight appends", "error", err)
		errs = append(errs, fmt.Errorf("draining dispatches: %w", err))
	}

	for _, conn := range conns {
		done, ok := conn.(interface{ Done() <-chan struct{} })
		if !ok {
			continue
		}
		select {
		case <-done.Done():
		case <-ctx.Done():
		}
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// stopSessions makes every later handshake close right after its upgrade.
// http.Server.Shutdown does not track hijacked connections.
func (s *Server) stopSessions() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

// wsHandler verifies the token before upgrading, so a rejected client never
// reaches the registry and never sees a websocket.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		slog.Info("handshake rejected", "remoteAddr", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		conn.Close()
		return
	}

	session := ws.NewConn(uuid.New().String(), userID, conn, s.registry, s.handler, s.opts.SendBuffer)
	session.Start()
}

func (s *Server) chatsHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.PathValue("roomId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid roomId"})
		return
	}

	events, err := s.store.Recent(r.Context(), roomID, s.opts.HistoryLimit)
	if err != nil {
		slog.Error("history fetch failed", "roomId", roomID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Event{"messages": events})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, clients := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]int{"rooms": rooms, "clients": clients})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
