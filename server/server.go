package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Server owns the HTTP listener and the websocket upgrade path. Everything
// after the upgrade is handled by Core and the per-connection pumps.
type Server struct {
	log  *slog.Logger
	core *Core
	http *http.Server

	upgrader   websocket.Upgrader
	bufferSize int
	heartbeat  time.Duration
}

type Options struct {
	Addr                 string
	AllowedOrigins       []string
	ConnectionBufferSize int
	HeartbeatInterval    time.Duration
}

func NewServer(log *slog.Logger, core *Core, opts Options) *Server {
	s := &Server{
		log:        log,
		core:       core,
		bufferSize: opts.ConnectionBufferSize,
		heartbeat:  opts.HeartbeatInterval,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/healthz", handleHealth)
	s.http = &http.Server{
		Addr:        opts.Addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("Listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route mux, so tests can mount the server on an
// ephemeral listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, s.core, s.log, s.bufferSize, s.heartbeat)
	connectionID := s.core.attach(conn)
	s.log.Debug("Connection established", "connection_id", connectionID, "remote", r.RemoteAddr)

	go conn.writePump()
	go conn.readPump()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func originChecker(allowed []string) func(*http.Request) bool {
	if lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return lo.Contains(allowed, r.Header.Get("Origin"))
	}
}
