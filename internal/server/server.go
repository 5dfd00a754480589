// Package server accepts chat connections and spawns a session handler per
// accepted connection.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server is the chat relay: a TCP listener for the line protocol plus the
// HTTP handlers for the WebSocket transport, all feeding one hub.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader

	mu sync.Mutex
	ln net.Listener
}

// New creates a server with its own isolated hub.
func New(cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		hub:     NewHub(log),
		origins: newOriginPolicy(cfg.AllowedOrigins, log),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Hub exposes the server's hub for tests and diagnostics.
func (s *Server) Hub() *Hub { return s.hub }

// Listen binds the TCP listener. A bind failure is fatal at startup and is
// returned to the caller.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("chat server listening")
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until the listener is closed, one session
// goroutine per connection. Transient accept errors are logged and the loop
// keeps accepting; only a closed listener ends it.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: not listening")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("accept failed")
			// Brief pause so a persistent accept error cannot spin the loop.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		client := NewClient(newLineConn(conn, s.cfg.WriteTimeout), s.hub, s.log)
		go client.Run()
	}
}

// ListenAndServe binds the listener and runs the accept loop.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting new connections. In-flight sessions are not
// terminated; they end when their peers disconnect.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}

// NewHTTPServer creates the HTTP server carrying the health endpoint and the
// WebSocket transport, with timeouts suited for production use. The read and
// write timeouts stop applying to a connection once it is hijacked for a
// WebSocket upgrade.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
