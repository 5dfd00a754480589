// Package server wires HTTP handlers into a ServeMux for the chat relay's
// web-facing surface.
package server

import (
	"fmt"
	"net/http"
)

// Routes configures and returns an HTTP ServeMux with the health check and
// the WebSocket endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// handleHealth provides a simple health check that reports server status and
// the current room size.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Fuzzu chat server is running! %d client(s) connected.\n", s.hub.ClientCount())
}
