// Package server bridges WebSocket connections into the chat relay: each
// text message carries one JSON frame, so WebSocket clients share the room,
// and the protocol, with plain TCP clients.
package server

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket connection to the framed Conn interface. One
// WebSocket text message is exactly one frame; the line terminator of the
// TCP transport has no equivalent here because WebSocket messages are
// already self-delimited.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadFrame() (Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}
	return decodeFrame(data)
}

func (c *wsConn) WriteFrame(msg Message) error {
	data, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// handleWebSocket upgrades the HTTP connection and runs the session to
// completion in the handler goroutine. The session semantics are identical
// to the TCP path: first frame must be a join.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	NewClient(newWSConn(conn, s.cfg.WriteTimeout), s.hub, s.log).Run()
}
