// Package server wraps raw byte streams into framed message connections,
// giving the session and broadcast logic a transport-independent surface.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// errMalformedFrame marks a frame that arrived intact but failed to decode.
// Callers skip these instead of tearing the connection down.
var errMalformedFrame = errors.New("malformed frame")

// Conn is one framed, bidirectional message stream. Both the plain TCP
// transport and the WebSocket transport implement it, so a session handler
// never knows which one it is driving.
type Conn interface {
	// ReadFrame blocks until the next inbound frame. It returns
	// errMalformedFrame (wrapped) for an undecodable frame and io.EOF or a
	// transport error once the stream is finished.
	ReadFrame() (Message, error)

	// WriteFrame sends one message as a single frame. It is safe for
	// concurrent use; frames from concurrent writers never interleave.
	WriteFrame(Message) error

	// Close tears down the underlying stream. Safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address for registry metadata and logging.
	RemoteAddr() string
}

// lineConn frames messages as newline-terminated JSON records over a TCP
// stream. Writes are serialized by a per-connection mutex and flushed one
// frame at a time so an in-flight broadcast and the session's own replies
// cannot interleave bytes.
type lineConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func newLineConn(conn net.Conn, writeTimeout time.Duration) *lineConn {
	return &lineConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
	}
}

func (c *lineConn) ReadFrame() (Message, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return Message{}, err
	}
	return decodeFrame([]byte(strings.TrimSpace(line)))
}

func (c *lineConn) WriteFrame(msg Message) error {
	data, err := encodeFrame(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *lineConn) Close() error {
	return c.conn.Close()
}

func (c *lineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func encodeFrame(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func decodeFrame(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return msg, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "websocket: close")
}
