// Package server manages individual chat clients, running the per-connection
// protocol state machine from handshake to cleanup.
package server

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client owns one framed connection and drives its session through the
// protocol: one join frame, then a loop of chat/ping frames, then cleanup.
// The hub holds only a non-owning reference for broadcast delivery.
type Client struct {
	id   string
	conn Conn
	hub  *Hub
	log  zerolog.Logger

	// username is set once by the handshake and read only by this
	// client's own goroutine afterwards.
	username string
}

// NewClient binds a framed connection to the hub it will broadcast through.
func NewClient(conn Conn, hub *Hub, log zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		hub:  hub,
		log:  log.With().Str("client", id).Str("addr", conn.RemoteAddr()).Logger(),
	}
}

// Run executes the session to completion. It blocks until the peer
// disconnects or the handshake is rejected, and is intended to be the body
// of the per-connection goroutine.
func (c *Client) Run() {
	if c.join() {
		c.loop()
	}
	c.terminate()
}

// join reads exactly one frame and validates it as the handshake. Anything
// other than a well-formed join with a non-empty username rejects the
// connection without registering it.
func (c *Client) join() bool {
	msg, err := c.conn.ReadFrame()
	if err != nil {
		return false
	}
	if msg.Type != TypeJoin || msg.Username == "" {
		c.log.Debug().Str("type", msg.Type).Msg("handshake rejected")
		return false
	}

	c.username = truncateRunes(msg.Username, MaxUsernameLen)
	sess := Session{Username: c.username, Addr: c.conn.RemoteAddr()}
	if err := c.hub.Register(c, sess); err != nil {
		c.log.Error().Err(err).Msg("registration failed")
		return false
	}

	// A failed welcome write is not fatal here; the read loop will observe
	// the dead peer on its next read.
	if err := c.conn.WriteFrame(welcomeMessage(c.username)); err != nil {
		c.log.Debug().Err(err).Msg("welcome write failed")
	}
	c.hub.Broadcast(SystemMessage(c.username+" joined the room."), c)
	c.hub.Broadcast(UsersMessage(c.hub.Usernames()), nil)

	c.log.Info().Str("username", c.username).Msg("client joined")
	return true
}

// loop dispatches inbound frames until the stream ends. Malformed frames are
// skipped; unrecognized message types are ignored.
func (c *Client) loop() {
	for {
		msg, err := c.conn.ReadFrame()
		if errors.Is(err, errMalformedFrame) {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if err != nil {
			if !isExpectedCloseError(err) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		switch msg.Type {
		case TypeChat:
			c.handleChat(msg.Text)
		case TypePing:
			if err := c.conn.WriteFrame(PongMessage()); err != nil {
				return
			}
		default:
			// Clients only send join, chat, and ping; anything else
			// is ignored without error.
		}
	}
}

func (c *Client) handleChat(text string) {
	text = truncateRunes(text, MaxChatTextLen)
	if emptyChatText(text) {
		return
	}
	// Chat goes to everyone including the sender, unlike the join/leave
	// notices which exclude the actor.
	c.hub.Broadcast(ChatMessage(c.username, text), nil)
}

// terminate closes the connection and, if this goroutine wins the
// deregistration, announces the departure. A connection that never completed
// the handshake closes silently.
func (c *Client) terminate() {
	sess, registered := c.hub.Deregister(c)
	_ = c.conn.Close()
	if !registered {
		c.log.Debug().Msg("connection closed")
		return
	}

	c.log.Info().Str("username", sess.Username).Msg("client left")
	c.hub.Broadcast(SystemMessage(sess.Username+" left the room."), nil)
	c.hub.Broadcast(UsersMessage(c.hub.Usernames()), nil)
}
