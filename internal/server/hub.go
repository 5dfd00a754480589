// Package server coordinates client registration, message broadcast, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// errAlreadyRegistered should not occur given the protocol: a connection
// performs at most one handshake.
var errAlreadyRegistered = errors.New("client already registered")

// Session is the registry metadata bound to a connection after a successful
// join handshake.
type Session struct {
	Username string
	Addr     string
}

// departure pairs an evicted client with the session it held, so the leave
// announcement can be made after the registry lock is released.
type departure struct {
	client  *Client
	session Session
}

// Hub is the single source of truth for who is currently connected. It holds
// the client table and performs broadcast fan-out under one mutex, so a
// fan-out pass never races with registration or eviction. The hub never owns
// a connection; it only writes to connections owned by their session handlers.
type Hub struct {
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[*Client]Session
	order    []*Client // clients in join order, drives the roster snapshot
}

// NewHub creates an empty hub. Each hub is an isolated room; tests
// instantiate their own.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:      log,
		sessions: make(map[*Client]Session),
	}
}

// Register inserts a client into the table. The protocol guarantees a client
// registers at most once, so a duplicate is reported as an error.
func (h *Hub) Register(c *Client, s Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[c]; ok {
		return fmt.Errorf("%w: %s", errAlreadyRegistered, s.Username)
	}
	h.sessions[c] = s
	h.order = append(h.order, c)
	h.log.Debug().Str("username", s.Username).Str("addr", s.Addr).
		Int("clients", len(h.sessions)).Msg("client registered")
	return nil
}

// Deregister removes a client and returns the session it held. The removal
// is the one-time ownership transfer for the leave announcement: of all
// paths racing to detect the same disconnect, only the caller that gets
// ok=true may announce it.
func (h *Hub) Deregister(c *Client) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[c]
	if !ok {
		return Session{}, false
	}
	h.removeLocked(c)
	h.log.Debug().Str("username", s.Username).
		Int("clients", len(h.sessions)).Msg("client deregistered")
	return s, true
}

// Usernames returns the current roster in join order.
func (h *Hub) Usernames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return lo.Map(h.order, func(c *Client, _ int) string {
		return h.sessions[c].Username
	})
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Broadcast delivers msg to every registered client except exclude (nil
// excludes nobody). Clients whose write fails are evicted, closed, and
// announced as having left; the eviction announcement recurses through
// Broadcast and converges because each pass shrinks the table.
func (h *Hub) Broadcast(msg Message, exclude *Client) {
	for _, d := range h.fanout(msg, exclude) {
		_ = d.client.conn.Close()
		h.log.Info().Str("username", d.session.Username).Str("addr", d.session.Addr).
			Msg("evicted unreachable client")
		h.Broadcast(SystemMessage(d.session.Username+" left the room."), nil)
		h.Broadcast(UsersMessage(h.Usernames()), nil)
	}
}

// fanout performs one delivery pass under the lock. Failed clients are
// collected during iteration and removed only after it completes, so the
// pass never mutates the table it is walking.
func (h *Hub) fanout(msg Message, exclude *Client) []departure {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dead []*Client
	for _, c := range h.order {
		if c == exclude {
			continue
		}
		if err := c.conn.WriteFrame(msg); err != nil {
			h.log.Debug().Err(err).Str("addr", h.sessions[c].Addr).
				Msg("broadcast write failed")
			dead = append(dead, c)
		}
	}

	departures := make([]departure, 0, len(dead))
	for _, c := range dead {
		departures = append(departures, departure{client: c, session: h.sessions[c]})
		h.removeLocked(c)
	}
	return departures
}

func (h *Hub) removeLocked(c *Client) {
	delete(h.sessions, c)
	for i, o := range h.order {
		if o == c {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}
