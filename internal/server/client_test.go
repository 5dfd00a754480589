package server

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// pipeSession runs a session handler on one end of an in-memory pipe and
// exposes the peer end the way a client would see it.
type pipeSession struct {
	conn   net.Conn
	reader *bufio.Reader
}

func startPipeSession(t *testing.T, hub *Hub) *pipeSession {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	client := NewClient(newLineConn(serverSide, 2*time.Second), hub, zerolog.Nop())
	go client.Run()

	t.Cleanup(func() { _ = clientSide.Close() })
	return &pipeSession{conn: clientSide, reader: bufio.NewReader(clientSide)}
}

func (s *pipeSession) send(t *testing.T, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	s.sendRaw(t, string(data))
}

func (s *pipeSession) sendRaw(t *testing.T, line string) {
	t.Helper()
	if err := s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set write deadline: %v", err)
	}
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (s *pipeSession) recv(t *testing.T) Message {
	t.Helper()
	if err := s.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("decode frame %q: %v", line, err)
	}
	return msg
}

// joinAs completes the handshake and consumes the welcome and roster frames.
func (s *pipeSession) joinAs(t *testing.T, username string) {
	t.Helper()
	s.send(t, Message{Type: TypeJoin, Username: username})

	welcome := s.recv(t)
	if welcome.Type != TypeSystem || !strings.HasPrefix(welcome.Text, "Welcome ") {
		t.Fatalf("expected welcome frame, got %+v", welcome)
	}
	roster := s.recv(t)
	if roster.Type != TypeUsers {
		t.Fatalf("expected users frame after welcome, got %+v", roster)
	}
}

// waitForCount polls until the hub reaches the expected client count.
func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients (have %d)", want, hub.ClientCount())
}

// TestSessionHandshake verifies that a valid join registers the session and
// produces the welcome and roster frames in order.
func TestSessionHandshake(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sess := startPipeSession(t, hub)

	sess.send(t, Message{Type: TypeJoin, Username: "Alice"})

	welcome := sess.recv(t)
	if welcome.Type != TypeSystem || welcome.Text != "Welcome Alice! 🎉" {
		t.Errorf("unexpected welcome frame: %+v", welcome)
	}

	roster := sess.recv(t)
	if roster.Type != TypeUsers || len(roster.Users) != 1 || roster.Users[0] != "Alice" {
		t.Errorf("unexpected roster frame: %+v", roster)
	}

	waitForCount(t, hub, 1)
}

// TestSessionHandshakeTruncatesUsername verifies that an over-long username
// is truncated to the protocol limit, not rejected.
func TestSessionHandshakeTruncatesUsername(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sess := startPipeSession(t, hub)

	long := strings.Repeat("n", MaxUsernameLen+7)
	sess.send(t, Message{Type: TypeJoin, Username: long})

	welcome := sess.recv(t)
	want := "Welcome " + strings.Repeat("n", MaxUsernameLen) + "! 🎉"
	if welcome.Text != want {
		t.Errorf("expected truncated username in welcome, got %q", welcome.Text)
	}
}

// TestSessionRejectsBadHandshake verifies that a first frame that is not a
// valid join closes the connection without registering a session.
func TestSessionRejectsBadHandshake(t *testing.T) {
	cases := []struct {
		name  string
		first string
	}{
		{"wrong type", `{"type":"chat","text":"hi"}`},
		{"empty username", `{"type":"join","username":""}`},
		{"malformed json", `{"type":"join"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hub := NewHub(zerolog.Nop())
			sess := startPipeSession(t, hub)

			sess.sendRaw(t, tc.first)

			// The server must close its end without sending anything.
			_ = sess.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, err := sess.reader.ReadString('\n'); err == nil {
				t.Error("expected connection to close after bad handshake")
			}
			if hub.ClientCount() != 0 {
				t.Errorf("expected no registration, have %d clients", hub.ClientCount())
			}
		})
	}
}

// TestSessionChatEcho verifies the sender receives its own chat broadcast.
func TestSessionChatEcho(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sess := startPipeSession(t, hub)
	sess.joinAs(t, "Alice")

	sess.send(t, Message{Type: TypeChat, Text: "hi"})

	echo := sess.recv(t)
	if echo.Type != TypeChat || echo.From != "Alice" || echo.Text != "hi" {
		t.Errorf("unexpected chat echo: %+v", echo)
	}
}

// TestSessionDropsEmptyChat verifies whitespace-only chat produces no
// broadcast while the session keeps running.
func TestSessionDropsEmptyChat(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sess := startPipeSession(t, hub)
	sess.joinAs(t, "Alice")

	sess.send(t, Message{Type: TypeChat, Text: "   \t  "})
	sess.send(t, Message{Type: TypeChat, Text: "still here"})

	// The first frame back must be the second chat; the empty one was dropped.
	echo := sess.recv(t)
	if echo.Text != "still here" {
		t.Errorf("expected the empty chat to be dropped, got %+v", echo)
	}
}

// TestSessionTruncatesChatText verifies chat text is capped at the protocol
// limit.
func TestSessionTruncatesChatText(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sess := startPipeSession(t, hub)
	sess.joinAs(t, "Alice")

	sess.send(t, Message{Type: TypeChat, Text: strings.Repeat("x", MaxChatTextLen+100)})

	echo := sess.recv(t)
	if len([]rune(echo.Text)) != MaxChatTextLen {
		t.Errorf("expected %d characters, got %d", MaxChatTextLen, len([]rune(echo.Text)))
	}
}

// TestSessionPingPong verifies a ping produces exactly one pong to the
// sender and nothing else.
func TestSessionPingPong(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice := startPipeSession(t, hub)
	alice.joinAs(t, "Alice")

	alice.send(t, Message{Type: TypePing})
	pong := alice.recv(t)
	if pong.Type != TypePong {
		t.Errorf("expected pong, got %+v", pong)
	}

	// A follow-up chat must be the next frame: the ping caused no broadcast.
	alice.send(t, Message{Type: TypeChat, Text: "after ping"})
	if echo := alice.recv(t); echo.Text != "after ping" {
		t.Errorf("unexpected frame after pong: %+v", echo)
	}
}

// TestSessionSkipsMalformedFrames verifies a malformed line after the
// handshake is dropped without tearing down the session.
func TestSessionSkipsMalformedFrames(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sess := startPipeSession(t, hub)
	sess.joinAs(t, "Alice")

	sess.sendRaw(t, "this is not json")
	sess.sendRaw(t, "")
	sess.send(t, Message{Type: TypeChat, Text: "survived"})

	if echo := sess.recv(t); echo.Text != "survived" {
		t.Errorf("expected session to survive malformed frames, got %+v", echo)
	}
	waitForCount(t, hub, 1)
}

// TestSessionIgnoresUnknownTypes verifies server-only and unknown message
// types from a client are ignored without error.
func TestSessionIgnoresUnknownTypes(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sess := startPipeSession(t, hub)
	sess.joinAs(t, "Alice")

	sess.send(t, Message{Type: TypeUsers, Users: []string{"spoof"}})
	sess.send(t, Message{Type: "shrug"})
	sess.send(t, Message{Type: TypeChat, Text: "still chatting"})

	if echo := sess.recv(t); echo.Text != "still chatting" {
		t.Errorf("expected unknown types to be ignored, got %+v", echo)
	}
}

// TestSessionDisconnectAnnouncement verifies that closing a registered
// connection produces one leave notice and a refreshed roster for the peers.
func TestSessionDisconnectAnnouncement(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	alice := startPipeSession(t, hub)
	alice.joinAs(t, "Alice")

	// The pipe is unbuffered, so frames must be consumed in the exact order
	// the server emits them: Bob's welcome, the join notice to Alice, then
	// the roster to Alice and to Bob.
	bob := startPipeSession(t, hub)
	bob.send(t, Message{Type: TypeJoin, Username: "Bob"})
	if welcome := bob.recv(t); welcome.Text != "Welcome Bob! 🎉" {
		t.Fatalf("expected welcome, got %+v", welcome)
	}
	if joined := alice.recv(t); joined.Text != "Bob joined the room." {
		t.Fatalf("expected join notice, got %+v", joined)
	}
	if roster := alice.recv(t); len(roster.Users) != 2 {
		t.Fatalf("expected two users, got %+v", roster)
	}
	if roster := bob.recv(t); len(roster.Users) != 2 {
		t.Fatalf("expected two users, got %+v", roster)
	}

	_ = bob.conn.Close()

	if left := alice.recv(t); left.Type != TypeSystem || left.Text != "Bob left the room." {
		t.Errorf("expected leave notice, got %+v", left)
	}
	if roster := alice.recv(t); len(roster.Users) != 1 || roster.Users[0] != "Alice" {
		t.Errorf("expected roster with Alice only, got %+v", roster)
	}
	waitForCount(t, hub, 1)
}
