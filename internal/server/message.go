// Package server defines the wire message format shared by every transport
// along with the truncation rules the protocol applies to client input.
package server

import "strings"

// Protocol limits applied to client-supplied text. Both are measured in
// characters (runes), not bytes, so multi-byte input is never split.
const (
	MaxUsernameLen = 20
	MaxChatTextLen = 1000
)

// Message type tags carried in the "type" field of every frame.
const (
	TypeJoin   = "join"
	TypeChat   = "chat"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeSystem = "system"
	TypeUsers  = "users"
)

// Message is the single JSON object exchanged on the wire, one per frame.
// The Type tag decides which of the remaining fields are meaningful;
// unused fields are omitted from the encoded form.
type Message struct {
	Type     string   `json:"type"`
	Username string   `json:"username,omitempty"`
	From     string   `json:"from,omitempty"`
	Text     string   `json:"text,omitempty"`
	Users    []string `json:"users,omitempty"`
}

// SystemMessage builds a server-to-client informational notice.
func SystemMessage(text string) Message {
	return Message{Type: TypeSystem, Text: text}
}

// ChatMessage builds a chat broadcast attributed to the sending user.
func ChatMessage(from, text string) Message {
	return Message{Type: TypeChat, From: from, Text: text}
}

// UsersMessage builds a full roster snapshot broadcast.
func UsersMessage(users []string) Message {
	return Message{Type: TypeUsers, Users: users}
}

// PongMessage builds the reply to a client ping.
func PongMessage() Message {
	return Message{Type: TypePong}
}

// welcomeMessage greets a freshly joined user on their own connection.
func welcomeMessage(username string) Message {
	return SystemMessage("Welcome " + username + "! 🎉")
}

// truncateRunes caps s at max characters, returning s unchanged when it
// already fits. Input longer than the limit is truncated, never rejected.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// emptyChatText reports whether a chat payload should be dropped silently.
// The check runs on the already-truncated text; the broadcast keeps the
// original (untrimmed) text when it passes.
func emptyChatText(text string) bool {
	return strings.TrimSpace(text) == ""
}
