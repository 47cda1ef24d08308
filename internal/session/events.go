package session

import "github.com/charlesng35/parlor/internal/embed"

// Event types broadcast by the gateway. Everything except ready and commands
// goes to all registered connections.
const (
	EventReady    = "ready"
	EventCommands = "commands"
	EventJoin     = "join"
	EventLeave    = "leave"
	EventTyping   = "typing"
	EventMessage  = "message"
	EventUserEdit = "user-edit"
)

// Event is one outbound protocol frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Profile is the serialized form of an identity.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	IsBot     bool   `json:"isBot"`
	Status    string `json:"status,omitempty"`
}

// ReadyData is unicast to a connection once its login handshake completes.
type ReadyData struct {
	User    Profile   `json:"user"`
	Members []Profile `json:"members"`
	Token   string    `json:"token"`
}

// TypingData announces a typing indicator.
type TypingData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageData carries one broadcast chat message.
type MessageData struct {
	ID       string       `json:"id"`
	User     string       `json:"user"`
	Content  string       `json:"content"`
	Embed    *embed.Embed `json:"embed,omitempty"`
	Mentions []string     `json:"mentions"`
}
