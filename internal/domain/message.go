package domain

import "time"

// Segment is one element of a wire message: a typed payload such as text,
// image, at, or reply.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventType tags the variants of ChatEvent.
type EventType string

const (
	EventMessage EventType = "message"
	EventNotice  EventType = "notice"
	EventRequest EventType = "request"
	EventMeta    EventType = "meta"
)

// ChatEvent is a decoded platform event. Immutable once received.
type ChatEvent struct {
	Type       EventType
	DetailType string
	ID         string // platform-assigned correlation id
	SenderID   string
	GroupID    string // empty for private chats
	SelfID     string
	Segments   []Segment
	Received   time.Time
}

// InternalMessage is the normalized form of a message event that flows
// through the decision pipeline. Stages never mutate it in place.
type InternalMessage struct {
	ID        string
	SenderID  string
	GroupID   string // empty = private chat
	Text      string
	Segments  []Segment
	Addressed bool // at-bot mention or reply to one of the bot's messages
	Timestamp time.Time
}

// IsGroup reports whether the message arrived in a group chat.
func (m InternalMessage) IsGroup() bool { return m.GroupID != "" }

// ConversationKey identifies the conversation the message belongs to: the
// group id for group chats, the sender id for private ones.
func (m InternalMessage) ConversationKey() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.SenderID
}
