package domain

import (
	"crypto/rand"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MessageType selects the routing semantics applied to a Message.
type MessageType string

const (
	MessageDirect       MessageType = "direct"
	MessageBroadcast    MessageType = "broadcast"
	MessageSystem       MessageType = "system"
	MessageEvent        MessageType = "event"
	MessageToolRequest  MessageType = "tool_request"
	MessageToolResponse MessageType = "tool_response"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageDirect, MessageBroadcast, MessageSystem, MessageEvent,
		MessageToolRequest, MessageToolResponse:
		return true
	}
	return false
}

// Well-known metadata keys.
const (
	MetaEventType = "event_type"
	MetaHandoff   = "handoff"
	MetaHandoffID = "handoff_id"
	MetaFromAgent = "from_agent"
)

// Message is the envelope exchanged on the message bus. Treat it as a value:
// routing code never mutates a Message after construction.
type Message struct {
	ID          string         `json:"id"`
	Content     any            `json:"content"`
	Type        MessageType    `json:"type"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewMessage builds a message with a fresh ULID and a UTC timestamp.
func NewMessage(typ MessageType, sender, recipient string, content any) Message {
	return Message{
		ID:          NewID(),
		Content:     content,
		Type:        typ,
		SenderID:    sender,
		RecipientID: recipient,
		Timestamp:   time.Now().UTC(),
	}
}

// WithMetadata returns a copy of m with key set to value.
func (m Message) WithMetadata(key string, value any) Message {
	md := make(map[string]any, len(m.Metadata)+1)
	maps.Copy(md, m.Metadata)
	md[key] = value
	m.Metadata = md
	return m
}

// MetaString returns the string metadata value for key, if present.
func (m Message) MetaString(key string) (string, bool) {
	v, ok := m.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Text renders the content as a string for safety checks and logging.
func (m Message) Text() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case fmt.Stringer:
		return c.String()
	default:
		return fmt.Sprint(c)
	}
}

// Validate checks the fields routing depends on.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, m.Type)
	}
	if m.Type == MessageDirect && m.RecipientID == "" {
		return fmt.Errorf("%w: direct message requires recipient_id", ErrInvalidInput)
	}
	return nil
}

// NewID returns a lexically sortable unique identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewUUID returns a random RFC 4122 identifier, used for agents, handoffs
// and tasks.
func NewUUID() string {
	return uuid.NewString()
}
