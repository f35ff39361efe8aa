// Package event defines the JSON wire protocol spoken over the real-time
// transport, in both directions.
package event

import "time"

// Client -> server event types.
const (
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypeMessageSend    = "message.send"
	TypeMessageDelete  = "message.delete"
	TypeTypingStart    = "typing.start"
	TypeTypingStop     = "typing.stop"
	TypeReactionAdd    = "reaction.add"
	TypeReactionRemove = "reaction.remove"
)

// Server -> client event types.
const (
	TypeMessageCreated  = "message.created"
	TypeMessageUpdated  = "message.updated"
	TypeReactionChanged = "reaction.changed"
	TypeTypingStarted   = "typing.started"
	TypeTypingStopped   = "typing.stopped"
	TypePresenceChanged = "presence.changed"
	TypeError           = "error"
)

// Inbound is the client->server envelope; unused fields stay empty.
type Inbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	MediaRef       string `json:"media_ref,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Symbol         string `json:"symbol,omitempty"`
}

// Message is the wire form of a persisted message. Reactions is always
// present (empty for a fresh message) so clients need no nil checks.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	ContentType    string     `json:"content_type"`
	MediaRef       string     `json:"media_ref,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Reactions      []Reaction `json:"reactions"`
}

// Reaction is the wire form of a stored reaction.
type Reaction struct {
	PrincipalID string `json:"principal_id"`
	Symbol      string `json:"symbol"`
}

// ReactionChange announces a reaction added or removed.
type ReactionChange struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	PrincipalID    string `json:"principal_id"`
	Symbol         string `json:"symbol"`
	Added          bool   `json:"added"`
}

// TypingChange announces a typing start/stop in a conversation.
type TypingChange struct {
	ConversationID string `json:"conversation_id"`
	PrincipalID    string `json:"principal_id"`
}

// PresenceChange announces an online/offline transition.
type PresenceChange struct {
	PrincipalID string `json:"principal_id"`
	Online      bool   `json:"online"`
}

// Error is delivered only to the originator of a failed event.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Outbound is the server->client envelope; exactly one payload field is set.
type Outbound struct {
	Type     string          `json:"type"`
	Message  *Message        `json:"message,omitempty"`
	Reaction *ReactionChange `json:"reaction,omitempty"`
	Typing   *TypingChange   `json:"typing,omitempty"`
	Presence *PresenceChange `json:"presence,omitempty"`
	Error    *Error          `json:"error,omitempty"`
}
