// Package model defines domain entities used by services, repositories and the hub.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// ConversationType distinguishes two-party and group channels.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Role is a principal's role within a conversation.
type Role string

const (
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
)

// Privileged reports whether the role may run admin operations
// (rename, delete, add/remove participants).
func (r Role) Privileged() bool { return r == RoleCreator || r == RoleAdmin }

// ContentType of a message body.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

// MaxGroupMembers caps group conversation size.
const MaxGroupMembers = 300

// Principal is an authenticated user. Created by the external auth system;
// read-only to this service.
type Principal struct {
	ID          uuid.UUID
	DisplayName string
}

// Conversation is a direct or group channel.
type Conversation struct {
	ID           uuid.UUID
	Type         ConversationType
	Name         string    // empty for direct conversations
	CreatedBy    uuid.UUID // nil for direct conversations
	LastActivity time.Time
	CreatedAt    time.Time
}

// Membership binds a principal to a conversation with a role.
type Membership struct {
	ConversationID uuid.UUID
	PrincipalID    uuid.UUID
	Role           Role
	JoinedAt       time.Time
}

// Message is a single durable chat message. Content of a soft-deleted
// message is the fixed placeholder and is immutable thereafter.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	ContentType    ContentType
	MediaRef       string // required iff ContentType == ContentImage
	Deleted        bool
	CreatedAt      time.Time
}

// Reaction is one (message, principal, symbol) row; re-adding is idempotent.
type Reaction struct {
	MessageID   uuid.UUID
	PrincipalID uuid.UUID
	Symbol      string
	CreatedAt   time.Time
}
