package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/model"
)

// ConversationRepository provides conversation lifecycle operations.
type ConversationRepository interface {
	// Get returns a conversation by ID.
	Get(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error)
	// CreateDirect creates the unique direct conversation between the ordered
	// pair (a, b), or returns the existing one (idempotent).
	CreateDirect(ctx context.Context, a, b uuid.UUID) (model.Conversation, error)
	// CreateGroup creates a group conversation with the creator as its first member.
	CreateGroup(ctx context.Context, name string, creator uuid.UUID) (model.Conversation, error)
	// Rename updates a group conversation's name.
	Rename(ctx context.Context, conversationID uuid.UUID, name string) error
	// Delete removes the conversation and all dependent rows.
	Delete(ctx context.Context, conversationID uuid.UUID) error
}
