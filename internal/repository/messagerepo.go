package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/model"
)

// MessageRepository provides durable append and mutation of messages and reactions.
type MessageRepository interface {
	// Insert appends the message and touches the conversation's last-activity
	// timestamp in the same transaction; returns the stored row.
	Insert(ctx context.Context, m model.Message) (model.Message, error)
	// Get returns a single message by ID.
	Get(ctx context.Context, messageID uuid.UUID) (*model.Message, error)
	// SoftDelete replaces content with the fixed placeholder and sets the
	// deleted flag; idempotent. Returns the updated row.
	SoftDelete(ctx context.Context, messageID uuid.UUID) (model.Message, error)
	// AddReaction inserts a reaction row; reports false if it already existed.
	AddReaction(ctx context.Context, r model.Reaction) (bool, error)
	// RemoveReaction deletes a reaction row; reports false if none existed.
	RemoveReaction(ctx context.Context, r model.Reaction) (bool, error)
}
