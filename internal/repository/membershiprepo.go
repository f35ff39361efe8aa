// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/model"
)

// MembershipRepository provides point lookups and mutation of conversation membership.
type MembershipRepository interface {
	// Role returns the principal's role in the conversation; errs.ErrNotFound when not a member.
	Role(ctx context.Context, conversationID, principalID uuid.UUID) (model.Role, error)
	// ListMembers returns principal IDs of all members of a conversation.
	ListMembers(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	// ListConversations returns IDs of every conversation the principal belongs to.
	ListConversations(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error)
	// Add inserts a membership row; enforces the group member cap inside the
	// same transaction and is idempotent for an existing member.
	Add(ctx context.Context, conversationID, principalID uuid.UUID, role model.Role) error
	// Remove deletes a membership row; idempotent.
	Remove(ctx context.Context, conversationID, principalID uuid.UUID) error
}
