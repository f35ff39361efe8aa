package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
	"github.com/avolkov/wirechat/internal/repository"
)

// Rooms covers conversation administration. Every privileged operation
// re-checks the requester's role at call time.
type Rooms interface {
	// OpenDirect returns the unique direct conversation for the pair,
	// creating it on first request.
	OpenDirect(ctx context.Context, requesterID, otherID uuid.UUID) (model.Conversation, error)
	// CreateGroup creates a group conversation owned by the requester.
	CreateGroup(ctx context.Context, requesterID uuid.UUID, name string) (model.Conversation, error)
	// Rename renames a group; creator/admin only.
	Rename(ctx context.Context, requesterID, conversationID uuid.UUID, name string) error
	// Delete removes a conversation; creator/admin only.
	Delete(ctx context.Context, requesterID, conversationID uuid.UUID) error
	// AddParticipant adds a member to a group; creator/admin only.
	AddParticipant(ctx context.Context, requesterID, conversationID, principalID uuid.UUID) error
	// RemoveParticipant removes a member; creator/admin, or the member leaving.
	RemoveParticipant(ctx context.Context, requesterID, conversationID, principalID uuid.UUID) error
}

type RoomsImpl struct {
	convs   repository.ConversationRepository
	members repository.MembershipRepository
}

// NewRooms constructs the conversation administration service.
func NewRooms(convs repository.ConversationRepository, members repository.MembershipRepository) *RoomsImpl {
	return &RoomsImpl{convs: convs, members: members}
}

// OpenDirect is idempotent for the same pair in either order.
func (s *RoomsImpl) OpenDirect(ctx context.Context, requesterID, otherID uuid.UUID) (model.Conversation, error) {
	if otherID == uuid.Nil {
		return model.Conversation{}, fmt.Errorf("empty peer id: %w", errs.ErrValidationFailed)
	}
	return s.convs.CreateDirect(ctx, requesterID, otherID)
}

// CreateGroup creates the group with the requester as creator.
func (s *RoomsImpl) CreateGroup(ctx context.Context, requesterID uuid.UUID, name string) (model.Conversation, error) {
	return s.convs.CreateGroup(ctx, name, requesterID)
}

// Rename requires a privileged role, checked at call time.
func (s *RoomsImpl) Rename(ctx context.Context, requesterID, conversationID uuid.UUID, name string) error {
	if err := s.requirePrivilege(ctx, requesterID, conversationID); err != nil {
		return err
	}
	return s.convs.Rename(ctx, conversationID, name)
}

// Delete requires a privileged role, checked at call time.
func (s *RoomsImpl) Delete(ctx context.Context, requesterID, conversationID uuid.UUID) error {
	if err := s.requirePrivilege(ctx, requesterID, conversationID); err != nil {
		return err
	}
	return s.convs.Delete(ctx, conversationID)
}

// AddParticipant requires a privileged role; the member cap and the
// direct-immutability rule are enforced inside the repository transaction.
func (s *RoomsImpl) AddParticipant(ctx context.Context, requesterID, conversationID, principalID uuid.UUID) error {
	if err := s.requirePrivilege(ctx, requesterID, conversationID); err != nil {
		return err
	}
	return s.members.Add(ctx, conversationID, principalID, model.RoleMember)
}

// RemoveParticipant allows a privileged requester to remove anyone, or any
// member to remove themselves (leave).
func (s *RoomsImpl) RemoveParticipant(ctx context.Context, requesterID, conversationID, principalID uuid.UUID) error {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type == model.ConversationDirect {
		return fmt.Errorf("direct conversation membership is immutable: %w", errs.ErrValidationFailed)
	}
	if requesterID != principalID {
		if err := s.requirePrivilege(ctx, requesterID, conversationID); err != nil {
			return err
		}
	}
	return s.members.Remove(ctx, conversationID, principalID)
}

func (s *RoomsImpl) requirePrivilege(ctx context.Context, requesterID, conversationID uuid.UUID) error {
	role, err := s.members.Role(ctx, conversationID, requesterID)
	if err != nil {
		return fmt.Errorf("requester has no membership: %w", errs.ErrNotAuthorized)
	}
	if !role.Privileged() {
		return fmt.Errorf("role %q may not administer: %w", role, errs.ErrNotAuthorized)
	}
	return nil
}
