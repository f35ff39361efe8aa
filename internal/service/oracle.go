// Package service contains application services for authorization, persistence
// and conversation administration.
package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
	"github.com/avolkov/wirechat/internal/repository"
)

// Oracle answers membership questions against durable state. It never mutates
// and never caches: every privileged operation re-checks the role at call
// time, so a stale answer cannot outlive a concurrent membership change.
type Oracle interface {
	// CanParticipate reports whether the principal is a member of the conversation.
	CanParticipate(ctx context.Context, principalID, conversationID uuid.UUID) (bool, error)
	// RoleOf returns the principal's role; errs.ErrNotFound when not a member.
	RoleOf(ctx context.Context, principalID, conversationID uuid.UUID) (model.Role, error)
}

type OracleImpl struct {
	members repository.MembershipRepository
}

// NewOracle constructs the membership oracle over the durable store.
func NewOracle(members repository.MembershipRepository) *OracleImpl {
	return &OracleImpl{members: members}
}

// CanParticipate is a point lookup against durable membership.
func (o *OracleImpl) CanParticipate(ctx context.Context, principalID, conversationID uuid.UUID) (bool, error) {
	_, err := o.members.Role(ctx, conversationID, principalID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RoleOf returns the current role of the principal in the conversation.
func (o *OracleImpl) RoleOf(ctx context.Context, principalID, conversationID uuid.UUID) (model.Role, error) {
	return o.members.Role(ctx, conversationID, principalID)
}
