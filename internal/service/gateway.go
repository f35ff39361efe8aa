package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/emoji"
	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
	"github.com/avolkov/wirechat/internal/repository"
)

// MaxContentRunes caps the length of a text message body.
const MaxContentRunes = 4000

// Gateway is the message persistence gateway: it durably commits a message,
// reaction or deletion before anything is broadcast. Authorization is
// re-validated here regardless of what the router already checked, since
// membership can change between the two checks.
type Gateway interface {
	// Append validates and durably appends a message, returning the persisted
	// representation with the server-assigned id and timestamp.
	Append(ctx context.Context, conversationID, senderID uuid.UUID,
		content string, contentType model.ContentType, mediaRef string) (model.Message, error)
	// AddReaction idempotently adds a reaction. The returned flag is false
	// when the reaction already existed (a no-op success, not an error).
	AddReaction(ctx context.Context, messageID, principalID uuid.UUID, symbol string) (conversationID uuid.UUID, added bool, err error)
	// RemoveReaction removes a reaction if present.
	RemoveReaction(ctx context.Context, messageID, principalID uuid.UUID, symbol string) (conversationID uuid.UUID, removed bool, err error)
	// SoftDelete tombstones a message; only its original sender may do so.
	SoftDelete(ctx context.Context, messageID, requesterID uuid.UUID) (model.Message, error)
}

type GatewayImpl struct {
	messages repository.MessageRepository
	oracle   Oracle
}

// NewGateway constructs the persistence gateway.
func NewGateway(messages repository.MessageRepository, oracle Oracle) *GatewayImpl {
	return &GatewayImpl{messages: messages, oracle: oracle}
}

// Append re-validates membership, validates the payload and commits the
// insert together with the conversation's last-activity touch.
func (g *GatewayImpl) Append(
	ctx context.Context, conversationID, senderID uuid.UUID,
	content string, contentType model.ContentType, mediaRef string,
) (model.Message, error) {
	ok, err := g.oracle.CanParticipate(ctx, senderID, conversationID)
	if err != nil {
		return model.Message{}, err
	}
	if !ok {
		return model.Message{}, fmt.Errorf("sender is not a member: %w", errs.ErrNotAuthorized)
	}

	switch contentType {
	case model.ContentText:
		if content == "" {
			return model.Message{}, fmt.Errorf("empty text content: %w", errs.ErrValidationFailed)
		}
		if utf8.RuneCountInString(content) > MaxContentRunes {
			return model.Message{}, fmt.Errorf("content too long: %w", errs.ErrValidationFailed)
		}
	case model.ContentImage:
		if mediaRef == "" {
			return model.Message{}, fmt.Errorf("image without media ref: %w", errs.ErrValidationFailed)
		}
	default:
		return model.Message{}, fmt.Errorf("unknown content type %q: %w", contentType, errs.ErrValidationFailed)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.Message{}, err
	}
	return g.messages.Insert(ctx, model.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ContentType:    contentType,
		MediaRef:       mediaRef,
	})
}

// AddReaction validates the symbol, re-checks membership against the
// message's conversation and commits idempotently.
func (g *GatewayImpl) AddReaction(
	ctx context.Context, messageID, principalID uuid.UUID, symbol string,
) (uuid.UUID, bool, error) {
	if err := emoji.ValidateReaction(symbol); err != nil {
		return uuid.Nil, false, err
	}
	msg, err := g.authorizedMessage(ctx, messageID, principalID)
	if err != nil {
		return uuid.Nil, false, err
	}
	added, err := g.messages.AddReaction(ctx, model.Reaction{
		MessageID: messageID, PrincipalID: principalID, Symbol: symbol,
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return msg.ConversationID, added, nil
}

// RemoveReaction removes the principal's reaction if present.
func (g *GatewayImpl) RemoveReaction(
	ctx context.Context, messageID, principalID uuid.UUID, symbol string,
) (uuid.UUID, bool, error) {
	msg, err := g.authorizedMessage(ctx, messageID, principalID)
	if err != nil {
		return uuid.Nil, false, err
	}
	removed, err := g.messages.RemoveReaction(ctx, model.Reaction{
		MessageID: messageID, PrincipalID: principalID, Symbol: symbol,
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return msg.ConversationID, removed, nil
}

// SoftDelete tombstones the message. Only the original sender may delete;
// deleting an already-deleted message is a no-op returning the current row.
func (g *GatewayImpl) SoftDelete(ctx context.Context, messageID, requesterID uuid.UUID) (model.Message, error) {
	msg, err := g.messages.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if msg.SenderID != requesterID {
		return model.Message{}, fmt.Errorf("only the sender may delete: %w", errs.ErrNotAuthorized)
	}
	if msg.Deleted {
		return *msg, nil
	}
	return g.messages.SoftDelete(ctx, messageID)
}

// authorizedMessage loads the message and verifies the principal is a current
// member of its conversation.
func (g *GatewayImpl) authorizedMessage(ctx context.Context, messageID, principalID uuid.UUID) (*model.Message, error) {
	msg, err := g.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	ok, err := g.oracle.CanParticipate(ctx, principalID, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("not a member of the message's conversation: %w", errs.ErrNotAuthorized)
	}
	return msg, nil
}
