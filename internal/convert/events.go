// Package convert maps domain entities to wire event payloads.
package convert

import (
	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/event"
	"github.com/avolkov/wirechat/internal/model"
)

// ToWireMessage converts a persisted message to its wire form.
func ToWireMessage(m model.Message) *event.Message {
	return &event.Message{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		Content:        m.Content,
		ContentType:    string(m.ContentType),
		MediaRef:       m.MediaRef,
		Deleted:        m.Deleted,
		CreatedAt:      m.CreatedAt,
		Reactions:      []event.Reaction{},
	}
}

// MessageCreated builds the broadcast for a freshly persisted message.
func MessageCreated(m model.Message) event.Outbound {
	return event.Outbound{Type: event.TypeMessageCreated, Message: ToWireMessage(m)}
}

// MessageUpdated builds the broadcast for a mutated (soft-deleted) message.
func MessageUpdated(m model.Message) event.Outbound {
	return event.Outbound{Type: event.TypeMessageUpdated, Message: ToWireMessage(m)}
}

// ReactionChanged builds the add/remove reaction broadcast.
func ReactionChanged(messageID, conversationID, principalID uuid.UUID, symbol string, added bool) event.Outbound {
	return event.Outbound{Type: event.TypeReactionChanged, Reaction: &event.ReactionChange{
		MessageID:      messageID.String(),
		ConversationID: conversationID.String(),
		PrincipalID:    principalID.String(),
		Symbol:         symbol,
		Added:          added,
	}}
}

// TypingChanged builds a typing.started or typing.stopped broadcast.
func TypingChanged(conversationID, principalID uuid.UUID, started bool) event.Outbound {
	t := event.TypeTypingStopped
	if started {
		t = event.TypeTypingStarted
	}
	return event.Outbound{Type: t, Typing: &event.TypingChange{
		ConversationID: conversationID.String(),
		PrincipalID:    principalID.String(),
	}}
}

// PresenceChanged builds an online/offline broadcast.
func PresenceChanged(principalID uuid.UUID, online bool) event.Outbound {
	return event.Outbound{Type: event.TypePresenceChanged, Presence: &event.PresenceChange{
		PrincipalID: principalID.String(),
		Online:      online,
	}}
}

// ErrorEvent maps an error to the originator-only error payload.
func ErrorEvent(err error) event.Outbound {
	return event.Outbound{Type: event.TypeError, Error: &event.Error{
		Code:      errs.Code(err),
		Message:   err.Error(),
		Retryable: errs.Retryable(err),
	}}
}
