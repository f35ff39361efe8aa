package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/avolkov/wirechat/internal/convert"
	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/event"
	"github.com/avolkov/wirechat/internal/hub"
	"github.com/avolkov/wirechat/internal/metrics"
	"github.com/avolkov/wirechat/internal/model"
)

// dispatch handles one inbound event. Returns true when the connection must
// be closed (violation budget exhausted). Errors are terminal for the event,
// never for the connection, and go only to the originator.
func (s *Server) dispatch(conn *hub.Conn, wc *wsConn, in event.Inbound) bool {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	switch in.Type {
	case event.TypeJoin:
		err = s.handleJoin(ctx, conn, in)
	case event.TypeLeave:
		err = s.handleLeave(conn, in)
	case event.TypeMessageSend:
		err = s.handleMessageSend(ctx, conn, in)
	case event.TypeMessageDelete:
		err = s.handleMessageDelete(ctx, conn, in)
	case event.TypeTypingStart, event.TypeTypingStop:
		err = s.handleTyping(ctx, conn, in)
	case event.TypeReactionAdd, event.TypeReactionRemove:
		err = s.handleReaction(ctx, conn, in)
	default:
		err = fmt.Errorf("unknown event type %q: %w", in.Type, errs.ErrValidationFailed)
	}

	if err == nil {
		metrics.EventsIn.WithLabelValues(in.Type).Inc()
		return false
	}

	metrics.EventsRejected.WithLabelValues(errs.Code(err)).Inc()
	wc.TrySend(convert.ErrorEvent(err))

	if !isViolation(err) {
		return false
	}
	s.log.Warn("protocol violation",
		zap.String("conn", conn.ID.String()),
		zap.String("principal", conn.Principal.String()),
		zap.String("event", in.Type),
		zap.String("code", errs.Code(err)),
	)
	if s.violations.Record(conn.ID) {
		s.log.Warn("closing connection after repeated violations",
			zap.String("conn", conn.ID.String()))
		return true
	}
	return false
}

// isViolation classifies errors that count against the connection's
// violation budget: events the client should never have sent. Storage
// failures and plain not-found do not count.
func isViolation(err error) bool {
	return errors.Is(err, errs.ErrNotAuthorized) || errors.Is(err, errs.ErrValidationFailed)
}

func (s *Server) handleJoin(ctx context.Context, conn *hub.Conn, in event.Inbound) error {
	convID, err := parseID(in.ConversationID, "conversation_id")
	if err != nil {
		return err
	}
	return s.hub.Subscribe(ctx, conn, convID)
}

func (s *Server) handleLeave(conn *hub.Conn, in event.Inbound) error {
	convID, err := parseID(in.ConversationID, "conversation_id")
	if err != nil {
		return err
	}
	s.hub.Unsubscribe(conn, convID)
	return nil
}

// handleMessageSend is the publish path: subscription check, then the
// gateway (which re-validates membership and commits), then the broadcast of
// the persisted representation, never the client payload verbatim.
func (s *Server) handleMessageSend(ctx context.Context, conn *hub.Conn, in event.Inbound) error {
	convID, err := parseID(in.ConversationID, "conversation_id")
	if err != nil {
		return err
	}
	if !conn.Subscribed(convID) {
		return fmt.Errorf("publish to a conversation not joined: %w", errs.ErrNotAuthorized)
	}
	msg, err := s.gateway.Append(ctx, convID, conn.Principal,
		in.Content, model.ContentType(in.ContentType), in.MediaRef)
	if err != nil {
		return err
	}
	s.hub.Broadcast(convID, convert.MessageCreated(msg))
	return nil
}

func (s *Server) handleMessageDelete(ctx context.Context, conn *hub.Conn, in event.Inbound) error {
	msgID, err := parseID(in.MessageID, "message_id")
	if err != nil {
		return err
	}
	msg, err := s.gateway.SoftDelete(ctx, msgID, conn.Principal)
	if err != nil {
		return err
	}
	s.hub.Broadcast(msg.ConversationID, convert.MessageUpdated(msg))
	return nil
}

func (s *Server) handleTyping(ctx context.Context, conn *hub.Conn, in event.Inbound) error {
	convID, err := parseID(in.ConversationID, "conversation_id")
	if err != nil {
		return err
	}
	if in.Type == event.TypeTypingStart {
		return s.hub.StartTyping(ctx, conn, convID)
	}
	return s.hub.StopTyping(conn, convID)
}

// handleReaction commits through the gateway and broadcasts only when the
// durable state actually changed; an idempotent re-add is a silent success.
func (s *Server) handleReaction(ctx context.Context, conn *hub.Conn, in event.Inbound) error {
	msgID, err := parseID(in.MessageID, "message_id")
	if err != nil {
		return err
	}
	var (
		convID  uuid.UUID
		changed bool
		added   = in.Type == event.TypeReactionAdd
	)
	if added {
		convID, changed, err = s.gateway.AddReaction(ctx, msgID, conn.Principal, in.Symbol)
	} else {
		convID, changed, err = s.gateway.RemoveReaction(ctx, msgID, conn.Principal, in.Symbol)
	}
	if err != nil {
		return err
	}
	if changed {
		s.hub.Broadcast(convID, convert.ReactionChanged(msgID, convID, conn.Principal, in.Symbol, added))
	}
	return nil
}

func parseID(s, field string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("bad %s: %w", field, errs.ErrValidationFailed)
	}
	return id, nil
}
