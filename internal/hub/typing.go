package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/convert"
	"github.com/avolkov/wirechat/internal/errs"
)

type typingKey struct {
	conv      uuid.UUID
	principal uuid.UUID
}

// typingEntry pairs the expiry timer with a generation. Every refresh bumps
// the generation and arms a fresh timer, so an expiry that raced a refresh
// carries a stale generation and is ignored.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// StartTyping sets or refreshes the typing expiry for (conversation,
// principal) and announces typing.started to the other subscribers. The
// membership check runs against storage on every call, membership may have
// been revoked since the join. When no explicit stop arrives the per-entry
// timer emits a synthetic typing.stopped once the TTL elapses, so a crashed
// client cannot leave a phantom indicator.
func (h *Hub) StartTyping(ctx context.Context, c *Conn, conversationID uuid.UUID) error {
	if !c.Subscribed(conversationID) {
		return fmt.Errorf("typing in a conversation not joined: %w", errs.ErrNotAuthorized)
	}
	ok, err := h.oracle.CanParticipate(ctx, c.Principal, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("typing in conversation %s: %w", conversationID, errs.ErrNotAuthorized)
	}
	key := typingKey{conv: conversationID, principal: c.Principal}

	h.typingMu.Lock()
	if e, ok := h.typing[key]; ok {
		e.timer.Stop()
		e.gen++
		gen := e.gen
		e.timer = time.AfterFunc(h.typingTTL, func() { h.expireTyping(key, gen) })
		h.typingMu.Unlock()
		// refresh only; subscribers already saw typing.started
		return nil
	}
	e := &typingEntry{gen: 1}
	e.timer = time.AfterFunc(h.typingTTL, func() { h.expireTyping(key, 1) })
	h.typing[key] = e
	h.typingMu.Unlock()

	h.BroadcastExcept(conversationID, c.Principal, convert.TypingChanged(conversationID, c.Principal, true))
	return nil
}

// StopTyping clears the entry early and announces typing.stopped. A stop
// without a matching start is a no-op. No membership check: clearing an
// indicator others already saw is always allowed.
func (h *Hub) StopTyping(c *Conn, conversationID uuid.UUID) error {
	if !c.Subscribed(conversationID) {
		return fmt.Errorf("typing in a conversation not joined: %w", errs.ErrNotAuthorized)
	}
	key := typingKey{conv: conversationID, principal: c.Principal}

	h.typingMu.Lock()
	e, ok := h.typing[key]
	if ok {
		e.timer.Stop()
		delete(h.typing, key)
	}
	h.typingMu.Unlock()
	if !ok {
		return nil
	}

	h.BroadcastExcept(conversationID, c.Principal, convert.TypingChanged(conversationID, c.Principal, false))
	return nil
}

// expireTyping fires from the per-entry timer and emits the synthetic stop.
// A stale generation means the entry was refreshed or stopped after this
// timer was armed; such firings do nothing.
func (h *Hub) expireTyping(key typingKey, gen uint64) {
	h.typingMu.Lock()
	e, ok := h.typing[key]
	if !ok || e.gen != gen {
		h.typingMu.Unlock()
		return
	}
	delete(h.typing, key)
	h.typingMu.Unlock()

	h.BroadcastExcept(key.conv, key.principal, convert.TypingChanged(key.conv, key.principal, false))
}

// stopAllTyping clears every typing entry of a principal that just went
// offline, emitting stops for conversations where others saw a start.
func (h *Hub) stopAllTyping(principalID uuid.UUID) {
	h.typingMu.Lock()
	var expired []typingKey
	for key, e := range h.typing {
		if key.principal != principalID {
			continue
		}
		e.timer.Stop()
		delete(h.typing, key)
		expired = append(expired, key)
	}
	h.typingMu.Unlock()

	for _, key := range expired {
		h.BroadcastExcept(key.conv, key.principal, convert.TypingChanged(key.conv, key.principal, false))
	}
}
