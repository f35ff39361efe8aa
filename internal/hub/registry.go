package hub

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/avolkov/wirechat/internal/convert"
	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/metrics"
)

// Register adds an authenticated connection to the registry. The first
// connection of a principal flips them online and announces presence to
// everyone sharing a conversation with them. A principal may register any
// number of simultaneous connections (multi-device).
func (h *Hub) Register(ctx context.Context, principalID uuid.UUID, s Sender) (*Conn, error) {
	if principalID == uuid.Nil {
		return nil, errs.ErrAuthenticationRequired
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ID:        id,
		Principal: principalID,
		sender:    s,
		subs:      make(map[uuid.UUID]struct{}),
	}

	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return nil, fmt.Errorf("hub is shutting down: %w", errs.ErrStorageUnavailable)
	}
	h.conns[id] = c
	byPrincipal := h.principals[principalID]
	if byPrincipal == nil {
		byPrincipal = make(map[uuid.UUID]*Conn)
		h.principals[principalID] = byPrincipal
	}
	byPrincipal[id] = c
	first := len(byPrincipal) == 1
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	if first {
		metrics.PrincipalsOnline.Inc()
		h.broadcastPresence(ctx, principalID, true)
	}
	h.log.Debug("connection registered",
		zap.String("conn", id.String()),
		zap.String("principal", principalID.String()),
	)
	return c, nil
}

// Unregister removes the connection. Safe to call multiple times and must
// run on every transport-close path; losing the last connection flips the
// principal offline with the same scoped broadcast.
func (h *Hub) Unregister(ctx context.Context, c *Conn) {
	h.mu.Lock()
	if _, live := h.conns[c.ID]; !live {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)
	last := false
	if byPrincipal := h.principals[c.Principal]; byPrincipal != nil {
		delete(byPrincipal, c.ID)
		if len(byPrincipal) == 0 {
			delete(h.principals, c.Principal)
			last = true
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	subs := make([]uuid.UUID, 0, len(c.subs))
	for convID := range c.subs {
		subs = append(subs, convID)
	}
	c.subs = make(map[uuid.UUID]struct{})
	c.mu.Unlock()
	for _, convID := range subs {
		h.detach(c.ID, convID)
	}

	if last {
		h.stopAllTyping(c.Principal)
	}
	c.sender.Close()

	metrics.ConnectionsActive.Dec()
	if last {
		metrics.PrincipalsOnline.Dec()
		h.broadcastPresence(ctx, c.Principal, false)
	}
	h.log.Debug("connection unregistered",
		zap.String("conn", c.ID.String()),
		zap.String("principal", c.Principal.String()),
	)
}

// Online reports whether a principal has at least one live connection.
func (h *Hub) Online(principalID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.principals[principalID]) > 0
}

// broadcastPresence announces an online/offline flip to subscribers of every
// conversation the principal belongs to, not globally. Each connection sees
// the event at most once even when it shares
// several conversations with the principal. Best-effort by contract.
func (h *Hub) broadcastPresence(ctx context.Context, principalID uuid.UUID, online bool) {
	convIDs, err := h.convs.ListConversations(ctx, principalID)
	if err != nil {
		h.log.Warn("presence fan-out skipped",
			zap.String("principal", principalID.String()),
			zap.Error(err),
		)
		return
	}

	ev := convert.PresenceChanged(principalID, online)
	seen := make(map[uuid.UUID]struct{})
	for _, convID := range convIDs {
		h.mu.RLock()
		r, ok := h.rooms[convID]
		h.mu.RUnlock()
		if ok {
			r.mu.RLock()
			targets := make([]*Conn, 0, len(r.conns))
			for _, c := range r.conns {
				if c.Principal == principalID {
					continue
				}
				if _, dup := seen[c.ID]; dup {
					continue
				}
				seen[c.ID] = struct{}{}
				targets = append(targets, c)
			}
			r.mu.RUnlock()
			for _, c := range targets {
				if !c.sender.TrySend(ev) {
					h.dropSlow(c)
				}
			}
		}
		if h.relay != nil {
			h.relay.Publish(convID, principalID, ev)
		}
	}
}
