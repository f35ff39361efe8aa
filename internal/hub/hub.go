// Package hub owns the process-wide real-time state: live connections,
// per-conversation subscriber sets, presence counters and typing timers.
// All of it is ephemeral and rebuilt from zero on restart.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/event"
	"github.com/avolkov/wirechat/internal/metrics"
	"github.com/avolkov/wirechat/internal/service"
)

// Sender delivers one outbound event to a transport without blocking.
// TrySend reports false when the connection cannot keep up (full queue or
// already closed); the hub then drops the connection.
type Sender interface {
	TrySend(ev event.Outbound) bool
	Close()
}

// ConversationLister enumerates a principal's conversations; used to scope
// presence broadcasts. Satisfied by repository.MembershipRepository.
type ConversationLister interface {
	ListConversations(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error)
}

// Relay forwards broadcast events to subscribers on other processes.
// Implementations must be best-effort and must not block.
type Relay interface {
	Publish(conversationID, excludePrincipal uuid.UUID, ev event.Outbound)
}

// Conn is one live registered connection of a principal.
type Conn struct {
	ID        uuid.UUID
	Principal uuid.UUID
	sender    Sender

	mu   sync.Mutex
	subs map[uuid.UUID]struct{}
}

// Subscribed reports whether the connection has joined the conversation.
func (c *Conn) Subscribed(conversationID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[conversationID]
	return ok
}

// room holds one conversation's local subscriber set behind its own lock so
// concurrent join/leave on different conversations never contend.
type room struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Conn
}

// Hub is the event router plus connection registry.
type Hub struct {
	log       *zap.Logger
	oracle    service.Oracle
	convs     ConversationLister
	typingTTL time.Duration
	relay     Relay

	mu         sync.RWMutex
	conns      map[uuid.UUID]*Conn
	principals map[uuid.UUID]map[uuid.UUID]*Conn
	rooms      map[uuid.UUID]*room
	draining   bool

	typingMu sync.Mutex
	typing   map[typingKey]*typingEntry
}

// New constructs a hub. typingTTL <= 0 selects the default of 5 seconds.
func New(log *zap.Logger, oracle service.Oracle, convs ConversationLister, typingTTL time.Duration) *Hub {
	if typingTTL <= 0 {
		typingTTL = 5 * time.Second
	}
	return &Hub{
		log:        log,
		oracle:     oracle,
		convs:      convs,
		typingTTL:  typingTTL,
		conns:      make(map[uuid.UUID]*Conn),
		principals: make(map[uuid.UUID]map[uuid.UUID]*Conn),
		rooms:      make(map[uuid.UUID]*room),
		typing:     make(map[typingKey]*typingEntry),
	}
}

// SetRelay attaches the optional cross-process fan-out bridge.
func (h *Hub) SetRelay(r Relay) { h.relay = r }

// Subscribe joins the connection to a conversation after an oracle check.
// Idempotent when already joined.
func (h *Hub) Subscribe(ctx context.Context, c *Conn, conversationID uuid.UUID) error {
	ok, err := h.oracle.CanParticipate(ctx, c.Principal, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("join %s: %w", conversationID, errs.ErrNotAuthorized)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.conns[c.ID]; !live {
		// lost the race with Unregister; nothing to join
		return nil
	}
	r, okR := h.rooms[conversationID]
	if !okR {
		r = &room{conns: make(map[uuid.UUID]*Conn)}
		h.rooms[conversationID] = r
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	c.mu.Lock()
	c.subs[conversationID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the connection from a conversation unconditionally.
func (h *Hub) Unsubscribe(c *Conn, conversationID uuid.UUID) {
	c.mu.Lock()
	delete(c.subs, conversationID)
	c.mu.Unlock()
	h.detach(c.ID, conversationID)
}

// detach removes the connection from the room, dropping the room when empty.
func (h *Hub) detach(connID, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.conns, connID)
	empty := len(r.conns) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, conversationID)
	}
}

// Broadcast delivers the event to every local subscriber of the conversation
// and forwards it to the relay. Target set includes the sender's own devices.
func (h *Hub) Broadcast(conversationID uuid.UUID, ev event.Outbound) {
	h.BroadcastExcept(conversationID, uuid.Nil, ev)
}

// BroadcastExcept is Broadcast minus every connection of one principal
// (used for typing and presence, where the originator already knows).
func (h *Hub) BroadcastExcept(conversationID, excludePrincipal uuid.UUID, ev event.Outbound) {
	n := h.deliverLocal(conversationID, excludePrincipal, ev)
	metrics.BroadcastFanout.Observe(float64(n))
	if h.relay != nil {
		h.relay.Publish(conversationID, excludePrincipal, ev)
	}
}

// DeliverLocal hands a relayed event to local subscribers only; the bridge
// calls this for events that originated on other processes.
func (h *Hub) DeliverLocal(conversationID, excludePrincipal uuid.UUID, ev event.Outbound) {
	h.deliverLocal(conversationID, excludePrincipal, ev)
}

func (h *Hub) deliverLocal(conversationID, excludePrincipal uuid.UUID, ev event.Outbound) int {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if excludePrincipal != uuid.Nil && c.Principal == excludePrincipal {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.sender.TrySend(ev) {
			sent++
			continue
		}
		h.dropSlow(c)
	}
	return sent
}

// dropSlow unregisters a connection whose send queue is full. Runs async so
// a single slow client never stalls a broadcast.
func (h *Hub) dropSlow(c *Conn) {
	metrics.SlowConsumerDrops.Inc()
	h.log.Warn("dropping slow consumer",
		zap.String("conn", c.ID.String()),
		zap.String("principal", c.Principal.String()),
	)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Unregister(ctx, c)
	}()
}

// Shutdown closes every connection and clears all ephemeral state. No
// presence events are emitted: the whole process is going away.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.draining = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[uuid.UUID]*Conn)
	h.principals = make(map[uuid.UUID]map[uuid.UUID]*Conn)
	h.rooms = make(map[uuid.UUID]*room)
	h.mu.Unlock()

	h.typingMu.Lock()
	for k, e := range h.typing {
		e.timer.Stop()
		delete(h.typing, k)
	}
	h.typingMu.Unlock()

	for _, c := range conns {
		c.sender.Close()
	}
	metrics.ConnectionsActive.Set(0)
	metrics.PrincipalsOnline.Set(0)
}
