package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/event"
	"github.com/avolkov/wirechat/internal/model"
)

type fakeSender struct {
	mu     sync.Mutex
	evs    []event.Outbound
	closed bool
	full   bool
}

func (f *fakeSender) TrySend(ev event.Outbound) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.evs = append(f.evs, ev)
	return true
}

func (f *fakeSender) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSender) events() []event.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Outbound(nil), f.evs...)
}

func (f *fakeSender) countType(t string) int {
	n := 0
	for _, ev := range f.events() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// fakeOracle allows (principal, conversation) pairs added via allow().
type fakeOracle struct {
	mu    sync.Mutex
	pairs map[[2]uuid.UUID]bool
}

func newFakeOracle() *fakeOracle { return &fakeOracle{pairs: map[[2]uuid.UUID]bool{}} }

func (f *fakeOracle) allow(principal, conv uuid.UUID) {
	f.mu.Lock()
	f.pairs[[2]uuid.UUID{principal, conv}] = true
	f.mu.Unlock()
}

func (f *fakeOracle) revoke(principal, conv uuid.UUID) {
	f.mu.Lock()
	delete(f.pairs, [2]uuid.UUID{principal, conv})
	f.mu.Unlock()
}

func (f *fakeOracle) CanParticipate(_ context.Context, principal, conv uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairs[[2]uuid.UUID{principal, conv}], nil
}

func (f *fakeOracle) RoleOf(_ context.Context, principal, conv uuid.UUID) (model.Role, error) {
	ok, _ := f.CanParticipate(nil, principal, conv)
	if !ok {
		return "", errs.ErrNotFound
	}
	return model.RoleMember, nil
}

// fakeLister reuses the oracle's pairs as the conversation listing.
type fakeLister struct{ o *fakeOracle }

func (f *fakeLister) ListConversations(_ context.Context, principal uuid.UUID) ([]uuid.UUID, error) {
	f.o.mu.Lock()
	defer f.o.mu.Unlock()
	var out []uuid.UUID
	for k, ok := range f.o.pairs {
		if ok && k[0] == principal {
			out = append(out, k[1])
		}
	}
	return out, nil
}

func newTestHub(ttl time.Duration) (*Hub, *fakeOracle) {
	o := newFakeOracle()
	return New(zap.NewNop(), o, &fakeLister{o: o}, ttl), o
}

func register(t *testing.T, h *Hub, principal uuid.UUID) (*Conn, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	c, err := h.Register(context.Background(), principal, s)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return c, s
}

func subscribe(t *testing.T, h *Hub, c *Conn, conv uuid.UUID) {
	t.Helper()
	if err := h.Subscribe(context.Background(), c, conv); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestSubscribe_NotAuthorized(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(0)
	conv := uuid.Must(uuid.NewV4())
	outsider := uuid.Must(uuid.NewV4())

	c, s := register(t, h, outsider)
	err := h.Subscribe(context.Background(), c, conv)
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("want ErrNotAuthorized, got %v", err)
	}

	// no subscription means no events
	h.Broadcast(conv, event.Outbound{Type: event.TypeMessageCreated})
	if len(s.events()) != 0 {
		t.Fatalf("outsider must receive nothing, got %v", s.events())
	}
}

func TestBroadcast_ExactlyOncePerConnection(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(0)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)
	o.allow(bob, conv)

	// alice has two devices; both plus bob subscribe
	a1, s1 := register(t, h, alice)
	a2, s2 := register(t, h, alice)
	b, s3 := register(t, h, bob)
	subscribe(t, h, a1, conv)
	subscribe(t, h, a2, conv)
	subscribe(t, h, b, conv)

	h.Broadcast(conv, event.Outbound{Type: event.TypeMessageCreated})

	for i, s := range []*fakeSender{s1, s2, s3} {
		if got := s.countType(event.TypeMessageCreated); got != 1 {
			t.Fatalf("conn %d: want exactly 1 message.created, got %d", i, got)
		}
	}
}

func TestSubscribe_Idempotent(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(0)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)

	c, s := register(t, h, alice)
	subscribe(t, h, c, conv)
	subscribe(t, h, c, conv)

	h.Broadcast(conv, event.Outbound{Type: event.TypeMessageCreated})
	if got := s.countType(event.TypeMessageCreated); got != 1 {
		t.Fatalf("double join must not double deliveries, got %d", got)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(0)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)

	c, s := register(t, h, alice)
	subscribe(t, h, c, conv)
	h.Unsubscribe(c, conv)
	h.Unsubscribe(c, conv) // idempotent

	h.Broadcast(conv, event.Outbound{Type: event.TypeMessageCreated})
	if len(s.events()) != 0 {
		t.Fatalf("unsubscribed conn must receive nothing")
	}
}

func TestPresence_FirstAndLastConnection(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(0)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)
	o.allow(bob, conv)

	b, bs := register(t, h, bob)
	subscribe(t, h, b, conv)

	// first connection flips online
	a1, _ := register(t, h, alice)
	evs := bs.events()
	if len(evs) != 1 || evs[0].Type != event.TypePresenceChanged ||
		evs[0].Presence == nil || !evs[0].Presence.Online ||
		evs[0].Presence.PrincipalID != alice.String() {
		t.Fatalf("want presence online for alice, got %+v", evs)
	}

	// second device: no presence event
	a2, _ := register(t, h, alice)
	if got := bs.countType(event.TypePresenceChanged); got != 1 {
		t.Fatalf("second device must not re-announce, got %d presence events", got)
	}

	// dropping one device: still online
	h.Unregister(context.Background(), a1)
	if got := bs.countType(event.TypePresenceChanged); got != 1 {
		t.Fatalf("still one device left, got %d presence events", got)
	}
	if !h.Online(alice) {
		t.Fatalf("alice must still be online")
	}

	// last device gone: offline
	h.Unregister(context.Background(), a2)
	waitFor(t, func() bool { return bs.countType(event.TypePresenceChanged) == 2 })
	last := bs.events()[len(bs.events())-1]
	if last.Presence == nil || last.Presence.Online {
		t.Fatalf("want offline presence, got %+v", last)
	}
	if h.Online(alice) {
		t.Fatalf("alice must be offline")
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(0)
	alice := uuid.Must(uuid.NewV4())
	c, _ := register(t, h, alice)

	h.Unregister(context.Background(), c)
	h.Unregister(context.Background(), c)
	h.Unregister(context.Background(), c)
	if h.Online(alice) {
		t.Fatalf("alice must be offline after unregister")
	}
}

func TestTyping_BroadcastExcludesOriginator(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(time.Minute)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)
	o.allow(bob, conv)

	a, as := register(t, h, alice)
	b, bs := register(t, h, bob)
	subscribe(t, h, a, conv)
	subscribe(t, h, b, conv)

	if err := h.StartTyping(context.Background(), a, conv); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	if got := bs.countType(event.TypeTypingStarted); got != 1 {
		t.Fatalf("bob: want typing.started, got %d", got)
	}
	if got := as.countType(event.TypeTypingStarted); got != 0 {
		t.Fatalf("originator must not see own typing")
	}

	if err := h.StopTyping(a, conv); err != nil {
		t.Fatalf("StopTyping: %v", err)
	}
	if got := bs.countType(event.TypeTypingStopped); got != 1 {
		t.Fatalf("bob: want typing.stopped, got %d", got)
	}
}

func TestTyping_ExpiresWithoutStop(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(30 * time.Millisecond)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)
	o.allow(bob, conv)

	a, _ := register(t, h, alice)
	b, bs := register(t, h, bob)
	subscribe(t, h, a, conv)
	subscribe(t, h, b, conv)

	if err := h.StartTyping(context.Background(), a, conv); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	// no explicit stop: expiry must emit the synthetic one
	waitFor(t, func() bool { return bs.countType(event.TypeTypingStopped) == 1 })
}

func TestTyping_NotSubscribed(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(0)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)

	a, _ := register(t, h, alice)
	if err := h.StartTyping(context.Background(), a, conv); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("typing before join: want ErrNotAuthorized, got %v", err)
	}
}

func TestTyping_RevokedMembership(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(time.Minute)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)
	o.allow(bob, conv)

	a, _ := register(t, h, alice)
	b, bs := register(t, h, bob)
	subscribe(t, h, a, conv)
	subscribe(t, h, b, conv)

	// membership revoked after the join; still subscribed on this connection
	o.revoke(alice, conv)

	err := h.StartTyping(context.Background(), a, conv)
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("typing after revocation: want ErrNotAuthorized, got %v", err)
	}
	if got := bs.countType(event.TypeTypingStarted); got != 0 {
		t.Fatalf("revoked member must not broadcast typing, got %d", got)
	}
}

func TestTyping_StaleExpiryIgnored(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(time.Minute)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)
	o.allow(bob, conv)

	a, _ := register(t, h, alice)
	b, bs := register(t, h, bob)
	subscribe(t, h, a, conv)
	subscribe(t, h, b, conv)

	// start then refresh; the refresh bumps the generation
	if err := h.StartTyping(context.Background(), a, conv); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	if err := h.StartTyping(context.Background(), a, conv); err != nil {
		t.Fatalf("StartTyping refresh: %v", err)
	}

	// a timer armed before the refresh fires with the old generation
	h.expireTyping(typingKey{conv: conv, principal: alice}, 1)
	if got := bs.countType(event.TypeTypingStopped); got != 0 {
		t.Fatalf("stale expiry must not broadcast typing.stopped, got %d", got)
	}

	// the entry is still live and stops normally
	if err := h.StopTyping(a, conv); err != nil {
		t.Fatalf("StopTyping: %v", err)
	}
	if got := bs.countType(event.TypeTypingStopped); got != 1 {
		t.Fatalf("explicit stop must still broadcast, got %d", got)
	}
}

func TestTyping_StoppedOnDisconnect(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(time.Minute)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)
	o.allow(bob, conv)

	a, _ := register(t, h, alice)
	b, bs := register(t, h, bob)
	subscribe(t, h, a, conv)
	subscribe(t, h, b, conv)

	if err := h.StartTyping(context.Background(), a, conv); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	h.Unregister(context.Background(), a)
	if got := bs.countType(event.TypeTypingStopped); got != 1 {
		t.Fatalf("disconnect must emit typing.stopped, got %d", got)
	}
}

func TestSlowConsumer_Dropped(t *testing.T) {
	t.Parallel()
	h, o := newTestHub(0)
	conv := uuid.Must(uuid.NewV4())
	alice := uuid.Must(uuid.NewV4())
	o.allow(alice, conv)

	s := &fakeSender{full: true}
	c, err := h.Register(context.Background(), alice, s)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	subscribe(t, h, c, conv)

	h.Broadcast(conv, event.Outbound{Type: event.TypeMessageCreated})
	waitFor(t, func() bool { return !h.Online(alice) })
}

func TestShutdown_ClosesAll(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(0)
	_, s1 := register(t, h, uuid.Must(uuid.NewV4()))
	_, s2 := register(t, h, uuid.Must(uuid.NewV4()))

	h.Shutdown()
	for i, s := range []*fakeSender{s1, s2} {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			t.Fatalf("sender %d not closed on shutdown", i)
		}
	}

	// registry rejects newcomers while draining
	if _, err := h.Register(context.Background(), uuid.Must(uuid.NewV4()), &fakeSender{}); err == nil {
		t.Fatalf("want error registering into a draining hub")
	}
}
