package limiter

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/time/rate"
)

// MemViolations is an in-memory Violations limiter: each connection gets a
// token bucket of `burst` violations refilling at `perMinute` per minute.
// Violation state is connection-scoped and dies with the connection, so
// nothing is persisted.
type MemViolations struct {
	mu      sync.Mutex
	buckets map[uuid.UUID]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewMemViolations constructs the limiter with the given budget.
func NewMemViolations(perMinute, burst int) *MemViolations {
	if perMinute <= 0 {
		perMinute = 8
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &MemViolations{
		buckets: make(map[uuid.UUID]*rate.Limiter),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
	}
}

// Record consumes one token; an empty bucket means the budget is exhausted.
func (v *MemViolations) Record(connID uuid.UUID) bool {
	v.mu.Lock()
	lim, ok := v.buckets[connID]
	if !ok {
		lim = rate.NewLimiter(v.limit, v.burst)
		v.buckets[connID] = lim
	}
	v.mu.Unlock()
	return !lim.Allow()
}

// Forget removes the bucket for a closed connection.
func (v *MemViolations) Forget(connID uuid.UUID) {
	v.mu.Lock()
	delete(v.buckets, connID)
	v.mu.Unlock()
}
