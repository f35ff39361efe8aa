// Package limiter contains rate limiting for protocol violations.
package limiter

import "github.com/gofrs/uuid/v5"

// Violations tracks per-connection protocol violations (publishing to a
// never-joined conversation and the like). Record reports true when the
// connection has exhausted its budget and should be closed.
type Violations interface {
	// Record notes one violation and reports whether the budget is exhausted.
	Record(connID uuid.UUID) bool
	// Forget drops state for a closed connection.
	Forget(connID uuid.UUID)
}
