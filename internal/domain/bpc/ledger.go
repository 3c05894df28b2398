package bpc

import (
	"context"
	"fmt"
	"time"
)

// ToastLedger remembers, per scope, the entity most recently toasted so a
// re-delivered entity does not toast twice. A scope is one subscriber as
// seen by one browser session (see ToastScope).
type ToastLedger interface {
	// Due reports whether entityID differs from the entity last recorded
	// for scope (or nothing was recorded yet), meaning a toast is due.
	Due(ctx context.Context, scope string, entityID int64) (bool, error)

	// Record remembers entityID as the last entity toasted for scope. It is
	// called once the toast reached the operator.
	Record(ctx context.Context, scope string, entityID int64) error

	// Forget drops the memory of a scope, e.g. on sign-out.
	Forget(ctx context.Context, scope string) error

	// Close releases resources held by the ledger
	Close() error
}

// ToastScope names the toast memory of one subscriber inside one browser
// session.
func ToastScope(sessionID string, subscriberID int64) string {
	return fmt.Sprintf("%s:%d", sessionID, subscriberID)
}

// LedgerConfig holds toast ledger settings.
type LedgerConfig struct {
	// TTL bounds how long a scope's last toasted id is remembered.
	// Default: 24 hours
	TTL time.Duration
}

// DefaultLedgerConfig returns the default ledger configuration
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{TTL: 24 * time.Hour}
}
