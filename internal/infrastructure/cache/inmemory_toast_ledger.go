package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bordereau/console/internal/domain/bpc"
)

// ledgerEntry is the last toasted entity of one scope
type ledgerEntry struct {
	entityID  int64
	expiresAt time.Time
}

// InMemoryToastLedger implements bpc.ToastLedger using an in-memory map
// This is suitable for single-instance deployments and testing
type InMemoryToastLedger struct {
	mu        sync.Mutex
	entries   map[string]ledgerEntry
	ttl       time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryToastLedger creates a new in-memory toast ledger. A zero ttl
// uses the default ledger configuration.
func NewInMemoryToastLedger(ttl time.Duration) *InMemoryToastLedger {
	if ttl <= 0 {
		ttl = bpc.DefaultLedgerConfig().TTL
	}
	ledger := &InMemoryToastLedger{
		entries:  make(map[string]ledgerEntry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	ledger.wg.Add(1)
	go ledger.cleanupLoop()

	return ledger
}

// Due reports whether entityID differs from the last recorded entity
func (l *InMemoryToastLedger) Due(ctx context.Context, scope string, entityID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, exists := l.entries[scope]
	if exists && time.Now().Before(prev.expiresAt) && prev.entityID == entityID {
		return false, nil
	}
	return true, nil
}

// Record stores entityID as the last toasted entity of scope
func (l *InMemoryToastLedger) Record(ctx context.Context, scope string, entityID int64) error {
	l.mu.Lock()
	l.entries[scope] = ledgerEntry{entityID: entityID, expiresAt: time.Now().Add(l.ttl)}
	l.mu.Unlock()
	return nil
}

// Forget drops the scope's entry
func (l *InMemoryToastLedger) Forget(ctx context.Context, scope string) error {
	l.mu.Lock()
	delete(l.entries, scope)
	l.mu.Unlock()
	return nil
}

// Close stops the cleanup goroutine
// Safe to call multiple times
func (l *InMemoryToastLedger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

func (l *InMemoryToastLedger) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *InMemoryToastLedger) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for scope, e := range l.entries {
		if now.After(e.expiresAt) {
			delete(l.entries, scope)
		}
	}
}

// Size returns the number of scopes remembered (for testing/monitoring)
func (l *InMemoryToastLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Ensure InMemoryToastLedger implements bpc.ToastLedger
var _ bpc.ToastLedger = (*InMemoryToastLedger)(nil)
