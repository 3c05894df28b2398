package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Namespaced is a view of a QueryCache whose keys live under a prefix. It
// remembers the keys it wrote so Close can drop them; the underlying cache
// stays open.
type Namespaced struct {
	base   QueryCache
	prefix string

	// mu is held across the base write and the key bookkeeping so a Purge
	// never runs between the two
	mu   sync.Mutex
	keys map[string]struct{}
}

// Namespace returns a view of base scoped to prefix
func Namespace(base QueryCache, prefix string) *Namespaced {
	return &Namespaced{
		base:   base,
		prefix: prefix,
		keys:   make(map[string]struct{}),
	}
}

func (n *Namespaced) key(k string) string {
	return n.prefix + k
}

// Get implements QueryCache
func (n *Namespaced) Get(ctx context.Context, key string) (*Entry, error) {
	return n.base.Get(ctx, n.key(key))
}

// Set implements QueryCache
func (n *Namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys[key] = struct{}{}
	return n.base.Set(ctx, n.key(key), value, ttl)
}

// Update implements QueryCache
func (n *Namespaced) Update(ctx context.Context, key string, fn UpdateFunc) (bool, error) {
	return n.base.Update(ctx, n.key(key), fn)
}

// Invalidate implements QueryCache
func (n *Namespaced) Invalidate(ctx context.Context, key string) error {
	return n.base.Invalidate(ctx, n.key(key))
}

// Delete implements QueryCache
func (n *Namespaced) Delete(ctx context.Context, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.keys, key)
	return n.base.Delete(ctx, n.key(key))
}

// Purge deletes every key written through the view. The view stays usable.
func (n *Namespaced) Purge(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	for k := range n.keys {
		if err := n.base.Delete(ctx, n.key(k)); err != nil {
			errs = append(errs, err)
		}
	}
	n.keys = make(map[string]struct{})
	return errors.Join(errs...)
}

// Close purges the view; the underlying cache stays open
func (n *Namespaced) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.Purge(ctx)
}

var _ QueryCache = (*Namespaced)(nil)
