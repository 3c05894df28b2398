package access

import (
	"context"

	"github.com/bordereau/console/internal/domain/access"
)

// loadingChecker is a Checker that can report an unsettled state
type loadingChecker interface {
	access.Checker
	Loading() bool
}

// Guard gates content on a single permission code. It fails closed: nothing
// is allowed while the underlying store is loading.
type Guard struct {
	checker access.Checker
}

// NewGuard binds a guard to checker. A guard without a checker is a wiring
// bug and panics with access.ErrNoPermissionScope.
func NewGuard(checker access.Checker) *Guard {
	if checker == nil {
		panic(access.ErrNoPermissionScope)
	}
	if s, ok := checker.(*Store); ok && s == nil {
		panic(access.ErrNoPermissionScope)
	}
	return &Guard{checker: checker}
}

// Allows reports whether content gated on code may be shown
func (g *Guard) Allows(code string) bool {
	if g == nil {
		panic(access.ErrNoPermissionScope)
	}
	if lc, ok := g.checker.(loadingChecker); ok && lc.Loading() {
		return false
	}
	return g.checker.Can(code)
}

// Render returns children unchanged when the guard allows code and nil
// otherwise, with no wrapper or placeholder.
func Render[T any](g *Guard, code string, children ...T) []T {
	if !g.Allows(code) {
		return nil
	}
	return children
}

type guardKey struct{}

// WithGuard binds g to the request scope
func WithGuard(ctx context.Context, g *Guard) context.Context {
	return context.WithValue(ctx, guardKey{}, g)
}

// GuardFrom returns the guard bound to ctx
func GuardFrom(ctx context.Context) (*Guard, bool) {
	g, ok := ctx.Value(guardKey{}).(*Guard)
	return g, ok && g != nil
}

// MustGuard returns the guard bound to ctx and panics when there is none
func MustGuard(ctx context.Context) *Guard {
	g, ok := GuardFrom(ctx)
	if !ok {
		panic(access.ErrNoPermissionScope)
	}
	return g
}
