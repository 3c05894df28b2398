// Package access holds the authorization model of the console: the set of
// permission codes granted to the signed-in user and the navigable module
// tree scoped to those codes.
package access

import (
	"errors"
	"sort"
)

// ErrNoPermissionScope is raised when a permission guard is used without a
// permission store bound to it.
var ErrNoPermissionScope = errors.New("access: guard used outside of a permission store scope")

// Checker answers "can the current user do X".
type Checker interface {
	Can(permission string) bool
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(permission string) bool

// Can implements Checker.
func (f CheckerFunc) Can(permission string) bool {
	return f(permission)
}

// PermissionSet is an immutable set of opaque permission codes
// (e.g. "bordereau_detail.view"). A zero PermissionSet is empty.
type PermissionSet struct {
	codes map[string]struct{}
}

// NewPermissionSet builds a set from a list of codes. Duplicates collapse and
// empty codes are dropped; codes are otherwise kept byte for byte.
func NewPermissionSet(codes ...string) PermissionSet {
	set := PermissionSet{codes: make(map[string]struct{}, len(codes))}
	for _, code := range codes {
		if code == "" {
			continue
		}
		set.codes[code] = struct{}{}
	}
	return set
}

// Has reports whether code is a member of the set.
func (s PermissionSet) Has(code string) bool {
	if s.codes == nil {
		return false
	}
	_, ok := s.codes[code]
	return ok
}

// Can implements Checker.
func (s PermissionSet) Can(code string) bool {
	return s.Has(code)
}

// Len returns the number of codes in the set.
func (s PermissionSet) Len() int {
	return len(s.codes)
}

// IsEmpty returns true when the set holds no codes.
func (s PermissionSet) IsEmpty() bool {
	return len(s.codes) == 0
}

// Codes returns the members sorted lexically.
func (s PermissionSet) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for code := range s.codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
