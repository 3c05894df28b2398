package access

import "time"

// Grant is the body returned by the permissions endpoint of the core API.
type Grant struct {
	Permissions []string  `json:"permissions" validate:"dive,required"`
	Modules     []*Module `json:"modules" validate:"dive"`
}

// Identity is the authenticated user a permission store is scoped to.
type Identity struct {
	UserID int64
	Name   string
	RoleID int
	// WorkSessionID is the operator's processing-clerk id, nil when the user
	// has no live queue.
	WorkSessionID *int64
	// Token is forwarded to the core API on behalf of the user.
	Token string
}

// SameUser reports whether a and b identify the same user. Two nil
// identities are the same (no user).
func SameUser(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UserID == b.UserID
}

// Snapshot is the permission context exposed to the UI: the state of the
// last completed reload for the current user.
type Snapshot struct {
	Loading     bool
	UserID      int64
	Permissions PermissionSet
	Modules     *ModuleTree
	Generation  uint64
	LoadedAt    time.Time
}

// Can implements Checker against the snapshot.
func (s Snapshot) Can(code string) bool {
	return s.Permissions.Has(code)
}
