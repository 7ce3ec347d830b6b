// internal/ha/role.go
package ha

import "sync/atomic"

// Role is the part a server currently plays in the primary/backup pair
type Role int32

const (
	RoleStandby Role = iota
	RolePrimary
)

func (r Role) String() string {
	switch r {
	case RoleStandby:
		return "standby"
	case RolePrimary:
		return "primary"
	default:
		return "unknown"
	}
}

// RoleState holds a Role that many goroutines read and one state machine writes
type RoleState struct {
	v atomic.Int32
}

// NewRoleState creates a RoleState starting at initial
func NewRoleState(initial Role) *RoleState {
	s := &RoleState{}
	s.v.Store(int32(initial))
	return s
}

// Load returns the current role
func (s *RoleState) Load() Role {
	return Role(s.v.Load())
}

// IsPrimary reports whether the server accepts allocations
func (s *RoleState) IsPrimary() bool {
	return s.Load() == RolePrimary
}

func (s *RoleState) store(r Role) {
	s.v.Store(int32(r))
}
