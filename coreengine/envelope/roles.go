package envelope

import (
	"fmt"
	"strings"
)

// Role is one of the worker roles participating in a project.
type Role string

const (
	RolePM        Role = "pm"
	RoleArchitect Role = "architect"
	RoleDeveloper Role = "developer"
	RoleTester    Role = "tester"
)

// AllRoles returns the closed set of worker roles in pipeline order.
func AllRoles() []Role {
	return []Role{RolePM, RoleArchitect, RoleDeveloper, RoleTester}
}

// IsValid reports whether r is a known worker role.
func (r Role) IsValid() bool {
	switch r {
	case RolePM, RoleArchitect, RoleDeveloper, RoleTester:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RolePM:
		return "Product Manager"
	case RoleArchitect:
		return "Architect"
	case RoleDeveloper:
		return "Developer"
	case RoleTester:
		return "Tester"
	}
	return string(r)
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Address is a routing endpoint: a role, the human operator, or broadcast.
type Address string

const (
	// AddressHuman is the human operator.
	AddressHuman Address = "human"
	// AddressBroadcast fans out to every registered role except the sender.
	AddressBroadcast Address = "broadcast"
)

// To returns the address of a role.
func To(r Role) Address {
	return Address(r)
}

// Role returns the role behind the address and whether it is one.
func (a Address) Role() (Role, bool) {
	r := Role(a)
	return r, r.IsValid()
}

// IsHuman reports whether the address is the human operator.
func (a Address) IsHuman() bool { return a == AddressHuman }

// IsBroadcast reports whether the address is the broadcast address.
func (a Address) IsBroadcast() bool { return a == AddressBroadcast }

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the ordered set of roles taking part in a run. The first role
// receives the seed envelope.
type Registry struct {
	roles []Role
	index map[Role]int
}

// NewRegistry builds a registry from roles in pipeline order.
func NewRegistry(roles ...Role) (*Registry, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("registry requires at least one role")
	}
	reg := &Registry{
		roles: make([]Role, 0, len(roles)),
		index: make(map[Role]int, len(roles)),
	}
	for _, r := range roles {
		if !r.IsValid() {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		if _, dup := reg.index[r]; dup {
			return nil, fmt.Errorf("role %q listed twice", r)
		}
		reg.index[r] = len(reg.roles)
		reg.roles = append(reg.roles, r)
	}
	return reg, nil
}

// DefaultRegistry returns the four standard roles.
func DefaultRegistry() *Registry {
	reg, _ := NewRegistry(AllRoles()...)
	return reg
}

// Roles returns a copy of the roles in pipeline order.
func (r *Registry) Roles() []Role {
	out := make([]Role, len(r.roles))
	copy(out, r.roles)
	return out
}

// First returns the first role in the pipeline.
func (r *Registry) First() Role {
	return r.roles[0]
}

// Contains reports whether role is registered.
func (r *Registry) Contains(role Role) bool {
	_, ok := r.index[role]
	return ok
}

// Len returns the number of roles.
func (r *Registry) Len() int {
	return len(r.roles)
}
