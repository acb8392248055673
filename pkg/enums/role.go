package enums

import "fmt"

// ActorRole identifies who is calling the read and operator APIs.
type ActorRole string

const (
	ActorRoleSeller   ActorRole = "seller"
	ActorRoleOperator ActorRole = "operator"
)

var validActorRoles = []ActorRole{ActorRoleSeller, ActorRoleOperator}

// IsValid reports whether the role is recognized.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
