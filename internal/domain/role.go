package domain

import "strings"

// Role is the closed set of principals the storefront routes on.
type Role string

const (
	// RoleUser is a shopper. Unknown roles collapse to it.
	RoleUser Role = "user"
	// RoleAdmin manages catalogue, orders and delivery staff.
	RoleAdmin Role = "admin"
	// RoleDelivery advances orders through the last-mile statuses.
	RoleDelivery Role = "delivery"
)

// ParseRole normalises a stored role string. Anything unrecognised is RoleUser.
func ParseRole(value string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleDelivery:
		return RoleDelivery
	default:
		return RoleUser
	}
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}
