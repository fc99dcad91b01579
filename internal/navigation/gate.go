// Package navigation decides whether a principal may enter a role-protected route.
package navigation

import (
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/session"
)

// Requirement names the audience of a route.
type Requirement string

const (
	// RequireAny marks a public route.
	RequireAny Requirement = "any"
	// RequireUser admits any signed-in shopper.
	RequireUser Requirement = "user"
	// RequireAdmin admits administrators only.
	RequireAdmin Requirement = "admin"
	// RequireDelivery admits delivery staff only.
	RequireDelivery Requirement = "delivery"
)

// Kind is the outcome of a gate check.
type Kind int

const (
	Allow Kind = iota
	RedirectLogin
	RedirectHome
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Decision is the result of Gate. Location is empty for Allow.
type Decision struct {
	Kind     Kind
	Location string
}

const (
	HomePath          = "/"
	LoginPath         = "/login"
	AdminLoginPath    = "/admin-login"
	DeliveryLoginPath = "/delivery-login"
)

// Gate evaluates required against the signed-in user (nil when anonymous).
func Gate(user *session.User, required Requirement) Decision {
	if required == RequireAny {
		return Decision{Kind: Allow}
	}
	if user == nil || user.UID == "" {
		return Decision{Kind: RedirectLogin, Location: loginPath(required)}
	}
	if roleSatisfies(user.Role, required) {
		return Decision{Kind: Allow}
	}
	if required == RequireDelivery {
		return Decision{Kind: RedirectLogin, Location: DeliveryLoginPath}
	}
	return Decision{Kind: RedirectHome, Location: HomePath}
}

func loginPath(required Requirement) string {
	switch required {
	case RequireAdmin:
		return AdminLoginPath
	case RequireDelivery:
		return DeliveryLoginPath
	default:
		return LoginPath
	}
}

func roleSatisfies(role domain.Role, required Requirement) bool {
	switch required {
	case RequireAny, RequireUser:
		return true
	case RequireAdmin:
		return role == domain.RoleAdmin
	case RequireDelivery:
		return role == domain.RoleDelivery
	default:
		return false
	}
}
