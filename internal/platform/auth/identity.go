package auth

import (
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the principal extracted from a verified Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Name  string
	// Role is the custom claim value when present. The stored profile remains the
	// authority for routing decisions.
	Role string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries the requested role claim.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && i.Role == role
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
