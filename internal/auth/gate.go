package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is the common parent of every gate rejection
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated means no principal could be resolved (HTTP 401)
	ErrUnauthenticated = fmt.Errorf("%w: authentication required", ErrUnauthorized)

	// ErrForbidden means the principal lacks the role or ownership (HTTP 403)
	ErrForbidden = fmt.Errorf("%w: insufficient permissions", ErrUnauthorized)
)

// RequireAuthenticated passes for any resolved principal
func RequireAuthenticated(p *Principal) error {
	if p == nil {
		return ErrUnauthenticated
	}
	return nil
}

// RequireRole passes only when p holds exactly role
func RequireRole(p *Principal, role Role) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if p.Role != role {
		return ErrForbidden
	}
	return nil
}

// RequireSelfOrRole passes when p owns the resource or holds role
func RequireSelfOrRole(p *Principal, ownerID string, role Role) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if ownerID != "" && p.ID == ownerID {
		return nil
	}
	return RequireRole(p, role)
}
