package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// AdminCookieName carries the bearer token for the admin flow
	AdminCookieName = "admin_token"

	bearerPrefix = "Bearer "
)

var (
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
)

// IdentityProvider produces a principal from one credential source.
// (nil, nil) means the request presented no credential for this source.
type IdentityProvider interface {
	Name() string
	Identify(r *http.Request) (*Principal, error)
}

// SessionProvider reads the framework session cookie
type SessionProvider struct {
	Sessions *Sessions
}

func (p SessionProvider) Name() string { return "session" }

func (p SessionProvider) Identify(r *http.Request) (*Principal, error) {
	return p.Sessions.Principal(r)
}

// TokenProvider reads the admin cookie, then the Authorization header.
// A stale cookie does not shadow a valid bearer token.
type TokenProvider struct {
	Tokens *TokenService
}

func (p TokenProvider) Name() string { return "token" }

func (p TokenProvider) Identify(r *http.Request) (*Principal, error) {
	var cookieErr error
	if cookie, err := r.Cookie(AdminCookieName); err == nil && cookie.Value != "" {
		principal, err := p.Tokens.Verify(cookie.Value)
		if err == nil {
			return &principal, nil
		}
		cookieErr = err
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, cookieErr
	}
	token, err := ExtractBearerToken(header)
	if err != nil {
		if cookieErr != nil {
			return nil, cookieErr
		}
		return nil, err
	}

	principal, err := p.Tokens.Verify(token)
	if err != nil {
		if cookieErr != nil {
			return nil, cookieErr
		}
		return nil, err
	}
	return &principal, nil
}

// ExtractBearerToken parses an "Authorization: Bearer <token>" header value
func ExtractBearerToken(authHeader string) (string, error) {
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// Resolver tries identity providers in order and stops at the first success
type Resolver struct {
	providers []IdentityProvider
	logger    zerolog.Logger
}

// NewResolver creates a resolver. Provider order is precedence order.
func NewResolver(logger zerolog.Logger, providers ...IdentityProvider) *Resolver {
	return &Resolver{
		providers: providers,
		logger:    logger.With().Str("component", "identity_resolver").Logger(),
	}
}

// Resolve returns the request principal or nil. It never fails: a provider
// error only means that provider contributes nothing.
func (r *Resolver) Resolve(req *http.Request) *Principal {
	for _, provider := range r.providers {
		principal, err := r.identify(provider, req)
		if err != nil {
			r.logger.Debug().Err(err).Str("provider", provider.Name()).Msg("Identity provider rejected request")
			continue
		}
		if principal != nil {
			return principal
		}
	}
	return nil
}

func (r *Resolver) identify(provider IdentityProvider, req *http.Request) (p *Principal, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("provider", provider.Name()).Msg("Identity provider panicked")
			p, err = nil, errors.New("identity provider panicked")
		}
	}()
	return provider.Identify(req)
}
