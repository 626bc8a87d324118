package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookieName is the framework session cookie
	SessionCookieName = "sitebook_session"

	// DefaultSessionLifetime is the absolute lifetime of a framework session
	DefaultSessionLifetime = 30 * 24 * time.Hour

	sessionKeyUserID = "auth_user_id"
	sessionKeyEmail  = "auth_email"
	sessionKeyRole   = "auth_role"
)

// SessionConfig configures the framework session manager
type SessionConfig struct {
	Secret   string
	Lifetime time.Duration
	Secure   bool
	Store    scs.Store
}

// Sessions wraps an scs session manager whose stored payload is a JWT
// signed with the session secret, independent of the bearer token secret.
type Sessions struct {
	manager *scs.SessionManager
}

// NewSessions creates the framework session manager
func NewSessions(cfg SessionConfig) (*Sessions, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session secret is not configured")
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultSessionLifetime
	}

	manager := scs.New()
	manager.Lifetime = cfg.Lifetime
	manager.Store = cfg.Store
	manager.Codec = sessionCodec{secret: []byte(cfg.Secret)}
	manager.Cookie.Name = SessionCookieName
	manager.Cookie.HttpOnly = true
	manager.Cookie.Path = "/"
	manager.Cookie.Persist = true
	manager.Cookie.SameSite = http.SameSiteLaxMode
	manager.Cookie.Secure = cfg.Secure

	return &Sessions{manager: manager}, nil
}

// Manager exposes the underlying scs manager
func (s *Sessions) Manager() *scs.SessionManager {
	return s.manager
}

// Create starts a fresh session for p, persists it and writes the cookie
func (s *Sessions) Create(ctx context.Context, w http.ResponseWriter, p Principal) error {
	ctx, err := s.manager.Load(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to initialise session: %w", err)
	}

	s.manager.Put(ctx, sessionKeyUserID, p.ID)
	s.manager.Put(ctx, sessionKeyEmail, p.Email)
	s.manager.Put(ctx, sessionKeyRole, string(p.Role))

	token, expiry, err := s.manager.Commit(ctx)
	if err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	s.manager.WriteSessionCookie(ctx, w, token, expiry)
	return nil
}

// Principal loads the session referenced by the request cookie.
// Returns (nil, nil) when no session cookie is present or the session is unknown.
func (s *Sessions) Principal(r *http.Request) (*Principal, error) {
	cookie, err := r.Cookie(s.manager.Cookie.Name)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	ctx, err := s.manager.Load(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	userID := s.manager.GetString(ctx, sessionKeyUserID)
	if userID == "" {
		return nil, nil
	}

	role := Role(s.manager.GetString(ctx, sessionKeyRole))
	if !role.Valid() {
		return nil, fmt.Errorf("session carries unknown role %q", role)
	}

	return &Principal{
		ID:     userID,
		Email:  s.manager.GetString(ctx, sessionKeyEmail),
		Role:   role,
		Method: "session",
	}, nil
}

// Destroy removes the request's session from the store and expires the cookie
func (s *Sessions) Destroy(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if cookie, err := r.Cookie(s.manager.Cookie.Name); err == nil && cookie.Value != "" {
		loaded, err := s.manager.Load(ctx, cookie.Value)
		if err == nil {
			if err := s.manager.Destroy(loaded); err != nil {
				return fmt.Errorf("failed to destroy session: %w", err)
			}
			ctx = loaded
		}
	}
	s.manager.WriteSessionCookie(ctx, w, "", time.Time{})
	return nil
}

// sessionClaims is the signed envelope written to the session store
type sessionClaims struct {
	Values map[string]interface{} `json:"vals"`
	jwt.RegisteredClaims
}

// sessionCodec implements scs.Codec with HS256-signed JWTs
type sessionCodec struct {
	secret []byte
}

func (c sessionCodec) Encode(deadline time.Time, values map[string]interface{}) ([]byte, error) {
	claims := sessionClaims{
		Values: values,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(deadline),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, err
	}
	return []byte(signed), nil
}

func (c sessionCodec) Decode(b []byte) (time.Time, map[string]interface{}, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(string(b), claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithStrictDecoding())
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid session payload: %w", err)
	}
	if claims.Values == nil {
		claims.Values = make(map[string]interface{})
	}
	return claims.ExpiresAt.Time, claims.Values, nil
}
