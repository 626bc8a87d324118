package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/auth"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/users"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *UserDetail `json:"user"`
}

// RegisterRequest represents a self-service signup
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required,max=120"`
	Phone    string `json:"phone" binding:"max=32"`
	Locale   string `json:"locale" binding:"omitempty,locale"`
}

// CheckResponse reports the caller's authentication state
type CheckResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *UserDetail `json:"user,omitempty"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	Locale    string    `json:"locale"`
	CreatedAt time.Time `json:"created_at"`
}

func userDetail(u *models.User) *UserDetail {
	return &UserDetail{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Phone:     u.Phone,
		Role:      u.Role,
		Locale:    u.Locale,
		CreatedAt: u.CreatedAt,
	}
}

func (s *Server) setAdminCookie(c *gin.Context, token string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.AdminCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// @Summary Login
// @Description Verifies credentials, sets the admin token cookie and the session cookie
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if !s.bindJSON(c, &req) {
		return
	}

	user, err := s.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	principal := users.Principal(user)

	ttl := s.tokens.TTL()
	token, err := s.tokens.Issue(principal, ttl)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.sessions.Create(c.Request.Context(), c.Writer, principal); err != nil {
		s.respondError(c, err)
		return
	}
	s.setAdminCookie(c, token, int(ttl.Seconds()))

	s.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("User logged in")

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(ttl).UTC(),
		User:      userDetail(user),
	})
}

// @Summary Logout
// @Description Clears the admin token cookie and destroys the session
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	s.setAdminCookie(c, "", -1)
	if err := s.sessions.Destroy(c.Writer, c.Request); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to destroy session")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// @Summary Check authentication
// @Tags auth
// @Produce json
// @Success 200 {object} CheckResponse
// @Router /api/auth/check [get]
func (s *Server) checkAuth(c *gin.Context) {
	p := GetPrincipal(c)
	if p == nil {
		c.JSON(http.StatusOK, CheckResponse{Authenticated: false})
		return
	}

	user, err := s.users.Get(c.Request.Context(), p.ID)
	if apperr.Is(err, apperr.KindNotFound) {
		c.JSON(http.StatusOK, CheckResponse{Authenticated: false})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CheckResponse{Authenticated: true, User: userDetail(user)})
}

// @Summary Register
// @Description Creates a regular user account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Register request"
// @Success 201 {object} UserDetail
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/auth/register [post]
func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if !s.bindJSON(c, &req) {
		return
	}

	user, err := s.users.Create(c.Request.Context(), users.CreateParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Locale:   req.Locale,
		Role:     auth.RoleUser,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userDetail(user))
}
