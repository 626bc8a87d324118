package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sitebook-dev/sitebook/internal/auth"
	"github.com/sitebook-dev/sitebook/internal/metrics"
)

const (
	principalKey    = "principal"
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// GetPrincipal returns the principal resolved for this request, or nil
func GetPrincipal(c *gin.Context) *auth.Principal {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}

// requestIDMiddleware tags every request with an id, reusing a valid incoming one
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(duration.Seconds())

		event := s.logger.Info()
		if status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(requestIDKey)).
			Msg("HTTP request")
	}
}

// timeoutMiddleware bounds every request, and with it every retry loop the request runs
func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.HTTP.RequestTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.HTTP.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// identityMiddleware resolves the principal once per request. It never
// rejects; route groups decide what they require.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := s.resolver.Resolve(c.Request); p != nil {
			c.Set(principalKey, p)
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a principal
func (s *Server) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.RequireAuthenticated(GetPrincipal(c)); err != nil {
			s.respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole rejects requests whose principal does not hold role
func (s *Server) RequireRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.RequireRole(GetPrincipal(c), role); err != nil {
			s.respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// authorizeOwner applies the self-or-admin gate and writes the rejection
func (s *Server) authorizeOwner(c *gin.Context, ownerID string) bool {
	if err := auth.RequireSelfOrRole(GetPrincipal(c), ownerID, auth.RoleAdmin); err != nil {
		s.respondError(c, err)
		return false
	}
	return true
}

// scopeUserID picks whose records a listing covers. Users always see their
// own; admins see everyone's unless they filter with ?user_id.
func (s *Server) scopeUserID(c *gin.Context) (string, bool) {
	p := GetPrincipal(c)
	requested := c.Query("user_id")
	if p.IsAdmin() {
		return requested, true
	}
	if requested != "" && requested != p.ID {
		s.respondError(c, auth.ErrForbidden)
		return "", false
	}
	return p.ID, true
}
