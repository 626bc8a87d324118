// Package server
//
// @title Sitebook API
// @version 1.0
// @description Bilingual marketing site backend: bookings, blog and user dashboard
// @host localhost:8080
// @BasePath /
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sitebook-dev/sitebook/internal/activity"
	"github.com/sitebook-dev/sitebook/internal/appointments"
	"github.com/sitebook-dev/sitebook/internal/auth"
	"github.com/sitebook-dev/sitebook/internal/blog"
	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/payments"
	"github.com/sitebook-dev/sitebook/internal/store"
	"github.com/sitebook-dev/sitebook/internal/users"
)

// Server represents the HTTP server
type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  zerolog.Logger
	conn    *store.Conn
	acc     *store.Accessor
	version string

	tokens   *auth.TokenService
	sessions *auth.Sessions
	resolver *auth.Resolver

	users        *users.Service
	appointments *appointments.Service
	payments     *payments.Service
	activity     *activity.Service
	blog         *blog.Store
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	// Open the database lazily and run migrations through the retrying accessor
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	conn, acc, err := store.Open(ctx, cfg.Database, zlog)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialise token service: %w", err)
	}

	sessions, err := auth.NewSessions(auth.SessionConfig{
		Secret:   cfg.Auth.SessionSecret,
		Lifetime: cfg.Auth.SessionLifetime,
		Secure:   cfg.Auth.CookieSecure,
		Store:    store.NewSessionStore(acc),
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialise sessions: %w", err)
	}

	// Framework session first, then the admin cookie / bearer token
	resolver := auth.NewResolver(zlog,
		auth.SessionProvider{Sessions: sessions},
		auth.TokenProvider{Tokens: tokens},
	)

	server := &Server{
		config:       cfg,
		logger:       zlog,
		conn:         conn,
		acc:          acc,
		version:      version,
		tokens:       tokens,
		sessions:     sessions,
		resolver:     resolver,
		users:        users.NewService(acc, zlog),
		appointments: appointments.NewService(acc, zlog),
		payments:     payments.NewService(acc, zlog),
		activity:     activity.NewService(acc, zlog),
		blog:         blog.NewStore(cfg.Blog.Dir, zlog),
	}

	server.setupValidator()
	server.setupRouter()

	return server, nil
}

// setupValidator registers the custom tags on gin's validator
func (s *Server) setupValidator() {
	validate, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		validate = validator.New()
	}

	// Report JSON field names in validation errors
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	validate.RegisterValidation("alphanumdash", func(fl validator.FieldLevel) bool {
		// Allow alphanumeric, hyphens, and underscores only
		value := fl.Field().String()
		for _, char := range value {
			if !((char >= 'a' && char <= 'z') ||
				(char >= 'A' && char <= 'Z') ||
				(char >= '0' && char <= '9') ||
				char == '-' ||
				char == '_') {
				return false
			}
		}
		return true
	})
	validate.RegisterValidation("locale", func(fl validator.FieldLevel) bool {
		return models.ValidLocale(fl.Field().String())
	})
	validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return blog.ValidSlug(fl.Field().String())
	})
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	// Set Gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	// CORS middleware
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.HTTP.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.Use(s.timeoutMiddleware())
	s.router.Use(s.identityMiddleware())

	// Health check and metrics endpoints (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")

	// Public auth endpoints
	api.POST("/auth/login", s.login)
	api.POST("/auth/logout", s.logout)
	api.GET("/auth/check", s.checkAuth)
	api.POST("/auth/register", s.register)

	// Public content
	api.GET("/appointments", s.listAppointments)
	api.GET("/appointments/:id", s.getAppointment)
	api.GET("/blogs", s.listPosts)
	api.GET("/blogs/:lang/:slug", s.getPost)

	// Authenticated API routes (session or token required)
	authed := api.Group("")
	authed.Use(s.RequireAuth())
	{
		// User accounts (self or admin)
		authed.GET("/users/:id", s.getUser)
		authed.PATCH("/users/:id", s.updateUser)

		// Bookings
		authed.GET("/bookings", s.listBookings)
		authed.POST("/bookings", s.createBooking)
		authed.GET("/bookings/:id", s.getBooking)
		authed.DELETE("/bookings/:id", s.cancelBooking)

		// Payments
		authed.GET("/payments", s.listPayments)
		authed.GET("/payments/:id", s.getPayment)

		// Conversations
		authed.GET("/conversations", s.listConversations)
		authed.POST("/conversations", s.createConversation)
		authed.GET("/conversations/:id", s.getConversation)
		authed.DELETE("/conversations/:id", s.deleteConversation)
		authed.POST("/conversations/:id/messages", s.appendMessage)

		// Usage
		authed.GET("/usage", s.listUsage)
		authed.GET("/usage/summary", s.usageSummary)

		// Dashboard
		authed.GET("/dashboard", s.dashboard)
	}

	// Admin only routes
	admin := api.Group("")
	admin.Use(s.RequireRole(auth.RoleAdmin))
	{
		admin.GET("/users", s.listUsers)
		admin.DELETE("/users/:id", s.deleteUser)

		admin.POST("/appointments", s.createAppointment)
		admin.PUT("/appointments/:id", s.updateAppointment)
		admin.DELETE("/appointments/:id", s.deleteAppointment)

		admin.POST("/payments", s.createPayment)
		admin.PATCH("/payments/:id/status", s.updatePaymentStatus)

		admin.POST("/usage", s.recordUsage)

		admin.POST("/blogs", s.savePost)
		admin.DELETE("/blogs/:lang/:slug", s.deletePost)
	}
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database handle
func (s *Server) Close() error {
	return s.conn.Close()
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.config.HTTP.Addr

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Create HTTP server with production timeouts
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      s.config.HTTP.RequestTimeout + 30*time.Second,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
	}

	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")
	case err := <-errChan:
		s.logger.Error().Err(err).Msg("HTTP server error")
		_ = s.Close()
		return err
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	// Close database connection to flush WAL writes
	s.logger.Info().Msg("Closing database connection...")
	if err := s.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing database")
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
