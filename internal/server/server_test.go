package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebook-dev/sitebook/internal/auth"
	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/users"
)

const (
	testTokenSecret   = "test-token-secret"
	testSessionSecret = "test-session-secret"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Env: config.EnvDevelopment,
		HTTP: config.HTTPConfig{
			Addr:           ":0",
			CORSOrigins:    []string{"http://localhost:3000"},
			RequestTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			URL:               filepath.Join(t.TempDir(), "server.sqlite"),
			RetryMaxAttempts:  3,
			RetryInitialDelay: 10 * time.Millisecond,
			RetryMultiplier:   2,
		},
		Auth: config.AuthConfig{
			TokenSecret:     testTokenSecret,
			TokenTTL:        time.Hour,
			SessionSecret:   testSessionSecret,
			SessionLifetime: time.Hour,
		},
		Blog: config.BlogConfig{Dir: t.TempDir()},
	}

	srv, err := New(cfg, zerolog.Nop(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func seedUser(t *testing.T, srv *Server, email, password string, role auth.Role) *models.User {
	t.Helper()
	user, err := srv.users.Create(context.Background(), users.CreateParams{
		Email:    email,
		Password: password,
		Name:     "Test " + string(role),
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

// call performs one request against the router
func call(t *testing.T, srv *Server, method, path string, body interface{}, creds ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, apply := range creds {
		apply(req)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type session struct {
	token   string
	admin   *http.Cookie
	session *http.Cookie
	user    *UserDetail
}

func login(t *testing.T, srv *Server, email, password string) session {
	t.Helper()
	rec := call(t, srv, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[LoginResponse](t, rec)
	s := session{
		token:   resp.Token,
		admin:   cookieNamed(rec, auth.AdminCookieName),
		session: cookieNamed(rec, auth.SessionCookieName),
		user:    resp.User,
	}
	require.NotNil(t, s.admin)
	require.NotNil(t, s.session)
	return s
}

func TestLogin_SetsBothCookies(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "admin@example.com", "admin-password", auth.RoleAdmin)

	s := login(t, srv, "admin@example.com", "admin-password")

	assert.NotEmpty(t, s.token)
	assert.Equal(t, s.token, s.admin.Value)
	assert.True(t, s.admin.HttpOnly)
	assert.Equal(t, 3600, s.admin.MaxAge)
	assert.NotEmpty(t, s.session.Value)
	assert.NotEqual(t, s.token, s.session.Value, "session cookie is an opaque id, not the token")
	assert.Equal(t, "admin", s.user.Role)

	rec := call(t, srv, http.MethodPost, "/api/auth/login", map[string]string{"email": "admin@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, cookieNamed(rec, auth.AdminCookieName))
}

func TestAdminEndpoint_CredentialSources(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "admin@example.com", "admin-password", auth.RoleAdmin)
	seedUser(t, srv, "user@example.com", "user-password", auth.RoleUser)

	admin := login(t, srv, "admin@example.com", "admin-password")
	user := login(t, srv, "user@example.com", "user-password")

	t.Run("admin cookie only", func(t *testing.T) {
		rec := call(t, srv, http.MethodGet, "/api/users", nil, withCookie(admin.admin))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, decode[[]UserDetail](t, rec), 2)
	})

	t.Run("session cookie only", func(t *testing.T) {
		rec := call(t, srv, http.MethodGet, "/api/users", nil, withCookie(admin.session))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer header", func(t *testing.T) {
		rec := call(t, srv, http.MethodGet, "/api/users", nil, withBearer(admin.token))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no credentials", func(t *testing.T) {
		rec := call(t, srv, http.MethodGet, "/api/users", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", decode[ErrorResponse](t, rec).Error)
	})

	t.Run("wrong role", func(t *testing.T) {
		rec := call(t, srv, http.MethodGet, "/api/users", nil, withCookie(user.admin))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("expired admin cookie", func(t *testing.T) {
		past := time.Now().Add(-2 * time.Hour)
		claims := auth.TokenClaims{
			UserID: admin.user.ID,
			Email:  admin.user.Email,
			Role:   auth.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(past),
				ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
			},
		}
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testTokenSecret))
		require.NoError(t, err)

		rec := call(t, srv, http.MethodGet, "/api/users", nil, withCookie(&http.Cookie{Name: auth.AdminCookieName, Value: expired}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with the session secret", func(t *testing.T) {
		claims := auth.TokenClaims{
			UserID:           admin.user.ID,
			Role:             auth.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionSecret))
		require.NoError(t, err)

		rec := call(t, srv, http.MethodGet, "/api/users", nil, withBearer(forged))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCheckAndLogout(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "user@example.com", "user-password", auth.RoleUser)
	s := login(t, srv, "user@example.com", "user-password")

	rec := call(t, srv, http.MethodGet, "/api/auth/check", nil, withCookie(s.session))
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[CheckResponse](t, rec)
	assert.True(t, check.Authenticated)
	assert.Equal(t, "user@example.com", check.User.Email)

	rec = call(t, srv, http.MethodPost, "/api/auth/logout", nil, withCookie(s.session), withCookie(s.admin))
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := cookieNamed(rec, auth.AdminCookieName)
	require.NotNil(t, cleared)
	assert.True(t, cleared.MaxAge < 0)

	rec = call(t, srv, http.MethodGet, "/api/auth/check", nil, withCookie(s.session))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[CheckResponse](t, rec).Authenticated, "session was destroyed server side")
}

func TestRegister(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]string{"email": "new@example.com", "password": "long-password", "name": "New", "locale": "fa"}

	rec := call(t, srv, http.MethodPost, "/api/auth/register", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[UserDetail](t, rec)
	assert.Equal(t, "user", created.Role)
	assert.Equal(t, "fa", created.Locale)

	rec = call(t, srv, http.MethodPost, "/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/auth/register", map[string]string{"email": "bad", "password": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Invalid request", errBody.Error)
	assert.Contains(t, errBody.Details, "email")
}

func TestUsers_SelfOrAdmin(t *testing.T) {
	srv := newTestServer(t)
	admin := seedUser(t, srv, "admin@example.com", "admin-password", auth.RoleAdmin)
	alice := seedUser(t, srv, "alice@example.com", "alice-password", auth.RoleUser)
	bob := seedUser(t, srv, "bob@example.com", "bob-password", auth.RoleUser)

	adminSession := login(t, srv, "admin@example.com", "admin-password")
	aliceSession := login(t, srv, "alice@example.com", "alice-password")

	rec := call(t, srv, http.MethodGet, "/api/users/"+alice.ID, nil, withCookie(aliceSession.admin))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/users/"+bob.ID, nil, withCookie(aliceSession.admin))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, srv, http.MethodPatch, "/api/users/"+alice.ID, map[string]string{"role": "admin"}, withCookie(aliceSession.admin))
	assert.Equal(t, http.StatusForbidden, rec.Code, "users cannot promote themselves")

	rec = call(t, srv, http.MethodPatch, "/api/users/"+alice.ID, map[string]string{"name": "Alice"}, withCookie(aliceSession.admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", decode[UserDetail](t, rec).Name)

	rec = call(t, srv, http.MethodDelete, "/api/users/"+admin.ID, nil, withCookie(adminSession.admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "admins cannot delete themselves")

	rec = call(t, srv, http.MethodDelete, "/api/users/"+bob.ID, nil, withCookie(adminSession.admin))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/users/"+bob.ID, nil, withCookie(adminSession.admin))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppointmentLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "admin@example.com", "admin-password", auth.RoleAdmin)
	seedUser(t, srv, "alice@example.com", "alice-password", auth.RoleUser)
	seedUser(t, srv, "bob@example.com", "bob-password", auth.RoleUser)

	admin := login(t, srv, "admin@example.com", "admin-password")
	alice := login(t, srv, "alice@example.com", "alice-password")
	bob := login(t, srv, "bob@example.com", "bob-password")

	start := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	slot := map[string]interface{}{"starts_at": start, "ends_at": start.Add(time.Hour), "location": "Online"}

	rec := call(t, srv, http.MethodPost, "/api/appointments", slot, withCookie(alice.admin))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/appointments", slot, withCookie(admin.admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[models.Appointment](t, rec)

	rec = call(t, srv, http.MethodGet, "/api/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Appointment](t, rec), 1)

	rec = call(t, srv, http.MethodPost, "/api/bookings", map[string]string{"appointment_id": appt.ID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/bookings", map[string]string{"appointment_id": appt.ID, "message": "See you"}, withCookie(alice.session))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decode[models.Booking](t, rec)
	assert.Equal(t, "alice@example.com", booking.Email)

	rec = call(t, srv, http.MethodPost, "/api/bookings", map[string]string{"appointment_id": appt.ID}, withCookie(bob.session))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/appointments", nil)
	assert.Empty(t, decode[[]models.Appointment](t, rec), "booked slots are hidden from the public listing")

	rec = call(t, srv, http.MethodGet, "/api/bookings/"+booking.ID, nil, withCookie(bob.admin))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, srv, http.MethodDelete, "/api/appointments/"+appt.ID, nil, withCookie(admin.admin))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, srv, http.MethodDelete, "/api/bookings/"+booking.ID, nil, withCookie(alice.admin))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, srv, http.MethodDelete, "/api/appointments/"+appt.ID, nil, withCookie(admin.admin))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/appointments/"+appt.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentsAndDashboard(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "admin@example.com", "admin-password", auth.RoleAdmin)
	aliceUser := seedUser(t, srv, "alice@example.com", "alice-password", auth.RoleUser)
	bobUser := seedUser(t, srv, "bob@example.com", "bob-password", auth.RoleUser)

	admin := login(t, srv, "admin@example.com", "admin-password")
	alice := login(t, srv, "alice@example.com", "alice-password")

	payment := map[string]interface{}{"user_id": aliceUser.ID, "amount": 120000, "currency": "IRR"}
	rec := call(t, srv, http.MethodPost, "/api/payments", payment, withCookie(alice.admin))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/payments", payment, withCookie(admin.admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Payment](t, rec)

	rec = call(t, srv, http.MethodPatch, "/api/payments/"+created.ID+"/status", map[string]string{"status": "refunded"}, withCookie(admin.admin))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, srv, http.MethodPatch, "/api/payments/"+created.ID+"/status", map[string]string{"status": "paid"}, withCookie(admin.admin))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/payments?user_id="+bobUser.ID, nil, withCookie(alice.admin))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/usage", map[string]interface{}{"user_id": aliceUser.ID, "feature": "chat", "quantity": 4, "unit": "messages"}, withCookie(admin.admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, srv, http.MethodPost, "/api/conversations", map[string]interface{}{
		"title":    "Hello",
		"messages": []map[string]string{{"role": "user", "content": "سلام"}},
	}, withCookie(alice.session))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode[models.Conversation](t, rec)

	rec = call(t, srv, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", map[string]string{"role": "assistant", "content": "Hi"}, withCookie(alice.session))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/dashboard", nil, withCookie(alice.session))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dash := decode[DashboardResponse](t, rec)
	assert.Equal(t, aliceUser.ID, dash.User.ID)
	require.Len(t, dash.Payments, 1)
	assert.Equal(t, models.PaymentPaid, dash.Payments[0].Status)
	require.Len(t, dash.Conversations, 1)
	assert.Len(t, dash.Conversations[0].Messages, 2)
	require.Len(t, dash.Usage, 1)
	assert.Equal(t, int64(4), dash.Usage[0].Total)
}

func TestBlogOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seedUser(t, srv, "admin@example.com", "admin-password", auth.RoleAdmin)
	admin := login(t, srv, "admin@example.com", "admin-password")

	post := map[string]interface{}{"lang": "fa", "slug": "راهنما", "title": "راهنما", "body": "متن"}
	rec := call(t, srv, http.MethodPost, "/api/blogs", post)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/blogs", post, withCookie(admin.admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	draft := map[string]interface{}{"lang": "fa", "slug": "draft", "title": "Draft", "draft": true}
	rec = call(t, srv, http.MethodPost, "/api/blogs", draft, withCookie(admin.admin))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/blogs?lang=fa", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]interface{}](t, rec), 1)

	rec = call(t, srv, http.MethodGet, "/api/blogs/fa/draft", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/blogs/fa/draft", nil, withCookie(admin.admin))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/blogs", map[string]interface{}{"lang": "de", "slug": "x", "title": "x"}, withCookie(admin.admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetupValidator_RegistersTagsOnGinEngine(t *testing.T) {
	newTestServer(t)

	validate, ok := binding.Validator.Engine().(*validator.Validate)
	require.True(t, ok)

	assert.NoError(t, validate.Var("fa", "locale"))
	assert.Error(t, validate.Var("de", "locale"))
	assert.NoError(t, validate.Var("راهنما", "slug"))
	assert.Error(t, validate.Var("-x", "slug"))
	assert.NoError(t, validate.Var("ab_c-1", "alphanumdash"))
	assert.Error(t, validate.Var("a b", "alphanumdash"))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	rec := call(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "online", health.Status)
	assert.Equal(t, "ok", health.Database)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = call(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sitebook_http_requests_total")
}
