package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitebook-dev/sitebook/internal/appointments"
	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/models"
)

// AppointmentRequest creates or edits a slot
type AppointmentRequest struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Location string    `json:"location" binding:"max=200"`
	Notes    string    `json:"notes" binding:"max=2000"`
}

func (r AppointmentRequest) params() appointments.SlotParams {
	return appointments.SlotParams{
		StartsAt: r.StartsAt,
		EndsAt:   r.EndsAt,
		Location: r.Location,
		Notes:    r.Notes,
	}
}

// CreateBookingRequest claims an appointment for the caller
type CreateBookingRequest struct {
	AppointmentID string `json:"appointment_id" binding:"required,max=26"`
	Name          string `json:"name" binding:"max=120"`
	Email         string `json:"email" binding:"omitempty,email"`
	Phone         string `json:"phone" binding:"max=32"`
	Message       string `json:"message" binding:"max=2000"`
	Locale        string `json:"locale" binding:"omitempty,locale"`
}

// parseTimeQuery reads an optional RFC3339 query parameter
func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Validation("Invalid %s", key).WithDetails("expected an RFC3339 timestamp")
	}
	return &t, nil
}

// @Summary List appointments
// @Description Public. Non-admins only see available slots.
// @Tags appointments
// @Produce json
// @Param from query string false "RFC3339 lower bound on start time"
// @Param to query string false "RFC3339 upper bound on start time"
// @Success 200 {array} models.Appointment
// @Router /api/appointments [get]
func (s *Server) listAppointments(c *gin.Context) {
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		s.respondError(c, err)
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		s.respondError(c, err)
		return
	}

	filter := appointments.ListFilter{From: from, To: to, AvailableOnly: true}
	if GetPrincipal(c).IsAdmin() {
		filter.AvailableOnly = c.Query("available") == "true"
	}

	list, err := s.appointments.List(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get appointment
// @Tags appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} models.Appointment
// @Router /api/appointments/{id} [get]
func (s *Server) getAppointment(c *gin.Context) {
	appt, err := s.appointments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// @Summary Create appointment
// @Tags appointments
// @Accept json
// @Produce json
// @Success 201 {object} models.Appointment
// @Router /api/appointments [post]
func (s *Server) createAppointment(c *gin.Context) {
	var req AppointmentRequest
	if !s.bindJSON(c, &req) {
		return
	}

	appt, err := s.appointments.Create(c.Request.Context(), req.params())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, appt)
}

// @Summary Update appointment
// @Tags appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} models.Appointment
// @Failure 409 {object} ErrorResponse
// @Router /api/appointments/{id} [put]
func (s *Server) updateAppointment(c *gin.Context) {
	var req AppointmentRequest
	if !s.bindJSON(c, &req) {
		return
	}

	appt, err := s.appointments.Update(c.Request.Context(), c.Param("id"), req.params())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// @Summary Delete appointment
// @Description Fails with 409 while the appointment is booked
// @Tags appointments
// @Param id path string true "Appointment ID"
// @Success 204
// @Failure 409 {object} ErrorResponse
// @Router /api/appointments/{id} [delete]
func (s *Server) deleteAppointment(c *gin.Context) {
	if err := s.appointments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List bookings
// @Description Admins see all bookings (or one user's with ?user_id); users see their own
// @Tags bookings
// @Produce json
// @Success 200 {array} models.Booking
// @Router /api/bookings [get]
func (s *Server) listBookings(c *gin.Context) {
	userID, ok := s.scopeUserID(c)
	if !ok {
		return
	}

	bookings, err := s.appointments.ListBookings(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

// @Summary Book an appointment
// @Description Atomically claims an available appointment for the caller
// @Tags bookings
// @Accept json
// @Produce json
// @Success 201 {object} models.Booking
// @Failure 409 {object} ErrorResponse
// @Router /api/bookings [post]
func (s *Server) createBooking(c *gin.Context) {
	var req CreateBookingRequest
	if !s.bindJSON(c, &req) {
		return
	}
	p := GetPrincipal(c)

	// Contact details default to the account's own
	if req.Name == "" || req.Email == "" || req.Locale == "" {
		user, err := s.users.Get(c.Request.Context(), p.ID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if req.Name == "" {
			req.Name = user.Name
		}
		if req.Name == "" {
			req.Name = user.Email
		}
		if req.Email == "" {
			req.Email = user.Email
		}
		if req.Locale == "" {
			req.Locale = user.Locale
		}
	}

	booking, err := s.appointments.Book(c.Request.Context(), appointments.BookParams{
		AppointmentID: req.AppointmentID,
		UserID:        p.ID,
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		Message:       req.Message,
		Locale:        req.Locale,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// loadOwnedBooking fetches a booking and applies the self-or-admin gate
func (s *Server) loadOwnedBooking(c *gin.Context) (*models.Booking, bool) {
	booking, err := s.appointments.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	if !s.authorizeOwner(c, booking.UserID) {
		return nil, false
	}
	return booking, true
}

// @Summary Get booking
// @Tags bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.Booking
// @Router /api/bookings/{id} [get]
func (s *Server) getBooking(c *gin.Context) {
	booking, ok := s.loadOwnedBooking(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, booking)
}

// @Summary Cancel booking
// @Description Deletes the booking and makes the appointment available again
// @Tags bookings
// @Param id path string true "Booking ID"
// @Success 204
// @Router /api/bookings/{id} [delete]
func (s *Server) cancelBooking(c *gin.Context) {
	booking, ok := s.loadOwnedBooking(c)
	if !ok {
		return
	}
	if err := s.appointments.CancelBooking(c.Request.Context(), booking.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
