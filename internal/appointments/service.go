package appointments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/metrics"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/store"
)

var (
	errAppointmentNotFound = apperr.NotFound("appointment not found")
	errBookingNotFound     = apperr.NotFound("booking not found")
	errAlreadyBooked       = apperr.Conflict("appointment is already booked")
)

// Service owns appointment slots and the bookings that claim them.
// An appointment is Available until a booking claims it and becomes
// Available again only when that booking is cancelled.
type Service struct {
	acc    *store.Accessor
	logger zerolog.Logger
	now    func() time.Time
}

type SlotParams struct {
	StartsAt time.Time
	EndsAt   time.Time
	Location string
	Notes    string
}

type ListFilter struct {
	From          *time.Time
	To            *time.Time
	AvailableOnly bool
}

type BookParams struct {
	AppointmentID string
	UserID        string
	Name          string
	Email         string
	Phone         string
	Message       string
	Locale        string
}

func NewService(acc *store.Accessor, logger zerolog.Logger) *Service {
	return &Service{
		acc:    acc,
		logger: logger.With().Str("component", "appointments_service").Logger(),
		now:    time.Now,
	}
}

func (p SlotParams) validate() error {
	if p.StartsAt.IsZero() || p.EndsAt.IsZero() {
		return apperr.Validation("starts_at and ends_at are required")
	}
	if !p.EndsAt.After(p.StartsAt) {
		return apperr.Validation("ends_at must be after starts_at")
	}
	return nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Appointment, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) ([]models.Appointment, error) {
		query := db.Order("starts_at ASC")
		if filter.From != nil {
			query = query.Where("starts_at >= ?", filter.From.UTC())
		}
		if filter.To != nil {
			query = query.Where("starts_at < ?", filter.To.UTC())
		}
		if filter.AvailableOnly {
			query = query.Where("is_booked = ?", false)
		}

		var appointments []models.Appointment
		err := query.Find(&appointments).Error
		return appointments, err
	})
}

func (s *Service) Get(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := store.Execute(ctx, s.acc, func(db *gorm.DB) (*models.Appointment, error) {
		var a models.Appointment
		if err := models.FindByID(db, id, &a); err != nil {
			return nil, err
		}
		return &a, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errAppointmentNotFound
	}
	return appt, err
}

// Create publishes a new Available slot
func (s *Service) Create(ctx context.Context, params SlotParams) (*models.Appointment, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	appt := &models.Appointment{
		StartsAt: params.StartsAt.UTC(),
		EndsAt:   params.EndsAt.UTC(),
		Location: strings.TrimSpace(params.Location),
		Notes:    params.Notes,
	}
	err := s.acc.Do(ctx, func(db *gorm.DB) error {
		appt.ID = ""
		return db.Create(appt).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", appt.ID).Time("starts_at", appt.StartsAt).Msg("Appointment created")
	return appt, nil
}

// Update edits a slot. The time of a booked slot cannot change.
func (s *Service) Update(ctx context.Context, id string, params SlotParams) (*models.Appointment, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	var appt models.Appointment
	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		if err := models.FindByID(tx, id, &appt); err != nil {
			return err
		}
		timeChanged := !appt.StartsAt.Equal(params.StartsAt) || !appt.EndsAt.Equal(params.EndsAt)
		if appt.IsBooked && timeChanged {
			return apperr.Conflict("cannot reschedule a booked appointment; cancel the booking first")
		}

		appt.StartsAt = params.StartsAt.UTC()
		appt.EndsAt = params.EndsAt.UTC()
		appt.Location = strings.TrimSpace(params.Location)
		appt.Notes = params.Notes
		return tx.Model(&appt).Select("starts_at", "ends_at", "location", "notes", "updated_at").Updates(&appt).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

// Delete removes an Available slot. Deleting a Booked slot is a conflict.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND is_booked = ?", id, false).Delete(&models.Appointment{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}
		return s.explainMiss(tx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("appointment_id", id).Msg("Appointment deleted")
	return nil
}

// explainMiss reports why a conditional write on an Available slot touched nothing
func (s *Service) explainMiss(tx *gorm.DB, id string) error {
	var appt models.Appointment
	err := models.FindByID(tx, id, &appt)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errAppointmentNotFound
	}
	if err != nil {
		return err
	}
	return errAlreadyBooked
}

// Book claims an Available appointment for a user. The claim is a single
// conditional update, so concurrent bookings of one slot have one winner.
func (s *Service) Book(ctx context.Context, params BookParams) (*models.Booking, error) {
	if params.AppointmentID == "" {
		return nil, apperr.Validation("appointment_id is required")
	}
	if params.UserID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if strings.TrimSpace(params.Name) == "" || strings.TrimSpace(params.Email) == "" {
		return nil, apperr.Validation("name and email are required")
	}
	locale := params.Locale
	if locale == "" {
		locale = models.LocaleEnglish
	}
	if !models.ValidLocale(locale) {
		return nil, apperr.Validation("unsupported locale %q", locale)
	}

	booking := &models.Booking{
		AppointmentID: params.AppointmentID,
		UserID:        params.UserID,
		Name:          strings.TrimSpace(params.Name),
		Email:         strings.TrimSpace(params.Email),
		Phone:         strings.TrimSpace(params.Phone),
		Message:       params.Message,
		Locale:        locale,
	}

	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		claim := tx.Model(&models.Appointment{}).
			Where("id = ? AND is_booked = ?", params.AppointmentID, false).
			Update("is_booked", true)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return s.explainMiss(tx, params.AppointmentID)
		}

		var appt models.Appointment
		if err := models.FindByID(tx, params.AppointmentID, &appt); err != nil {
			return err
		}
		if !appt.StartsAt.After(s.now()) {
			return apperr.Conflict("appointment has already started")
		}

		booking.ID = ""
		if err := tx.Create(booking).Error; err != nil {
			return err
		}
		booking.Appointment = &appt
		return nil
	})
	switch {
	case err == nil:
		metrics.Bookings.WithLabelValues("booked").Inc()
	case apperr.Is(err, apperr.KindConflict):
		metrics.Bookings.WithLabelValues("conflict").Inc()
		return nil, err
	case store.IsUniqueViolation(err):
		metrics.Bookings.WithLabelValues("conflict").Inc()
		return nil, errAlreadyBooked.Wrap(err)
	default:
		metrics.Bookings.WithLabelValues("failed").Inc()
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("appointment_id", booking.AppointmentID).
		Str("user_id", booking.UserID).
		Msg("Appointment booked")
	return booking, nil
}

func (s *Service) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := store.Execute(ctx, s.acc, func(db *gorm.DB) (*models.Booking, error) {
		var b models.Booking
		if err := models.FindByIDWithPreload(db, id, &b, "Appointment"); err != nil {
			return nil, err
		}
		return &b, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errBookingNotFound
	}
	return booking, err
}

// ListBookings returns bookings for userID, or every booking when userID is empty
func (s *Service) ListBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) ([]models.Booking, error) {
		query := db.Preload("Appointment").Order("created_at DESC")
		if userID != "" {
			query = query.Where("user_id = ?", userID)
		}
		var bookings []models.Booking
		err := query.Find(&bookings).Error
		return bookings, err
	})
}

// CancelBooking deletes a booking and makes its appointment Available again
func (s *Service) CancelBooking(ctx context.Context, id string) error {
	var appointmentID string
	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		var booking models.Booking
		if err := models.FindByID(tx, id, &booking); err != nil {
			return err
		}
		if err := tx.Delete(&booking).Error; err != nil {
			return err
		}
		appointmentID = booking.AppointmentID
		return tx.Model(&models.Appointment{}).Where("id = ?", booking.AppointmentID).Update("is_booked", false).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errBookingNotFound
	}
	if err != nil {
		return err
	}

	metrics.Bookings.WithLabelValues("cancelled").Inc()
	s.logger.Info().Str("booking_id", id).Str("appointment_id", appointmentID).Msg("Booking cancelled")
	return nil
}

// Prune deletes Available appointments that ended before cutoff. Booked
// appointments are kept so their bookings stay intact.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) (int64, error) {
		result := db.Where("is_booked = ? AND ends_at < ?", false, cutoff.UTC()).Delete(&models.Appointment{})
		return result.RowsAffected, result.Error
	})
}
