package payments

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/store"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// transitions lists the statuses each status may move to
var transitions = map[string][]string{
	models.PaymentPending: {models.PaymentPaid, models.PaymentFailed},
	models.PaymentPaid:    {models.PaymentRefunded},
}

// CanTransition reports whether a payment may move from one status to another
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether status is a known payment status
func ValidStatus(status string) bool {
	switch status {
	case models.PaymentPending, models.PaymentPaid, models.PaymentFailed, models.PaymentRefunded:
		return true
	}
	return false
}

type Service struct {
	acc    *store.Accessor
	logger zerolog.Logger
	now    func() time.Time
}

type CreateParams struct {
	UserID      string
	Amount      int64
	Currency    string
	Provider    string
	Reference   string
	Description string
}

func NewService(acc *store.Accessor, logger zerolog.Logger) *Service {
	return &Service{
		acc:    acc,
		logger: logger.With().Str("component", "payments_service").Logger(),
		now:    time.Now,
	}
}

// Create records a pending payment. An empty reference gets a generated one.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Payment, error) {
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if params.UserID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if params.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	if !currencyPattern.MatchString(currency) {
		return nil, apperr.Validation("currency must be a three letter ISO code")
	}
	reference := strings.TrimSpace(params.Reference)
	if reference == "" {
		reference = "pay_" + strings.ToLower(ulid.Make().String())
	}

	payment := &models.Payment{
		UserID:      params.UserID,
		Amount:      params.Amount,
		Currency:    currency,
		Status:      models.PaymentPending,
		Provider:    strings.TrimSpace(params.Provider),
		Reference:   reference,
		Description: params.Description,
	}
	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		var user models.User
		if err := models.FindByID(tx, params.UserID, &user); err != nil {
			return err
		}
		payment.ID = ""
		return tx.Create(payment).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if store.IsUniqueViolation(err) {
		return nil, apperr.Conflict("payment reference %q already exists", reference).Wrap(err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("payment_id", payment.ID).
		Str("user_id", payment.UserID).
		Int64("amount", payment.Amount).
		Str("currency", payment.Currency).
		Msg("Payment recorded")
	return payment, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := store.Execute(ctx, s.acc, func(db *gorm.DB) (*models.Payment, error) {
		var p models.Payment
		if err := models.FindByID(db, id, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("payment not found")
	}
	return payment, err
}

// List returns payments for userID, or every payment when userID is empty
func (s *Service) List(ctx context.Context, userID string) ([]models.Payment, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) ([]models.Payment, error) {
		query := db.Order("created_at DESC")
		if userID != "" {
			query = query.Where("user_id = ?", userID)
		}
		var payments []models.Payment
		err := query.Find(&payments).Error
		return payments, err
	})
}

// UpdateStatus moves a payment along its state machine. The write is
// conditional on the status read, so racing updates cannot skip a step.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*models.Payment, error) {
	if !ValidStatus(status) {
		return nil, apperr.Validation("unknown payment status %q", status)
	}

	var payment models.Payment
	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		if err := models.FindByID(tx, id, &payment); err != nil {
			return err
		}
		if !CanTransition(payment.Status, status) {
			return apperr.Conflict("payment cannot move from %s to %s", payment.Status, status)
		}

		updates := map[string]interface{}{"status": status}
		if status == models.PaymentPaid {
			paidAt := s.now().UTC()
			updates["paid_at"] = paidAt
			payment.PaidAt = &paidAt
		}
		result := tx.Model(&models.Payment{}).Where("id = ? AND status = ?", id, payment.Status).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("payment status changed concurrently")
		}
		payment.Status = status
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("payment not found")
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", id).Str("status", status).Msg("Payment status updated")
	return &payment, nil
}
