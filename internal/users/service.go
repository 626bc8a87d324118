package users

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/auth"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/store"
)

// MinPasswordLength is enforced on registration and password changes
const MinPasswordLength = 8

// ErrInvalidCredentials is returned by Authenticate for unknown emails and wrong passwords alike
var ErrInvalidCredentials = apperr.Unauthenticated("invalid email or password")

// dummyHash is compared against when the email is unknown so both failure paths cost the same
var dummyHash = sync.OnceValue(func() string {
	hash, _ := auth.HashPassword("sitebook-placeholder-password")
	return hash
})

type Service struct {
	acc    *store.Accessor
	logger zerolog.Logger
}

type CreateParams struct {
	Email    string
	Password string
	Name     string
	Phone    string
	Locale   string
	Role     auth.Role
}

// UpdateParams changes only the non-nil fields
type UpdateParams struct {
	Name     *string
	Phone    *string
	Locale   *string
	Password *string
	Role     *auth.Role
}

func NewService(acc *store.Accessor, logger zerolog.Logger) *Service {
	return &Service{
		acc:    acc,
		logger: logger.With().Str("component", "users_service").Logger(),
	}
}

// Principal converts a stored user into the identity carried by tokens and sessions
func Principal(u *models.User) auth.Principal {
	return auth.Principal{ID: u.ID, Email: u.Email, Role: auth.Role(u.Role)}
}

// Create inserts a new account. Duplicate emails are a conflict.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.User, error) {
	email := auth.NormalizeEmail(params.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}
	if len(params.Password) < MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", MinPasswordLength)
	}
	role := params.Role
	if role == "" {
		role = auth.RoleUser
	}
	if !role.Valid() {
		return nil, apperr.Validation("unknown role %q", role)
	}
	locale := params.Locale
	if locale == "" {
		locale = models.LocaleEnglish
	}
	if !models.ValidLocale(locale) {
		return nil, apperr.Validation("unsupported locale %q", locale)
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(params.Name),
		Phone:        strings.TrimSpace(params.Phone),
		Role:         string(role),
		Locale:       locale,
	}
	err = s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Conflict("email is already registered")
		}
		user.ID = ""
		return tx.Create(user).Error
	})
	if store.IsUniqueViolation(err) {
		return nil, apperr.Conflict("email is already registered").Wrap(err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("User created")
	return user, nil
}

// Authenticate checks credentials and returns the matching user
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if apperr.Is(err, apperr.KindNotFound) {
		_ = auth.VerifyPassword(password, dummyHash())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := auth.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if auth.NeedsRehash(user.PasswordHash) {
		if hash, err := auth.HashPassword(password); err == nil {
			rehashErr := s.acc.Do(ctx, func(db *gorm.DB) error {
				return db.Model(&models.User{}).Where("id = ?", user.ID).Update("password_hash", hash).Error
			})
			if rehashErr != nil {
				s.logger.Warn().Err(rehashErr).Str("user_id", user.ID).Msg("Failed to upgrade password hash")
			} else {
				user.PasswordHash = hash
			}
		}
	}
	return user, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	return s.find(ctx, "id = ?", id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.find(ctx, "email = ?", auth.NormalizeEmail(email))
}

func (s *Service) find(ctx context.Context, query string, arg string) (*models.User, error) {
	user, err := store.Execute(ctx, s.acc, func(db *gorm.DB) (*models.User, error) {
		var u models.User
		if err := db.Where(query, arg).First(&u).Error; err != nil {
			return nil, err
		}
		return &u, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	return user, err
}

func (s *Service) List(ctx context.Context) ([]models.User, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) ([]models.User, error) {
		var users []models.User
		err := db.Order("created_at DESC").Find(&users).Error
		return users, err
	})
}

// Update applies params to the user with id
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*models.User, error) {
	updates := map[string]interface{}{}
	if params.Name != nil {
		updates["name"] = strings.TrimSpace(*params.Name)
	}
	if params.Phone != nil {
		updates["phone"] = strings.TrimSpace(*params.Phone)
	}
	if params.Locale != nil {
		if !models.ValidLocale(*params.Locale) {
			return nil, apperr.Validation("unsupported locale %q", *params.Locale)
		}
		updates["locale"] = *params.Locale
	}
	if params.Role != nil {
		if !params.Role.Valid() {
			return nil, apperr.Validation("unknown role %q", *params.Role)
		}
		updates["role"] = string(*params.Role)
	}
	if params.Password != nil {
		if len(*params.Password) < MinPasswordLength {
			return nil, apperr.Validation("password must be at least %d characters", MinPasswordLength)
		}
		hash, err := auth.HashPassword(*params.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}

	if len(updates) > 0 {
		err := s.acc.Do(ctx, func(db *gorm.DB) error {
			result := db.Model(&models.User{}).Where("id = ?", id).Updates(updates)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return nil
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		if err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// Delete removes a user and everything they own. Appointments held by the
// user's bookings become available again.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		var user models.User
		if err := models.FindByID(tx, id, &user); err != nil {
			return err
		}

		held := tx.Model(&models.Booking{}).Select("appointment_id").Where("user_id = ?", id)
		if err := tx.Model(&models.Appointment{}).Where("id IN (?)", held).Update("is_booked", false).Error; err != nil {
			return err
		}
		for _, owned := range []interface{}{&models.Booking{}, &models.Payment{}, &models.Conversation{}, &models.UsageRecord{}} {
			if err := tx.Where("user_id = ?", id).Delete(owned).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&user).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", id).Msg("User deleted")
	return nil
}

// EnsureAdmin creates an admin account, or promotes an existing one and resets its password
func (s *Service) EnsureAdmin(ctx context.Context, params CreateParams) (*models.User, bool, error) {
	params.Role = auth.RoleAdmin
	existing, err := s.GetByEmail(ctx, params.Email)
	if apperr.Is(err, apperr.KindNotFound) {
		user, err := s.Create(ctx, params)
		return user, true, err
	}
	if err != nil {
		return nil, false, err
	}

	role := auth.RoleAdmin
	update := UpdateParams{Role: &role, Password: &params.Password}
	if params.Name != "" {
		update.Name = &params.Name
	}
	user, err := s.Update(ctx, existing.ID, update)
	return user, false, err
}
