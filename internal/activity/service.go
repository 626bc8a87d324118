// Package activity stores the per-user history shown on the dashboard:
// assistant conversations and metered feature usage.
package activity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/store"
)

var messageRoles = map[string]bool{"user": true, "assistant": true, "system": true}

var errConversationNotFound = apperr.NotFound("conversation not found")

type Service struct {
	acc    *store.Accessor
	logger zerolog.Logger
	now    func() time.Time
}

type UsageParams struct {
	UserID     string
	Feature    string
	Quantity   int64
	Unit       string
	RecordedAt time.Time
}

// UsageFilter bounds a usage query; zero times are open ends
type UsageFilter struct {
	UserID string
	From   time.Time
	To     time.Time
}

// UsageTotal is the summed quantity of one feature
type UsageTotal struct {
	Feature string `json:"feature"`
	Unit    string `json:"unit"`
	Total   int64  `json:"total"`
	Count   int64  `json:"count"`
}

func NewService(acc *store.Accessor, logger zerolog.Logger) *Service {
	return &Service{
		acc:    acc,
		logger: logger.With().Str("component", "activity_service").Logger(),
		now:    time.Now,
	}
}

func (s *Service) normalizeMessage(m models.Message) (models.Message, error) {
	m.Role = strings.ToLower(strings.TrimSpace(m.Role))
	if !messageRoles[m.Role] {
		return m, apperr.Validation("unknown message role %q", m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return m, apperr.Validation("message content is required")
	}
	if m.At.IsZero() {
		m.At = s.now().UTC()
	}
	return m, nil
}

// CreateConversation starts a conversation for userID
func (s *Service) CreateConversation(ctx context.Context, userID, title string, messages []models.Message) (*models.Conversation, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	normalized := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		nm, err := s.normalizeMessage(m)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, nm)
	}

	conv := &models.Conversation{
		UserID:   userID,
		Title:    strings.TrimSpace(title),
		Messages: normalized,
	}
	err := s.acc.Do(ctx, func(db *gorm.DB) error {
		conv.ID = ""
		return db.Create(conv).Error
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := store.Execute(ctx, s.acc, func(db *gorm.DB) (*models.Conversation, error) {
		var c models.Conversation
		if err := models.FindByID(db, id, &c); err != nil {
			return nil, err
		}
		return &c, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errConversationNotFound
	}
	return conv, err
}

// ListConversations returns conversations for userID, or all when userID is empty
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) ([]models.Conversation, error) {
		query := db.Order("updated_at DESC")
		if userID != "" {
			query = query.Where("user_id = ?", userID)
		}
		var convs []models.Conversation
		err := query.Find(&convs).Error
		return convs, err
	})
}

// AppendMessage adds one message to the end of a conversation
func (s *Service) AppendMessage(ctx context.Context, id string, msg models.Message) (*models.Conversation, error) {
	msg, err := s.normalizeMessage(msg)
	if err != nil {
		return nil, err
	}

	var conv models.Conversation
	err = s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		if err := models.FindByID(tx, id, &conv); err != nil {
			return err
		}
		conv.Messages = append(conv.Messages, msg)
		return tx.Model(&conv).Select("messages", "updated_at").Updates(&conv).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	err := s.acc.Do(ctx, func(db *gorm.DB) error {
		result := db.Where("id = ?", id).Delete(&models.Conversation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errConversationNotFound
	}
	return err
}

// RecordUsage meters one use of a feature
func (s *Service) RecordUsage(ctx context.Context, params UsageParams) (*models.UsageRecord, error) {
	feature := strings.TrimSpace(params.Feature)
	unit := strings.TrimSpace(params.Unit)
	switch {
	case params.UserID == "":
		return nil, apperr.Validation("user_id is required")
	case feature == "":
		return nil, apperr.Validation("feature is required")
	case params.Quantity <= 0:
		return nil, apperr.Validation("quantity must be positive")
	}
	if unit == "" {
		unit = "count"
	}
	recordedAt := params.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	record := &models.UsageRecord{
		UserID:     params.UserID,
		Feature:    feature,
		Quantity:   params.Quantity,
		Unit:       unit,
		RecordedAt: recordedAt.UTC(),
	}
	err := s.acc.Transaction(ctx, func(tx *gorm.DB) error {
		var user models.User
		if err := models.FindByID(tx, params.UserID, &user); err != nil {
			return err
		}
		record.ID = ""
		return tx.Create(record).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func applyUsageFilter(db *gorm.DB, filter UsageFilter) *gorm.DB {
	if filter.UserID != "" {
		db = db.Where("user_id = ?", filter.UserID)
	}
	if !filter.From.IsZero() {
		db = db.Where("recorded_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		db = db.Where("recorded_at < ?", filter.To.UTC())
	}
	return db
}

func (s *Service) ListUsage(ctx context.Context, filter UsageFilter) ([]models.UsageRecord, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) ([]models.UsageRecord, error) {
		var records []models.UsageRecord
		err := applyUsageFilter(db, filter).Order("recorded_at DESC").Find(&records).Error
		return records, err
	})
}

// Summary totals usage per feature and unit
func (s *Service) Summary(ctx context.Context, filter UsageFilter) ([]UsageTotal, error) {
	return store.Execute(ctx, s.acc, func(db *gorm.DB) ([]UsageTotal, error) {
		var totals []UsageTotal
		err := applyUsageFilter(db.Model(&models.UsageRecord{}), filter).
			Select("feature, unit, SUM(quantity) AS total, COUNT(*) AS count").
			Group("feature, unit").
			Order("feature ASC").
			Scan(&totals).Error
		return totals, err
	})
}
