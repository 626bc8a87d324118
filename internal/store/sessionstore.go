package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sitebook-dev/sitebook/internal/models"
)

// SessionStore is an scs.CtxStore over the sessions table. Every call goes
// through the accessor so session lookups survive transient outages.
type SessionStore struct {
	acc *Accessor
	now func() time.Time
}

// NewSessionStore creates a session store backed by acc
func NewSessionStore(acc *Accessor) *SessionStore {
	return &SessionStore{acc: acc, now: time.Now}
}

// FindCtx returns the data for a session token. Expired rows are reported as missing.
func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	record, err := Execute(ctx, s.acc, func(db *gorm.DB) (*models.SessionRecord, error) {
		var rec models.SessionRecord
		err := db.Where("token = ? AND expiry > ?", token, s.now().UTC()).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &rec, nil
	})
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, nil
	}
	return record.Data, true, nil
}

// CommitCtx inserts or replaces a session
func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	rec := models.SessionRecord{Token: token, Data: b, Expiry: expiry.UTC()}
	return s.acc.Do(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "expiry"}),
		}).Create(&rec).Error
	})
}

// DeleteCtx removes a session. Deleting an unknown token is not an error.
func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	return s.acc.Do(ctx, func(db *gorm.DB) error {
		return db.Where("token = ?", token).Delete(&models.SessionRecord{}).Error
	})
}

// Find implements scs.Store
func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

// Commit implements scs.Store
func (s *SessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

// Delete implements scs.Store
func (s *SessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

// DeleteExpired removes every session whose expiry has passed and returns the count
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	return Execute(ctx, s.acc, func(db *gorm.DB) (int64, error) {
		result := db.Where("expiry <= ?", s.now().UTC()).Delete(&models.SessionRecord{})
		return result.RowsAffected, result.Error
	})
}
