package activity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/models"
	"github.com/sitebook-dev/sitebook/internal/store/storetest"
)

func setup(t *testing.T) (*Service, *models.User) {
	t.Helper()
	acc := storetest.Open(t)
	user := &models.User{Email: "chat@example.com", PasswordHash: "x", Role: "user", Locale: "fa"}
	require.NoError(t, acc.Do(context.Background(), func(db *gorm.DB) error {
		return db.Create(user).Error
	}))
	return NewService(acc, zerolog.Nop()), user
}

func TestConversations(t *testing.T) {
	svc, user := setup(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, user.ID, "Pricing", []models.Message{{Role: "user", Content: "سلام"}})
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.False(t, conv.Messages[0].At.IsZero())

	updated, err := svc.AppendMessage(ctx, conv.ID, models.Message{Role: "Assistant", Content: "Hello!"})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	assert.Equal(t, "assistant", updated.Messages[1].Role)

	loaded, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "سلام", loaded.Messages[0].Content)

	_, err = svc.AppendMessage(ctx, conv.ID, models.Message{Role: "robot", Content: "x"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	list, err := svc.ListConversations(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteConversation(ctx, conv.ID))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(svc.DeleteConversation(ctx, conv.ID)))
	_, err = svc.GetConversation(ctx, conv.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUsage(t *testing.T) {
	svc, user := setup(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []UsageParams{
		{Feature: "chat", Quantity: 3, Unit: "messages", RecordedAt: base},
		{Feature: "chat", Quantity: 2, Unit: "messages", RecordedAt: base.Add(time.Hour)},
		{Feature: "translate", Quantity: 500, Unit: "chars", RecordedAt: base.Add(48 * time.Hour)},
	} {
		p.UserID = user.ID
		_, err := svc.RecordUsage(ctx, p)
		require.NoError(t, err, "record %d", i)
	}

	totals, err := svc.Summary(ctx, UsageFilter{UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, UsageTotal{Feature: "chat", Unit: "messages", Total: 5, Count: 2}, totals[0])
	assert.Equal(t, int64(500), totals[1].Total)

	firstDay, err := svc.ListUsage(ctx, UsageFilter{UserID: user.ID, From: base, To: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, firstDay, 2)

	_, err = svc.RecordUsage(ctx, UsageParams{UserID: user.ID, Feature: "chat"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.RecordUsage(ctx, UsageParams{UserID: "ghost", Feature: "chat", Quantity: 1})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
