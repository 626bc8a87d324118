package payments

import (
	"context"
	"testing"

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
	user := &models.User{Email: "payer@example.com", PasswordHash: "x", Role: "user", Locale: "en"}
	require.NoError(t, acc.Do(context.Background(), func(db *gorm.DB) error {
		return db.Create(user).Error
	}))
	return NewService(acc, zerolog.Nop()), user
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{models.PaymentPending, models.PaymentPaid, true},
		{models.PaymentPending, models.PaymentFailed, true},
		{models.PaymentPaid, models.PaymentRefunded, true},
		{models.PaymentPending, models.PaymentRefunded, false},
		{models.PaymentPaid, models.PaymentPending, false},
		{models.PaymentFailed, models.PaymentPaid, false},
		{models.PaymentRefunded, models.PaymentPaid, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCreate(t *testing.T) {
	svc, user := setup(t)
	ctx := context.Background()

	payment, err := svc.Create(ctx, CreateParams{UserID: user.ID, Amount: 150000, Currency: "irr", Provider: "zarinpal"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, "IRR", payment.Currency)
	assert.NotEmpty(t, payment.Reference)

	_, err = svc.Create(ctx, CreateParams{UserID: user.ID, Amount: 10, Currency: "USD", Reference: payment.Reference})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.Create(ctx, CreateParams{UserID: "nobody", Amount: 10, Currency: "USD"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.Create(ctx, CreateParams{UserID: user.ID, Amount: 0, Currency: "USD"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Create(ctx, CreateParams{UserID: user.ID, Amount: 5, Currency: "dollars"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUpdateStatus(t *testing.T) {
	svc, user := setup(t)
	ctx := context.Background()

	payment, err := svc.Create(ctx, CreateParams{UserID: user.ID, Amount: 2500, Currency: "EUR"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, payment.ID, models.PaymentRefunded)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "pending cannot be refunded")

	paid, err := svc.UpdateStatus(ctx, payment.ID, models.PaymentPaid)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	refunded, err := svc.UpdateStatus(ctx, payment.ID, models.PaymentRefunded)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, refunded.Status)

	_, err = svc.UpdateStatus(ctx, payment.ID, "settled")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.UpdateStatus(ctx, "missing", models.PaymentPaid)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	stored, err := svc.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, stored.Status)

	mine, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	others, err := svc.List(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, others)
}
