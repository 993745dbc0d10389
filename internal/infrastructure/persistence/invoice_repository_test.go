package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
	"github.com/bookwell/backend/internal/infrastructure/persistence/models"
)

func setupInvoiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.InvoiceModel{}))
	return db
}

func newStoredInvoice(t *testing.T, tenantID uuid.UUID) *invoicing.Invoice {
	t.Helper()
	invoice, err := invoicing.NewOverageInvoice(
		tenantID, metering.ResourceEmail,
		february, march,
		120,
		decimal.RequireFromString("0.10"),
		decimal.NewFromInt(25),
		valueobject.EUR,
	)
	require.NoError(t, err)
	return invoice
}

func TestGormInvoiceRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips all invoice fields", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
		tenantID := uuid.New()
		invoice := newStoredInvoice(t, tenantID)

		require.NoError(t, repo.Create(ctx, invoice))

		stored, err := repo.FindByID(ctx, invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, invoice.Number, stored.Number)
		assert.Equal(t, tenantID, stored.TenantID)
		assert.Equal(t, metering.ResourceEmail, stored.Resource)
		assert.Equal(t, int64(120), stored.UnitsOverLimit)
		assert.Equal(t, "12.00", stored.Subtotal.StringFixed(2))
		assert.Equal(t, "3.00", stored.TaxAmount.StringFixed(2))
		assert.Equal(t, "15.00", stored.Total.StringFixed(2))
		assert.Equal(t, valueobject.EUR, stored.Currency)
		assert.Equal(t, invoicing.InvoiceStatusPending, stored.Status)
		assert.True(t, stored.PeriodStart.Equal(february))
		assert.True(t, stored.PeriodEnd.Equal(march))
		assert.Nil(t, stored.PaidAt)
	})

	t.Run("duplicate period tuple hits the unique index", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
		tenantID := uuid.New()

		require.NoError(t, repo.Create(ctx, newStoredInvoice(t, tenantID)))

		err := repo.Create(ctx, newStoredInvoice(t, tenantID))

		assert.True(t, shared.IsConflict(err))
		assert.ErrorIs(t, err, invoicing.ErrInvoiceAlreadyExists)
	})

	t.Run("same period for different tenants is fine", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))

		require.NoError(t, repo.Create(ctx, newStoredInvoice(t, uuid.New())))
		require.NoError(t, repo.Create(ctx, newStoredInvoice(t, uuid.New())))
	})

	t.Run("same tenant and period for another resource is fine", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
		tenantID := uuid.New()

		require.NoError(t, repo.Create(ctx, newStoredInvoice(t, tenantID)))

		sms, err := invoicing.NewOverageInvoice(
			tenantID, metering.ResourceSMS,
			february, march,
			10, decimal.RequireFromString("0.50"), decimal.NewFromInt(25), valueobject.EUR,
		)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, sms))
	})
}

func TestGormInvoiceRepository_FindByRemoteID(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))

	invoice := newStoredInvoice(t, uuid.New())
	require.NoError(t, invoice.SetRemoteInvoiceID("in_remote_42"))
	require.NoError(t, repo.Create(ctx, invoice))

	t.Run("found", func(t *testing.T) {
		stored, err := repo.FindByRemoteID(ctx, "in_remote_42")
		require.NoError(t, err)
		assert.Equal(t, invoice.ID, stored.ID)
	})

	t.Run("unknown remote id", func(t *testing.T) {
		_, err := repo.FindByRemoteID(ctx, "in_never_seen")
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestGormInvoiceRepository_FindByPeriod(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
	tenantID := uuid.New()

	invoice := newStoredInvoice(t, tenantID)
	require.NoError(t, repo.Create(ctx, invoice))

	t.Run("found", func(t *testing.T) {
		stored, err := repo.FindByPeriod(ctx, tenantID, metering.ResourceEmail, february, march)
		require.NoError(t, err)
		assert.Equal(t, invoice.ID, stored.ID)
	})

	t.Run("different period", func(t *testing.T) {
		_, err := repo.FindByPeriod(ctx, tenantID, metering.ResourceEmail, march, march.AddDate(0, 1, 0))
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestGormInvoiceRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("persists reconciliation changes", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
		invoice := newStoredInvoice(t, uuid.New())
		require.NoError(t, repo.Create(ctx, invoice))

		require.NoError(t, invoice.SetRemoteInvoiceID("in_remote_7"))
		paidAt := time.Date(2026, 2, 5, 9, 30, 0, 0, time.UTC)
		require.NoError(t, invoice.MarkPaid(paidAt))
		require.NoError(t, repo.Update(ctx, invoice))

		stored, err := repo.FindByID(ctx, invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, invoicing.InvoiceStatusPaid, stored.Status)
		assert.Equal(t, "in_remote_7", stored.RemoteInvoiceID)
		require.NotNil(t, stored.PaidAt)
		assert.True(t, stored.PaidAt.Equal(paidAt))
	})

	t.Run("unknown invoice", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
		invoice := newStoredInvoice(t, uuid.New())

		err := repo.Update(ctx, invoice)
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestGormInvoiceRepository_ListByTenant(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
	tenantID := uuid.New()

	january := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, start := range []time.Time{january, february, march} {
		invoice, err := invoicing.NewOverageInvoice(
			tenantID, metering.ResourceEmail,
			start, start.AddDate(0, 1, 0),
			10, decimal.RequireFromString("0.10"), decimal.NewFromInt(25), valueobject.EUR,
		)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, invoice))
	}
	require.NoError(t, repo.Create(ctx, newStoredInvoice(t, uuid.New())))

	invoices, total, err := repo.ListByTenant(ctx, tenantID, shared.Filter{Page: 1, PageSize: 2})

	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, invoices, 2)
	assert.True(t, invoices[0].PeriodStart.Equal(march), "newest period first")
	assert.True(t, invoices[1].PeriodStart.Equal(february))
}
