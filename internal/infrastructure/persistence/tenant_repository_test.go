package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/infrastructure/persistence/models"
)

func setupTenantTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.TenantModel{}))
	return db
}

func TestGormTenantRepository_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips the billing config", func(t *testing.T) {
		repo := NewGormTenantRepository(setupTenantTestDB(t))

		tenant, err := identity.NewTenant("acme", "Acme Hair & Spa")
		require.NoError(t, err)
		require.NoError(t, tenant.ActivateSMSPackage(200))
		require.NoError(t, repo.Save(ctx, tenant))

		stored, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "ACME", stored.Code)
		assert.Equal(t, identity.TenantStatusActive, stored.Status)
		assert.Equal(t, int64(500), stored.Billing.EmailLimit)
		assert.True(t, stored.Billing.EmailOverageRate.Equal(decimalFromString(t, "0.10")))
		assert.True(t, stored.Billing.TaxRate.Equal(decimalFromString(t, "25")))
		assert.True(t, stored.Billing.SMSPackageActive)
		require.NotNil(t, stored.Billing.SMSPackageSize)
		assert.Equal(t, int64(200), *stored.Billing.SMSPackageSize)
	})

	t.Run("save again updates in place", func(t *testing.T) {
		repo := NewGormTenantRepository(setupTenantTestDB(t))

		tenant, err := identity.NewTenant("acme", "Acme")
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, tenant))

		tenant.SetStripeCustomerID("cus_123")
		require.NoError(t, repo.Save(ctx, tenant))

		stored, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_123", stored.StripeCustomerID)
	})

	t.Run("duplicate code is a conflict", func(t *testing.T) {
		repo := NewGormTenantRepository(setupTenantTestDB(t))

		first, err := identity.NewTenant("acme", "Acme One")
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, first))

		second, err := identity.NewTenant("acme", "Acme Two")
		require.NoError(t, err)

		assert.True(t, shared.IsConflict(repo.Save(ctx, second)))
	})
}

func TestGormTenantRepository_FindByCode(t *testing.T) {
	ctx := context.Background()
	repo := NewGormTenantRepository(setupTenantTestDB(t))

	tenant, err := identity.NewTenant("acme", "Acme")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, tenant))

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		stored, err := repo.FindByCode(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, stored.ID)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := repo.FindByCode(ctx, "nope")
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestGormTenantRepository_FindByStripeCustomerID(t *testing.T) {
	ctx := context.Background()
	repo := NewGormTenantRepository(setupTenantTestDB(t))

	tenant, err := identity.NewTenant("acme", "Acme")
	require.NoError(t, err)
	tenant.SetStripeCustomerID("cus_xyz")
	require.NoError(t, repo.Save(ctx, tenant))

	t.Run("found", func(t *testing.T) {
		stored, err := repo.FindByStripeCustomerID(ctx, "cus_xyz")
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, stored.ID)
	})

	t.Run("unknown customer", func(t *testing.T) {
		_, err := repo.FindByStripeCustomerID(ctx, "cus_never")
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("empty customer id never matches unlinked tenants", func(t *testing.T) {
		unlinked, err := identity.NewTenant("other", "Other")
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, unlinked))

		_, err = repo.FindByStripeCustomerID(ctx, "")
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestGormTenantRepository_ListActive(t *testing.T) {
	ctx := context.Background()
	repo := NewGormTenantRepository(setupTenantTestDB(t))

	active, err := identity.NewTenant("alpha", "Alpha")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, active))

	suspended, err := identity.NewTenant("beta", "Beta")
	require.NoError(t, err)
	suspended.Status = identity.TenantStatusSuspended
	require.NoError(t, repo.Save(ctx, suspended))

	tenants, err := repo.ListActive(ctx)

	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, active.ID, tenants[0].ID)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.True(t, shared.IsNotFound(err))
}
