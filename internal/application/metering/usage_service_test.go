package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
)

// Mock implementations

type mockTenantRepository struct {
	mock.Mock
}

func (m *mockTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) FindByCode(ctx context.Context, code string) (*identity.Tenant, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*identity.Tenant, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) Save(ctx context.Context, tenant *identity.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *mockTenantRepository) ListActive(ctx context.Context) ([]*identity.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*identity.Tenant), args.Error(1)
}

type mockStateRepository struct {
	mock.Mock
}

func (m *mockStateRepository) GetOrInit(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType, currentPeriod time.Time) (*metering.MeteringState, error) {
	args := m.Called(ctx, tenantID, resource, currentPeriod)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.MeteringState), args.Error(1)
}

func (m *mockStateRepository) Find(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType) (*metering.MeteringState, error) {
	args := m.Called(ctx, tenantID, resource)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.MeteringState), args.Error(1)
}

func (m *mockStateRepository) CompareAndSave(ctx context.Context, state *metering.MeteringState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *mockStateRepository) ResetAccrued(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType, periodStart time.Time) error {
	args := m.Called(ctx, tenantID, resource, periodStart)
	return args.Error(0)
}

type mockEventRepository struct {
	mock.Mock
}

func (m *mockEventRepository) Append(ctx context.Context, event *metering.UsageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockEventRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, filter metering.UsageEventFilter) ([]*metering.UsageEvent, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*metering.UsageEvent), args.Get(1).(int64), args.Error(2)
}

func (m *mockEventRepository) CountInPeriod(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType, from, to time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, resource, from, to)
	return args.Get(0).(int64), args.Error(1)
}

// Test fixtures

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newActiveTenant(t *testing.T) *identity.Tenant {
	t.Helper()
	tenant, err := identity.NewTenant("acme", "Acme")
	require.NoError(t, err)
	return tenant
}

func newStateFor(t *testing.T, tenant *identity.Tenant, resource metering.ResourceType, used int64) *metering.MeteringState {
	t.Helper()
	state, err := metering.NewMeteringState(tenant.ID, resource, metering.CurrentPeriodStart(testNow))
	require.NoError(t, err)
	state.UnitsUsed = used
	return state
}

func newServiceUnderTest(tenantRepo *mockTenantRepository, stateRepo *mockStateRepository, eventRepo *mockEventRepository) *UsageService {
	return NewUsageService(tenantRepo, stateRepo, eventRepo, zap.NewNop(), DefaultUsageServiceConfig()).WithClock(fixedClock)
}

func TestUsageService_RecordSend(t *testing.T) {
	ctx := context.Background()
	period := metering.CurrentPeriodStart(testNow)

	t.Run("within limit", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 10), nil)
		stateRepo.On("CompareAndSave", ctx, mock.Anything).Return(nil)
		eventRepo.On("Append", ctx, mock.Anything).Return(nil)

		result, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  tenant.ID,
			Resource:  metering.ResourceEmail,
			Recipient: "a@b.se",
		})

		require.NoError(t, err)
		assert.False(t, result.IsOverage)
		assert.Equal(t, int64(11), result.NewTotal)
		assert.Equal(t, int64(489), result.Remaining)
		assert.True(t, result.IncrementalCost.IsZero())
		eventRepo.AssertCalled(t, "Append", ctx, mock.Anything)
	})

	t.Run("overage send is billed and ledgered", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 500), nil)
		stateRepo.On("CompareAndSave", ctx, mock.Anything).Return(nil)

		var appended *metering.UsageEvent
		eventRepo.On("Append", ctx, mock.Anything).Run(func(args mock.Arguments) {
			appended = args.Get(1).(*metering.UsageEvent)
		}).Return(nil)

		result, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  tenant.ID,
			Resource:  metering.ResourceEmail,
			Kind:      metering.UsageEventReminder,
			Recipient: "a@b.se",
		})

		require.NoError(t, err)
		assert.True(t, result.IsOverage)
		assert.Equal(t, int64(501), result.NewTotal)
		assert.True(t, result.IncrementalCost.Equal(decimal.RequireFromString("0.10")))

		require.NotNil(t, appended)
		assert.True(t, appended.CountedAsOverage)
		assert.True(t, appended.Cost.Equal(decimal.RequireFromString("0.10")))
		assert.Equal(t, metering.UsageEventReminder, appended.Kind)
	})

	t.Run("lost race retries until the save lands", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 10), nil).Once()
		stateRepo.On("CompareAndSave", ctx, mock.Anything).Return(shared.ErrConcurrencyConflict).Once()
		// second attempt reloads a fresher row and wins
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 11), nil).Once()
		stateRepo.On("CompareAndSave", ctx, mock.Anything).Return(nil).Once()
		eventRepo.On("Append", ctx, mock.Anything).Return(nil)

		result, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  tenant.ID,
			Resource:  metering.ResourceEmail,
			Recipient: "a@b.se",
		})

		require.NoError(t, err)
		assert.Equal(t, int64(12), result.NewTotal)
		stateRepo.AssertExpectations(t)
	})

	t.Run("contention past the retry budget is transient", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 10), nil)
		stateRepo.On("CompareAndSave", ctx, mock.Anything).Return(shared.ErrConcurrencyConflict)

		_, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  tenant.ID,
			Resource:  metering.ResourceEmail,
			Recipient: "a@b.se",
		})

		assert.True(t, errors.Is(err, shared.ErrTransient))
		eventRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("ledger append failure does not fail the send", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 10), nil)
		stateRepo.On("CompareAndSave", ctx, mock.Anything).Return(nil)
		eventRepo.On("Append", ctx, mock.Anything).Return(errors.New("disk full"))

		result, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  tenant.ID,
			Resource:  metering.ResourceEmail,
			Recipient: "a@b.se",
		})

		require.NoError(t, err)
		assert.Equal(t, int64(11), result.NewTotal)
	})

	t.Run("inactive tenant is rejected", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenant.Status = identity.TenantStatusSuspended
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)

		_, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  tenant.ID,
			Resource:  metering.ResourceEmail,
			Recipient: "a@b.se",
		})

		assert.True(t, errors.Is(err, ErrTenantNotActive))
		stateRepo.AssertNotCalled(t, "GetOrInit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("sms without an active package is rejected", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)

		_, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  tenant.ID,
			Resource:  metering.ResourceSMS,
			Recipient: "+46701234567",
		})

		assert.True(t, errors.Is(err, identity.ErrResourceNotActive))
	})

	t.Run("unknown tenant", func(t *testing.T) {
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		unknownID := uuid.New()
		tenantRepo.On("FindByID", ctx, unknownID).Return(nil, shared.ErrNotFound)

		_, err := service.RecordSend(ctx, RecordSendInput{
			TenantID:  unknownID,
			Resource:  metering.ResourceEmail,
			Recipient: "a@b.se",
		})

		assert.True(t, shared.IsNotFound(err))
	})
}

func TestUsageService_GetUsage(t *testing.T) {
	ctx := context.Background()
	period := metering.CurrentPeriodStart(testNow)

	tenant := newActiveTenant(t)
	tenantRepo := new(mockTenantRepository)
	stateRepo := new(mockStateRepository)
	eventRepo := new(mockEventRepository)
	service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

	state := newStateFor(t, tenant, metering.ResourceEmail, 375)
	tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
	stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).Return(state, nil)

	view, err := service.GetUsage(ctx, tenant.ID, metering.ResourceEmail)

	require.NoError(t, err)
	assert.Equal(t, int64(500), view.Limit)
	assert.Equal(t, int64(375), view.Used)
	assert.Equal(t, int64(125), view.Remaining)
	assert.Equal(t, int64(75), view.PercentUsed)
}

func TestUsageService_GetUsageSummary(t *testing.T) {
	ctx := context.Background()
	period := metering.CurrentPeriodStart(testNow)

	t.Run("inactive sms package is omitted", func(t *testing.T) {
		tenant := newActiveTenant(t)
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 42), nil)

		summary, err := service.GetUsageSummary(ctx, tenant.ID)

		require.NoError(t, err)
		require.Len(t, summary.Resources, 1)
		assert.Equal(t, metering.ResourceEmail, summary.Resources[0].Resource)
		assert.Equal(t, period, summary.PeriodStart)
	})

	t.Run("both resources when sms is active", func(t *testing.T) {
		tenant := newActiveTenant(t)
		require.NoError(t, tenant.ActivateSMSPackage(200))
		tenantRepo := new(mockTenantRepository)
		stateRepo := new(mockStateRepository)
		eventRepo := new(mockEventRepository)
		service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

		tenantRepo.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceEmail, period).
			Return(newStateFor(t, tenant, metering.ResourceEmail, 42), nil)
		stateRepo.On("GetOrInit", ctx, tenant.ID, metering.ResourceSMS, period).
			Return(newStateFor(t, tenant, metering.ResourceSMS, 7), nil)

		summary, err := service.GetUsageSummary(ctx, tenant.ID)

		require.NoError(t, err)
		require.Len(t, summary.Resources, 2)
		assert.Equal(t, int64(200), summary.Resources[1].Limit)
	})
}

func TestUsageService_ListEvents(t *testing.T) {
	ctx := context.Background()
	tenant := newActiveTenant(t)
	tenantRepo := new(mockTenantRepository)
	stateRepo := new(mockStateRepository)
	eventRepo := new(mockEventRepository)
	service := newServiceUnderTest(tenantRepo, stateRepo, eventRepo)

	event, err := metering.NewUsageEvent(tenant.ID, metering.ResourceEmail, metering.UsageEventSend, "a@b.se")
	require.NoError(t, err)

	eventRepo.On("ListByTenant", ctx, tenant.ID, mock.Anything).
		Return([]*metering.UsageEvent{event}, int64(41), nil)

	page, err := service.ListEvents(ctx, tenant.ID, metering.UsageEventFilter{Filter: shared.Filter{Page: 2, PageSize: 20}})

	require.NoError(t, err)
	assert.Equal(t, int64(41), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 1)
}

func TestSettlement_SettleAccrued(t *testing.T) {
	ctx := context.Background()
	stateRepo := new(mockStateRepository)
	settlement := NewSettlement(stateRepo, zap.NewNop())

	inv, err := invoicing.NewOverageInvoice(
		uuid.New(), metering.ResourceEmail,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		120,
		decimal.RequireFromString("0.10"),
		decimal.NewFromInt(25),
		valueobject.EUR,
	)
	require.NoError(t, err)

	stateRepo.On("ResetAccrued", ctx, inv.TenantID, metering.ResourceEmail, inv.PeriodStart).Return(nil)

	require.NoError(t, settlement.SettleAccrued(ctx, inv))
	stateRepo.AssertExpectations(t)
}
