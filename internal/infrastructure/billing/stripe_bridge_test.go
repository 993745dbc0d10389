package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
	"go.uber.org/zap"

	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
)

// mockBackend implements stripe.Backend for testing
type mockBackend struct {
	handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)
}

func (m *mockBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	data, err := m.handler(method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *mockBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

func setupMockBackend(handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)) func() {
	stripe.SetBackend(stripe.APIBackend, &mockBackend{handler: handler})
	return func() {
		stripe.SetBackend(stripe.APIBackend, nil)
	}
}

// mockTenantRepository is a mock implementation of identity.TenantRepository
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

func testStripeConfig() *StripeConfig {
	return &StripeConfig{
		SecretKey:     "sk_test_123456789",
		WebhookSecret: "whsec_test_123456789",
		IsTestMode:    true,
	}
}

func testTenant(t *testing.T) *identity.Tenant {
	t.Helper()
	tenant, err := identity.NewTenant("ACME", "Acme Salon")
	require.NoError(t, err)
	require.NoError(t, tenant.SetContact("Jo Smith", "billing@acme.example"))
	return tenant
}

func testInvoice(t *testing.T) *invoicing.Invoice {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	inv, err := invoicing.NewOverageInvoice(
		uuid.New(),
		metering.ResourceEmail,
		start, end,
		120,
		decimal.RequireFromString("0.10"),
		decimal.NewFromInt(25),
		valueobject.EUR,
	)
	require.NoError(t, err)
	return inv
}

func TestNewStripeBridge(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		bridge, err := NewStripeBridge(testStripeConfig(), new(mockTenantRepository), zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, bridge)
	})

	t.Run("missing secret key", func(t *testing.T) {
		_, err := NewStripeBridge(&StripeConfig{}, new(mockTenantRepository), zap.NewNop())
		assert.ErrorContains(t, err, "secret key is required")
	})

	t.Run("live key in test mode", func(t *testing.T) {
		cfg := &StripeConfig{SecretKey: "sk_live_123456789", IsTestMode: true}
		_, err := NewStripeBridge(cfg, new(mockTenantRepository), zap.NewNop())
		assert.ErrorContains(t, err, "not a test key")
	})
}

func TestStripeBridge_PushInvoice(t *testing.T) {
	t.Run("creates customer, line items and invoice", func(t *testing.T) {
		var calls []string
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			calls = append(calls, fmt.Sprintf("%s %s", method, path))
			switch {
			case strings.HasPrefix(path, "/v1/customers"):
				return []byte(`{"id": "cus_new1"}`), nil
			case strings.HasPrefix(path, "/v1/invoiceitems"):
				return []byte(`{"id": "ii_1"}`), nil
			case strings.HasPrefix(path, "/v1/invoices"):
				return []byte(`{"id": "in_42"}`), nil
			}
			return nil, fmt.Errorf("unexpected path %s", path)
		})
		defer cleanup()

		tenant := testTenant(t)
		repo := new(mockTenantRepository)
		repo.On("Save", mock.Anything, tenant).Return(nil)

		bridge, err := NewStripeBridge(testStripeConfig(), repo, zap.NewNop())
		require.NoError(t, err)

		remoteID, err := bridge.PushInvoice(context.Background(), tenant, testInvoice(t))
		require.NoError(t, err)

		assert.Equal(t, "in_42", remoteID)
		assert.Equal(t, "cus_new1", tenant.StripeCustomerID)
		// customer, overage item, tax item, create, finalize, send
		assert.Len(t, calls, 6)
		repo.AssertExpectations(t)
	})

	t.Run("request context reaches every outbound call", func(t *testing.T) {
		type pushKey struct{}
		ctx := context.WithValue(context.Background(), pushKey{}, "push-7")

		checked := 0
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			p := params.GetParams()
			require.NotNil(t, p)
			require.NotNil(t, p.Context, "call to %s must carry the caller's context", path)
			assert.Equal(t, "push-7", p.Context.Value(pushKey{}))
			checked++
			switch {
			case strings.HasPrefix(path, "/v1/customers"):
				return []byte(`{"id": "cus_new1"}`), nil
			case strings.HasPrefix(path, "/v1/invoiceitems"):
				return []byte(`{"id": "ii_1"}`), nil
			}
			return []byte(`{"id": "in_45"}`), nil
		})
		defer cleanup()

		tenant := testTenant(t)
		repo := new(mockTenantRepository)
		repo.On("Save", mock.Anything, tenant).Return(nil)

		bridge, err := NewStripeBridge(testStripeConfig(), repo, zap.NewNop())
		require.NoError(t, err)

		_, err = bridge.PushInvoice(ctx, tenant, testInvoice(t))
		require.NoError(t, err)
		assert.Equal(t, 6, checked)
	})

	t.Run("reuses existing customer", func(t *testing.T) {
		customerCalls := 0
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			if strings.HasPrefix(path, "/v1/customers") {
				customerCalls++
				return []byte(`{"id": "cus_other"}`), nil
			}
			if strings.HasPrefix(path, "/v1/invoiceitems") {
				return []byte(`{"id": "ii_1"}`), nil
			}
			return []byte(`{"id": "in_43"}`), nil
		})
		defer cleanup()

		tenant := testTenant(t)
		tenant.SetStripeCustomerID("cus_existing")
		repo := new(mockTenantRepository)

		bridge, err := NewStripeBridge(testStripeConfig(), repo, zap.NewNop())
		require.NoError(t, err)

		remoteID, err := bridge.PushInvoice(context.Background(), tenant, testInvoice(t))
		require.NoError(t, err)

		assert.Equal(t, "in_43", remoteID)
		assert.Equal(t, 0, customerCalls)
		assert.Equal(t, "cus_existing", tenant.StripeCustomerID)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("rejects non-pending invoice", func(t *testing.T) {
		tenant := testTenant(t)
		inv := testInvoice(t)
		require.NoError(t, inv.MarkPaid(time.Now()))

		bridge, err := NewStripeBridge(testStripeConfig(), new(mockTenantRepository), zap.NewNop())
		require.NoError(t, err)

		_, err = bridge.PushInvoice(context.Background(), tenant, inv)
		assert.ErrorIs(t, err, invoicing.ErrInvoiceNotPending)
	})

	t.Run("remote invoice creation failure surfaces", func(t *testing.T) {
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			if strings.HasPrefix(path, "/v1/invoiceitems") {
				return []byte(`{"id": "ii_1"}`), nil
			}
			if path == "/v1/invoices" {
				return nil, fmt.Errorf("api unavailable")
			}
			return []byte(`{"id": "cus_new1"}`), nil
		})
		defer cleanup()

		tenant := testTenant(t)
		tenant.SetStripeCustomerID("cus_existing")

		bridge, err := NewStripeBridge(testStripeConfig(), new(mockTenantRepository), zap.NewNop())
		require.NoError(t, err)

		_, err = bridge.PushInvoice(context.Background(), tenant, testInvoice(t))
		assert.ErrorContains(t, err, "failed to create invoice")
	})

	t.Run("delivery failure still returns remote id", func(t *testing.T) {
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			if strings.HasSuffix(path, "/send") {
				return nil, fmt.Errorf("delivery backlog")
			}
			if strings.HasPrefix(path, "/v1/invoiceitems") {
				return []byte(`{"id": "ii_1"}`), nil
			}
			return []byte(`{"id": "in_44"}`), nil
		})
		defer cleanup()

		tenant := testTenant(t)
		tenant.SetStripeCustomerID("cus_existing")

		bridge, err := NewStripeBridge(testStripeConfig(), new(mockTenantRepository), zap.NewNop())
		require.NoError(t, err)

		remoteID, err := bridge.PushInvoice(context.Background(), tenant, testInvoice(t))
		require.NoError(t, err)
		assert.Equal(t, "in_44", remoteID)
	})
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(1200), toCents(decimal.RequireFromString("12.00")))
	assert.Equal(t, int64(1500), toCents(decimal.RequireFromString("15.00")))
	assert.Equal(t, int64(10), toCents(decimal.RequireFromString("0.10")))
	assert.Equal(t, int64(0), toCents(decimal.Zero))
}
