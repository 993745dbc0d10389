package identity

import (
	"strings"
	"time"

	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// TenantStatus represents the status of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusInactive  TenantStatus = "inactive"
	TenantStatusSuspended TenantStatus = "suspended"
)

// BillingConfig holds the per-tenant billing rules the metering engine
// reads. It is owned by tenant configuration; the metering subsystem
// treats every field as read-only input.
type BillingConfig struct {
	Currency         valueobject.Currency `json:"currency"`
	TaxRate          decimal.Decimal      `json:"tax_rate"` // percent, e.g. 25 for 25% VAT
	EmailLimit       int64                `json:"email_limit"`
	EmailOverageRate decimal.Decimal      `json:"email_overage_rate"`
	SMSPackageSize   *int64               `json:"sms_package_size"`
	SMSPackageActive bool                 `json:"sms_package_active"`
	SMSOverageRate   decimal.Decimal      `json:"sms_overage_rate"`
}

// DefaultBillingConfig returns the billing rules applied to a new tenant
func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Currency:         valueobject.DefaultCurrency,
		TaxRate:          decimal.NewFromInt(25),
		EmailLimit:       500,
		EmailOverageRate: decimal.RequireFromString("0.10"),
		SMSPackageActive: false,
		SMSOverageRate:   decimal.RequireFromString("0.50"),
	}
}

// Tenant is an isolated customer account. All metering and billing state
// is scoped to a tenant.
type Tenant struct {
	shared.BaseAggregateRoot
	Code             string
	Name             string
	ContactName      string
	ContactEmail     string
	Status           TenantStatus
	Billing          BillingConfig
	StripeCustomerID string
}

// NewTenant creates a new active tenant with default billing rules
func NewTenant(code, name string) (*Tenant, error) {
	if err := validateTenantCode(code); err != nil {
		return nil, err
	}
	if err := validateTenantName(name); err != nil {
		return nil, err
	}

	return &Tenant{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Code:              strings.ToUpper(code),
		Name:              name,
		Status:            TenantStatusActive,
		Billing:           DefaultBillingConfig(),
	}, nil
}

// IsActive reports whether the tenant may consume metered resources
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// SetContact sets the tenant's billing contact
func (t *Tenant) SetContact(name, email string) error {
	if name != "" && len(name) > 100 {
		return shared.NewDomainError("INVALID_CONTACT_NAME", "Contact name cannot exceed 100 characters")
	}
	if email != "" && len(email) > 200 {
		return shared.NewDomainError("INVALID_EMAIL", "Email cannot exceed 200 characters")
	}
	t.ContactName = name
	t.ContactEmail = email
	t.UpdatedAt = time.Now()
	return nil
}

// SetStripeCustomerID records the lazily created payment-provider
// customer so later billing events reuse it.
func (t *Tenant) SetStripeCustomerID(customerID string) {
	t.StripeCustomerID = customerID
	t.UpdatedAt = time.Now()
}

// ActivateSMSPackage enables SMS sending with the given package size
func (t *Tenant) ActivateSMSPackage(packageSize int64) error {
	if packageSize <= 0 {
		return shared.NewDomainError("INVALID_PACKAGE_SIZE", "SMS package size must be positive")
	}
	t.Billing.SMSPackageSize = &packageSize
	t.Billing.SMSPackageActive = true
	t.UpdatedAt = time.Now()
	return nil
}

// DeactivateSMSPackage disables SMS sending for the tenant
func (t *Tenant) DeactivateSMSPackage() {
	t.Billing.SMSPackageActive = false
	t.UpdatedAt = time.Now()
}

// EffectiveLimit resolves the free limit and per-unit overage rate for a
// metered resource. Email is limit-based and always configured; SMS is
// package-based and requires an active package.
func (t *Tenant) EffectiveLimit(resource metering.ResourceType) (int64, decimal.Decimal, error) {
	switch resource {
	case metering.ResourceEmail:
		return t.Billing.EmailLimit, t.Billing.EmailOverageRate, nil
	case metering.ResourceSMS:
		if !t.Billing.SMSPackageActive || t.Billing.SMSPackageSize == nil {
			return 0, decimal.Zero, ErrResourceNotActive
		}
		return *t.Billing.SMSPackageSize, t.Billing.SMSOverageRate, nil
	default:
		return 0, decimal.Zero, shared.NewDomainError("INVALID_RESOURCE_TYPE", "Invalid resource type")
	}
}

func validateTenantCode(code string) error {
	if code == "" {
		return shared.NewDomainError("INVALID_CODE", "Tenant code cannot be empty")
	}
	if len(code) > 50 {
		return shared.NewDomainError("INVALID_CODE", "Tenant code cannot exceed 50 characters")
	}
	return nil
}

func validateTenantName(name string) error {
	if name == "" {
		return shared.NewDomainError("INVALID_NAME", "Tenant name cannot be empty")
	}
	if len(name) > 200 {
		return shared.NewDomainError("INVALID_NAME", "Tenant name cannot exceed 200 characters")
	}
	return nil
}

// ErrResourceNotActive signals a send against a resource that requires
// an active package which the tenant has not configured.
var ErrResourceNotActive = shared.NewDomainError("RESOURCE_NOT_ACTIVE", "Resource requires an active package")
