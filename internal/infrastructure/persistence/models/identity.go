package models

import (
	"github.com/shopspring/decimal"

	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
)

// TenantModel is the persistence model for tenants and their billing
// configuration.
type TenantModel struct {
	AggregateModel
	Code             string          `gorm:"size:50;not null;uniqueIndex"`
	Name             string          `gorm:"size:200;not null"`
	ContactName      string          `gorm:"size:100"`
	ContactEmail     string          `gorm:"size:200"`
	Status           string          `gorm:"size:20;not null;index"`
	Currency         string          `gorm:"size:3;not null"`
	TaxRate          decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	EmailLimit       int64           `gorm:"not null"`
	EmailOverageRate decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SMSPackageSize   *int64
	SMSPackageActive bool            `gorm:"not null;default:false"`
	SMSOverageRate   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	StripeCustomerID string          `gorm:"size:100;index"`
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// ToDomain converts the persistence model to a domain Tenant
func (m *TenantModel) ToDomain() *identity.Tenant {
	return &identity.Tenant{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Code:              m.Code,
		Name:              m.Name,
		ContactName:       m.ContactName,
		ContactEmail:      m.ContactEmail,
		Status:            identity.TenantStatus(m.Status),
		Billing: identity.BillingConfig{
			Currency:         valueobject.Currency(m.Currency),
			TaxRate:          m.TaxRate,
			EmailLimit:       m.EmailLimit,
			EmailOverageRate: m.EmailOverageRate,
			SMSPackageSize:   m.SMSPackageSize,
			SMSPackageActive: m.SMSPackageActive,
			SMSOverageRate:   m.SMSOverageRate,
		},
		StripeCustomerID: m.StripeCustomerID,
	}
}

// FromDomain populates the persistence model from a domain Tenant
func (m *TenantModel) FromDomain(t *identity.Tenant) {
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	m.Code = t.Code
	m.Name = t.Name
	m.ContactName = t.ContactName
	m.ContactEmail = t.ContactEmail
	m.Status = string(t.Status)
	m.Currency = string(t.Billing.Currency)
	m.TaxRate = t.Billing.TaxRate
	m.EmailLimit = t.Billing.EmailLimit
	m.EmailOverageRate = t.Billing.EmailOverageRate
	m.SMSPackageSize = t.Billing.SMSPackageSize
	m.SMSPackageActive = t.Billing.SMSPackageActive
	m.SMSOverageRate = t.Billing.SMSOverageRate
	m.StripeCustomerID = t.StripeCustomerID
}
