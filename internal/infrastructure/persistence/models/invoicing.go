package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
)

// InvoiceModel is the persistence model for overage invoices. The
// composite unique index over (tenant, resource, period) is the
// idempotency boundary for period-end billing: a duplicate generation
// attempt fails the insert instead of creating a second invoice.
type InvoiceModel struct {
	AggregateModel
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_invoice_tenant_period,priority:1;index"`
	Resource        string          `gorm:"size:20;not null;uniqueIndex:idx_invoice_tenant_period,priority:2"`
	PeriodStart     time.Time       `gorm:"not null;uniqueIndex:idx_invoice_tenant_period,priority:3"`
	PeriodEnd       time.Time       `gorm:"not null;uniqueIndex:idx_invoice_tenant_period,priority:4"`
	Number          string          `gorm:"size:60;not null"`
	UnitsOverLimit  int64           `gorm:"not null"`
	OverageRate     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TaxRate         decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	TaxAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Total           decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency        string          `gorm:"size:3;not null"`
	Status          string          `gorm:"size:20;not null;index"`
	DueDate         time.Time       `gorm:"not null"`
	RemoteInvoiceID string          `gorm:"size:100;index"`
	PaidAt          *time.Time
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "overage_invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *invoicing.Invoice {
	return &invoicing.Invoice{
		TenantAggregateRoot: shared.TenantAggregateRoot{
			BaseAggregateRoot: m.ToDomainAggregateRoot(),
			TenantID:          m.TenantID,
		},
		Number:          m.Number,
		Resource:        metering.ResourceType(m.Resource),
		PeriodStart:     m.PeriodStart,
		PeriodEnd:       m.PeriodEnd,
		UnitsOverLimit:  m.UnitsOverLimit,
		OverageRate:     m.OverageRate,
		Subtotal:        m.Subtotal,
		TaxRate:         m.TaxRate,
		TaxAmount:       m.TaxAmount,
		Total:           m.Total,
		Currency:        valueobject.Currency(m.Currency),
		Status:          invoicing.InvoiceStatus(m.Status),
		DueDate:         m.DueDate,
		RemoteInvoiceID: m.RemoteInvoiceID,
		PaidAt:          m.PaidAt,
	}
}

// FromDomain populates the persistence model from a domain Invoice
func (m *InvoiceModel) FromDomain(i *invoicing.Invoice) {
	m.FromDomainAggregateRoot(i.BaseAggregateRoot)
	m.TenantID = i.TenantID
	m.Resource = i.Resource.String()
	m.PeriodStart = i.PeriodStart
	m.PeriodEnd = i.PeriodEnd
	m.Number = i.Number
	m.UnitsOverLimit = i.UnitsOverLimit
	m.OverageRate = i.OverageRate
	m.Subtotal = i.Subtotal
	m.TaxRate = i.TaxRate
	m.TaxAmount = i.TaxAmount
	m.Total = i.Total
	m.Currency = string(i.Currency)
	m.Status = i.Status.String()
	m.DueDate = i.DueDate
	m.RemoteInvoiceID = i.RemoteInvoiceID
	m.PaidAt = i.PaidAt
}
