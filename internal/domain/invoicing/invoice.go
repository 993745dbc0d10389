package invoicing

import (
	"fmt"
	"strings"
	"time"

	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle state of an overage invoice
type InvoiceStatus string

const (
	// InvoiceStatusPending is the initial state; the invoice awaits a
	// payment-provider resolution.
	InvoiceStatusPending InvoiceStatus = "pending"

	// InvoiceStatusPaid is terminal: payment succeeded
	InvoiceStatusPaid InvoiceStatus = "paid"

	// InvoiceStatusFailed is terminal: payment failed
	InvoiceStatusFailed InvoiceStatus = "failed"

	// InvoiceStatusCancelled is terminal: invoice voided by an operator
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// String returns the string representation of the status
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status permits no further transitions
func (s InvoiceStatus) IsTerminal() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusFailed, InvoiceStatusCancelled:
		return true
	}
	return false
}

// DueDays is how long after the period end an overage invoice is due
const DueDays = 30

// onePercent converts a percent-form tax rate into a multiplier
var onePercent = decimal.New(1, -2)

// Invoice is an overage invoice for one tenant, one resource, one
// billing period. The (tenant, resource, period) tuple is unique; the
// persistence layer enforces it with a unique index so period-end
// billing can run more than once without double-invoicing. Status moves
// pending -> paid|failed|cancelled and is immutable afterwards.
type Invoice struct {
	shared.TenantAggregateRoot
	Number          string
	Resource        metering.ResourceType
	PeriodStart     time.Time
	PeriodEnd       time.Time
	UnitsOverLimit  int64
	OverageRate     decimal.Decimal
	Subtotal        decimal.Decimal
	TaxRate         decimal.Decimal
	TaxAmount       decimal.Decimal
	Total           decimal.Decimal
	Currency        valueobject.Currency
	Status          InvoiceStatus
	DueDate         time.Time
	RemoteInvoiceID string
	PaidAt          *time.Time
}

// NewOverageInvoice creates a pending invoice for the overage consumed
// in [periodStart, periodEnd). Monetary amounts are rounded half-up to
// two decimal places at creation and never recomputed afterwards.
func NewOverageInvoice(
	tenantID uuid.UUID,
	resource metering.ResourceType,
	periodStart, periodEnd time.Time,
	unitsOverLimit int64,
	overageRate decimal.Decimal,
	taxRate decimal.Decimal,
	currency valueobject.Currency,
) (*Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !resource.IsValid() {
		return nil, shared.NewDomainError("INVALID_RESOURCE_TYPE", "Invalid resource type")
	}
	if !periodEnd.After(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end must be after period start")
	}
	if unitsOverLimit <= 0 {
		return nil, ErrNoOverage
	}
	if overageRate.IsNegative() {
		return nil, shared.NewDomainError("INVALID_RATE", "Overage rate cannot be negative")
	}
	if taxRate.IsNegative() {
		return nil, shared.NewDomainError("INVALID_TAX_RATE", "Tax rate cannot be negative")
	}
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}

	unitPrice, err := valueobject.NewMoney(overageRate, currency)
	if err != nil {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Invalid currency")
	}
	subtotal := unitPrice.MultiplyByInt(unitsOverLimit).Round(2)
	taxAmount := subtotal.Multiply(taxRate).Multiply(onePercent).Round(2)
	total := subtotal.MustAdd(taxAmount)

	return &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Number:              DeriveInvoiceNumber(tenantID, periodEnd),
		Resource:            resource,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		UnitsOverLimit:      unitsOverLimit,
		OverageRate:         overageRate,
		Subtotal:            subtotal.Amount(),
		TaxRate:             taxRate,
		TaxAmount:           taxAmount.Amount(),
		Total:               total.Amount(),
		Currency:            currency,
		Status:              InvoiceStatusPending,
		DueDate:             periodEnd.AddDate(0, 0, DueDays),
	}, nil
}

// DeriveInvoiceNumber builds the deterministic, human-traceable invoice
// number from the billing period end and the tenant identifier. The full
// UUID is used rather than a short prefix so numbers cannot collide
// across tenants.
func DeriveInvoiceNumber(tenantID uuid.UUID, periodEnd time.Time) string {
	u := periodEnd.UTC()
	fragment := strings.ToUpper(strings.ReplaceAll(tenantID.String(), "-", ""))
	return fmt.Sprintf("OV-%04d%02d-%s", u.Year(), int(u.Month()), fragment)
}

// IsPending reports whether the invoice still awaits resolution
func (i *Invoice) IsPending() bool {
	return i.Status == InvoiceStatusPending
}

// SetRemoteInvoiceID records the payment-provider invoice mirroring this
// one. Only pending invoices may be mirrored.
func (i *Invoice) SetRemoteInvoiceID(remoteID string) error {
	if !i.IsPending() {
		return ErrInvoiceNotPending
	}
	if remoteID == "" {
		return shared.NewDomainError("INVALID_REMOTE_ID", "Remote invoice ID cannot be empty")
	}
	i.RemoteInvoiceID = remoteID
	i.UpdatedAt = time.Now()
	return nil
}

// MarkPaid transitions pending -> paid
func (i *Invoice) MarkPaid(paidAt time.Time) error {
	if !i.IsPending() {
		return ErrInvoiceNotPending
	}
	i.Status = InvoiceStatusPaid
	i.PaidAt = &paidAt
	i.UpdatedAt = time.Now()
	return nil
}

// MarkFailed transitions pending -> failed
func (i *Invoice) MarkFailed() error {
	if !i.IsPending() {
		return ErrInvoiceNotPending
	}
	i.Status = InvoiceStatusFailed
	i.UpdatedAt = time.Now()
	return nil
}

// Cancel transitions pending -> cancelled
func (i *Invoice) Cancel() error {
	if !i.IsPending() {
		return ErrInvoiceNotPending
	}
	i.Status = InvoiceStatusCancelled
	i.UpdatedAt = time.Now()
	return nil
}

// LineItemDescription renders the single overage line item mirrored to
// the payment provider.
func (i *Invoice) LineItemDescription() string {
	return fmt.Sprintf("%d %s units over limit @ %s %s",
		i.UnitsOverLimit,
		i.Resource.DisplayName(),
		i.OverageRate.StringFixed(2),
		i.Currency,
	)
}

// Domain errors for the invoicing module
var (
	// ErrInvoiceAlreadyExists signals the per-period idempotency
	// boundary: an invoice for the exact (tenant, resource, period)
	// tuple already exists.
	ErrInvoiceAlreadyExists = shared.NewDomainError("INVOICE_ALREADY_EXISTS", "An invoice already exists for this billing period")

	// ErrNoOverage signals that the tenant consumed nothing beyond its
	// limit; no invoice is created for a zero overage.
	ErrNoOverage = shared.NewDomainError("NO_OVERAGE", "No overage to invoice for this billing period")

	// ErrInvoiceNotPending signals an operation that requires a
	// pending invoice hit one already resolved.
	ErrInvoiceNotPending = shared.NewDomainError("INVOICE_NOT_PENDING", "Invoice is not in pending state")
)
