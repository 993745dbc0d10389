package invoicing

import (
	"context"
	"time"

	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// InvoiceRepository persists overage invoices.
//
// Create relies on the storage layer's unique index over (tenant,
// resource, period start, period end): a duplicate insert must surface
// as ErrInvoiceAlreadyExists rather than a second row, making the
// operation safe to re-trigger.
type InvoiceRepository interface {
	// Create durably inserts a new invoice, all-or-nothing
	Create(ctx context.Context, invoice *Invoice) error

	// FindByID retrieves an invoice by its local identifier
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByRemoteID retrieves the invoice mirrored by the given
	// payment-provider invoice identifier; shared.ErrNotFound when the
	// provider references an invoice this system never created.
	FindByRemoteID(ctx context.Context, remoteInvoiceID string) (*Invoice, error)

	// FindByPeriod retrieves the invoice for the exact billing-period
	// tuple, shared.ErrNotFound if none exists.
	FindByPeriod(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType, periodStart, periodEnd time.Time) (*Invoice, error)

	// ListByTenant returns a page of the tenant's invoices, newest
	// first, with the total count.
	ListByTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]*Invoice, int64, error)

	// Update persists status, remote-identifier and paid-at changes
	// made by the reconciliation handler.
	Update(ctx context.Context, invoice *Invoice) error
}
