package invoicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
)

// PaymentBridge mirrors a local invoice to the external payment
// provider. Implementations ensure a remote customer exists for the
// tenant, create and finalize a matching remote invoice and request its
// delivery, returning the remote invoice identifier.
//
// Calls are fire-and-report: a remote failure must never corrupt local
// invoice state. The local invoice stays pending until a reconciliation
// event arrives.
type PaymentBridge interface {
	PushInvoice(ctx context.Context, tenant *identity.Tenant, invoice *invoicing.Invoice) (string, error)
}

// InvoiceService generates overage invoices at period end and mirrors
// them to the payment provider.
type InvoiceService struct {
	tenantRepo  identity.TenantRepository
	stateRepo   metering.MeteringStateRepository
	eventRepo   metering.UsageEventRepository
	invoiceRepo invoicing.InvoiceRepository
	bridge      PaymentBridge
	logger      *zap.Logger
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	tenantRepo identity.TenantRepository,
	stateRepo metering.MeteringStateRepository,
	eventRepo metering.UsageEventRepository,
	invoiceRepo invoicing.InvoiceRepository,
	bridge PaymentBridge,
	logger *zap.Logger,
) *InvoiceService {
	return &InvoiceService{
		tenantRepo:  tenantRepo,
		stateRepo:   stateRepo,
		eventRepo:   eventRepo,
		invoiceRepo: invoiceRepo,
		bridge:      bridge,
		logger:      logger,
	}
}

// GenerateInvoice creates the overage invoice for one tenant, one
// resource, one billing period. The (tenant, resource, period) tuple is
// the idempotency boundary: a second call for the same tuple fails with
// ErrInvoiceAlreadyExists and creates nothing.
//
// Mirroring the invoice to the payment provider happens after the local
// row is durably created; a remote failure leaves the invoice pending
// with no remote identifier, to be retried by a later delivery attempt.
func (s *InvoiceService) GenerateInvoice(
	ctx context.Context,
	tenantID uuid.UUID,
	resource metering.ResourceType,
	period metering.BillingPeriod,
) (*invoicing.Invoice, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if _, err := s.invoiceRepo.FindByPeriod(ctx, tenantID, resource, period.Start, period.End); err == nil {
		return nil, invoicing.ErrInvoiceAlreadyExists
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("failed to check for existing invoice: %w", err)
	}

	limit, rate, err := tenant.EffectiveLimit(resource)
	if err != nil {
		return nil, err
	}

	used, err := s.unitsUsedInPeriod(ctx, tenantID, resource, period)
	if err != nil {
		return nil, err
	}

	unitsOver := used - limit
	if unitsOver <= 0 {
		return nil, invoicing.ErrNoOverage
	}

	invoice, err := invoicing.NewOverageInvoice(
		tenantID, resource,
		period.Start, period.End,
		unitsOver, rate,
		tenant.Billing.TaxRate, tenant.Billing.Currency,
	)
	if err != nil {
		return nil, err
	}

	// The unique period index is the race-safe backstop behind the
	// FindByPeriod pre-check above.
	if err := s.invoiceRepo.Create(ctx, invoice); err != nil {
		return nil, err
	}

	s.logger.Info("overage invoice generated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("resource", resource.String()),
		zap.String("invoice_number", invoice.Number),
		zap.Int64("units_over_limit", unitsOver),
		zap.String("total", invoice.Total.StringFixed(2)))

	s.pushToProvider(ctx, tenant, invoice)

	return invoice, nil
}

// pushToProvider mirrors the invoice remotely and records the remote
// identifier. Failures are logged, never propagated: the local invoice
// is already durable and stays pending.
func (s *InvoiceService) pushToProvider(ctx context.Context, tenant *identity.Tenant, invoice *invoicing.Invoice) {
	if s.bridge == nil {
		return
	}

	remoteID, err := s.bridge.PushInvoice(ctx, tenant, invoice)
	if err != nil {
		s.logger.Error("failed to mirror invoice to payment provider",
			zap.String("invoice_number", invoice.Number),
			zap.Error(err))
		return
	}

	if err := invoice.SetRemoteInvoiceID(remoteID); err != nil {
		s.logger.Error("failed to record remote invoice id",
			zap.String("invoice_number", invoice.Number),
			zap.String("remote_invoice_id", remoteID),
			zap.Error(err))
		return
	}
	if err := s.invoiceRepo.Update(ctx, invoice); err != nil {
		s.logger.Error("failed to persist remote invoice id",
			zap.String("invoice_number", invoice.Number),
			zap.String("remote_invoice_id", remoteID),
			zap.Error(err))
	}
}

// unitsUsedInPeriod resolves consumption for the billing period. When
// the counter row still holds the requested period its count is
// authoritative; once the row has rolled over to a newer period the
// append-only ledger is the durable record of the closed period.
func (s *InvoiceService) unitsUsedInPeriod(
	ctx context.Context,
	tenantID uuid.UUID,
	resource metering.ResourceType,
	period metering.BillingPeriod,
) (int64, error) {
	state, err := s.stateRepo.Find(ctx, tenantID, resource)
	if err == nil && state.PeriodStart.Equal(period.Start) {
		return state.UnitsUsed, nil
	}
	if err != nil && !shared.IsNotFound(err) {
		return 0, fmt.Errorf("failed to load usage counter: %w", err)
	}

	count, err := s.eventRepo.CountInPeriod(ctx, tenantID, resource, period.Start, period.End)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger events: %w", err)
	}
	return count, nil
}

// RetryPush re-attempts remote mirroring for a pending invoice that has
// no remote identifier yet.
func (s *InvoiceService) RetryPush(ctx context.Context, invoiceID uuid.UUID) (*invoicing.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.IsPending() {
		return nil, invoicing.ErrInvoiceNotPending
	}
	if invoice.RemoteInvoiceID != "" {
		return invoice, nil
	}

	tenant, err := s.tenantRepo.FindByID(ctx, invoice.TenantID)
	if err != nil {
		return nil, err
	}

	s.pushToProvider(ctx, tenant, invoice)
	return invoice, nil
}

// GetInvoice retrieves a single invoice by its local identifier
func (s *InvoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*invoicing.Invoice, error) {
	return s.invoiceRepo.FindByID(ctx, id)
}

// ListInvoices returns a page of the tenant's invoices, newest first
func (s *InvoiceService) ListInvoices(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (*shared.Paginated[*invoicing.Invoice], error) {
	filter = filter.Normalize()

	invoices, total, err := s.invoiceRepo.ListByTenant(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	page := shared.NewPaginated(invoices, total, filter.Page, filter.PageSize)
	return &page, nil
}

// GenerateForAllTenants runs period-end billing for every active tenant
// and every resource, returning how many invoices were created. Tenants
// without overage or with an invoice already in place are skipped, so
// the job is safe to run repeatedly.
func (s *InvoiceService) GenerateForAllTenants(ctx context.Context, period metering.BillingPeriod) (int, error) {
	tenants, err := s.tenantRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	created := 0
	for _, tenant := range tenants {
		for _, resource := range metering.AllResourceTypes() {
			_, err := s.GenerateInvoice(ctx, tenant.ID, resource, period)
			switch {
			case err == nil:
				created++
			case errors.Is(err, invoicing.ErrNoOverage),
				errors.Is(err, invoicing.ErrInvoiceAlreadyExists),
				errors.Is(err, identity.ErrResourceNotActive):
				// nothing to bill
			default:
				s.logger.Error("period-end billing failed for tenant",
					zap.String("tenant_id", tenant.ID.String()),
					zap.String("resource", resource.String()),
					zap.Error(err))
			}
		}
	}
	return created, nil
}
