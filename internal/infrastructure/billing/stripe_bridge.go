package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/invoice"
	"github.com/stripe/stripe-go/v81/invoiceitem"
	"go.uber.org/zap"

	appinvoicing "github.com/bookwell/backend/internal/application/invoicing"
	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/invoicing"
)

// StripeBridge mirrors local overage invoices to Stripe. It lazily
// creates a Stripe customer per tenant, creates a matching invoice with
// overage and tax line items, finalizes it and requests delivery.
type StripeBridge struct {
	config     *StripeConfig
	tenantRepo identity.TenantRepository
	logger     *zap.Logger
}

var _ appinvoicing.PaymentBridge = (*StripeBridge)(nil)

// NewStripeBridge creates a new Stripe payment bridge
func NewStripeBridge(config *StripeConfig, tenantRepo identity.TenantRepository, logger *zap.Logger) (*StripeBridge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.InitStripeClient()

	return &StripeBridge{
		config:     config,
		tenantRepo: tenantRepo,
		logger:     logger,
	}, nil
}

// PushInvoice mirrors a pending local invoice to Stripe and returns the
// Stripe invoice identifier. The local invoice is never mutated here;
// the caller records the returned identifier.
func (b *StripeBridge) PushInvoice(ctx context.Context, tenant *identity.Tenant, inv *invoicing.Invoice) (string, error) {
	if inv.Status != invoicing.InvoiceStatusPending {
		return "", invoicing.ErrInvoiceNotPending
	}

	customerID, err := b.ensureCustomer(ctx, tenant)
	if err != nil {
		return "", err
	}

	currency := strings.ToLower(string(inv.Currency))

	// Pending invoice items are swept into the invoice created below.
	overageItem := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(toCents(inv.Subtotal)),
		Currency:    stripe.String(currency),
		Description: stripe.String(inv.LineItemDescription()),
	}
	overageItem.Context = ctx
	if _, err := invoiceitem.New(overageItem); err != nil {
		return "", fmt.Errorf("stripe: failed to create overage line item: %w", err)
	}

	if inv.TaxAmount.IsPositive() {
		taxItem := &stripe.InvoiceItemParams{
			Customer:    stripe.String(customerID),
			Amount:      stripe.Int64(toCents(inv.TaxAmount)),
			Currency:    stripe.String(currency),
			Description: stripe.String(fmt.Sprintf("Tax (%s%%)", inv.TaxRate.StringFixed(0))),
		}
		taxItem.Context = ctx
		if _, err := invoiceitem.New(taxItem); err != nil {
			return "", fmt.Errorf("stripe: failed to create tax line item: %w", err)
		}
	}

	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(customerID),
		Currency:                    stripe.String(currency),
		CollectionMethod:            stripe.String("send_invoice"),
		DueDate:                     stripe.Int64(inv.DueDate.Unix()),
		PendingInvoiceItemsBehavior: stripe.String("include"),
	}
	params.Context = ctx
	params.Metadata = map[string]string{
		"invoice_number": inv.Number,
		"tenant_id":      inv.TenantID.String(),
		"resource":       string(inv.Resource),
	}

	remote, err := invoice.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create invoice: %w", err)
	}

	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finalizeParams.Context = ctx
	if _, err := invoice.FinalizeInvoice(remote.ID, finalizeParams); err != nil {
		return "", fmt.Errorf("stripe: failed to finalize invoice %s: %w", remote.ID, err)
	}

	// The remote invoice exists and is finalized at this point; a
	// delivery failure is retried by the provider, so the identifier
	// is still returned.
	sendParams := &stripe.InvoiceSendInvoiceParams{}
	sendParams.Context = ctx
	if _, err := invoice.SendInvoice(remote.ID, sendParams); err != nil {
		b.logger.Warn("Failed to request invoice delivery",
			zap.String("invoice_number", inv.Number),
			zap.String("stripe_invoice_id", remote.ID),
			zap.Error(err))
	}

	b.logger.Info("Pushed invoice to Stripe",
		zap.String("invoice_number", inv.Number),
		zap.String("stripe_invoice_id", remote.ID),
		zap.String("tenant_id", inv.TenantID.String()))

	return remote.ID, nil
}

// ensureCustomer returns the tenant's Stripe customer ID, creating the
// customer on first use.
func (b *StripeBridge) ensureCustomer(ctx context.Context, tenant *identity.Tenant) (string, error) {
	if tenant.StripeCustomerID != "" {
		return tenant.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Name: stripe.String(tenant.Name),
	}
	params.Context = ctx
	if tenant.ContactEmail != "" {
		params.Email = stripe.String(tenant.ContactEmail)
	}
	params.Metadata = map[string]string{
		"tenant_id":   tenant.ID.String(),
		"tenant_code": tenant.Code,
	}

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	tenant.SetStripeCustomerID(cust.ID)
	if err := b.tenantRepo.Save(ctx, tenant); err != nil {
		// The customer exists remotely even if recording it failed;
		// proceed so the invoice still reaches the tenant.
		b.logger.Warn("Failed to record Stripe customer ID",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("customer_id", cust.ID),
			zap.Error(err))
	}

	b.logger.Info("Created Stripe customer",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("customer_id", cust.ID))

	return cust.ID, nil
}

// toCents converts a two-decimal monetary amount to provider minor units
func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
