package invoicing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/shared"
)

// PaymentEventStatus is the resolution reported by the payment provider
type PaymentEventStatus string

const (
	PaymentSucceeded PaymentEventStatus = "succeeded"
	PaymentFailed    PaymentEventStatus = "failed"
)

// PaymentEvent is one verified payment-status notification. Signature
// verification happens in the payment bridge before an event is handed
// to the reconciliation handler; everything arriving here is trusted.
type PaymentEvent struct {
	// ID is the provider's event identifier, used for deduplication
	// of at-least-once delivery.
	ID string

	// RemoteInvoiceID keys the event to a local invoice. The provider
	// only knows its own identifiers, never local ones.
	RemoteInvoiceID string

	Status PaymentEventStatus
	PaidAt *time.Time
}

// ReconciliationResult reports what a payment event did to local state
type ReconciliationResult struct {
	EventID       string `json:"event_id"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Applied       bool   `json:"applied"`
	Message       string `json:"message,omitempty"`
}

// MeteringSettlement clears a tenant's accrued overage charge once the
// invoiced debt is paid.
type MeteringSettlement interface {
	SettleAccrued(ctx context.Context, invoice *invoicing.Invoice) error
}

// ReconciliationService applies payment-status events to local invoice
// state. It is idempotent under at-least-once delivery: duplicate
// events, events for already-resolved invoices and events for invoices
// this system never created are all acknowledged without effect.
type ReconciliationService struct {
	invoiceRepo invoicing.InvoiceRepository
	settlement  MeteringSettlement
	idempotency shared.IdempotencyStore
	idemConfig  shared.IdempotencyConfig
	logger      *zap.Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	invoiceRepo invoicing.InvoiceRepository,
	settlement MeteringSettlement,
	idempotency shared.IdempotencyStore,
	idemConfig shared.IdempotencyConfig,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		invoiceRepo: invoiceRepo,
		settlement:  settlement,
		idempotency: idempotency,
		idemConfig:  idemConfig,
		logger:      logger,
	}
}

// HandlePaymentEvent applies one verified payment event.
//
// State machine: pending --success--> paid (and the tenant's accrued
// overage charge is reset), pending --failure--> failed. Events against
// non-pending invoices are acknowledged no-ops. An unknown remote
// invoice identifier is logged and acknowledged, never raised: the
// stream is at-least-once and may reference invoices this system never
// created.
func (s *ReconciliationService) HandlePaymentEvent(ctx context.Context, event PaymentEvent) (*ReconciliationResult, error) {
	result := &ReconciliationResult{EventID: event.ID}

	if event.RemoteInvoiceID == "" {
		result.Message = "event has no invoice reference"
		return result, nil
	}

	if s.alreadyProcessed(ctx, event.ID) {
		s.logger.Debug("duplicate payment event ignored",
			zap.String("event_id", event.ID))
		result.Message = "duplicate event"
		return result, nil
	}

	invoice, err := s.invoiceRepo.FindByRemoteID(ctx, event.RemoteInvoiceID)
	if err != nil {
		if shared.IsNotFound(err) {
			// Expected for refunds and unrelated provider traffic.
			// Acknowledge so the provider stops retrying.
			s.logger.Warn("payment event for unknown invoice",
				zap.String("event_id", event.ID),
				zap.String("remote_invoice_id", event.RemoteInvoiceID))
			result.Message = "no matching invoice"
			return result, nil
		}
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}
	result.InvoiceNumber = invoice.Number

	if !invoice.IsPending() {
		s.logger.Debug("payment event for resolved invoice ignored",
			zap.String("event_id", event.ID),
			zap.String("invoice_number", invoice.Number),
			zap.String("status", invoice.Status.String()))
		result.Message = "invoice already resolved"
		return result, nil
	}

	switch event.Status {
	case PaymentSucceeded:
		paidAt := time.Now()
		if event.PaidAt != nil {
			paidAt = *event.PaidAt
		}
		if err := invoice.MarkPaid(paidAt); err != nil {
			return nil, err
		}
		if err := s.invoiceRepo.Update(ctx, invoice); err != nil {
			return nil, fmt.Errorf("failed to save paid invoice: %w", err)
		}
		if err := s.settlement.SettleAccrued(ctx, invoice); err != nil {
			// The invoice is settled; a failed counter reset is
			// corrected on the next rollover.
			s.logger.Error("failed to reset accrued overage after payment",
				zap.String("invoice_number", invoice.Number),
				zap.Error(err))
		}
		s.logger.Info("invoice paid",
			zap.String("invoice_number", invoice.Number),
			zap.String("remote_invoice_id", event.RemoteInvoiceID))

	case PaymentFailed:
		if err := invoice.MarkFailed(); err != nil {
			return nil, err
		}
		if err := s.invoiceRepo.Update(ctx, invoice); err != nil {
			return nil, fmt.Errorf("failed to save failed invoice: %w", err)
		}
		s.logger.Warn("invoice payment failed",
			zap.String("invoice_number", invoice.Number),
			zap.String("remote_invoice_id", event.RemoteInvoiceID))

	default:
		result.Message = "unhandled payment status"
		return result, nil
	}

	s.claimProcessed(ctx, event.ID)
	result.Applied = true
	return result, nil
}

// alreadyProcessed reports whether an earlier delivery of the event was
// applied. The claim is only written after the invoice transition is
// durable, so a delivery that failed mid-apply leaves the event
// unclaimed and the provider's redelivery runs the full state machine
// again.
func (s *ReconciliationService) alreadyProcessed(ctx context.Context, eventID string) bool {
	if !s.idemConfig.Enabled || s.idempotency == nil || eventID == "" {
		return false
	}
	seen, err := s.idempotency.IsProcessed(ctx, eventID)
	if err != nil {
		// Dedup store being down must not stall settlement; the
		// invoice state machine is idempotent on its own.
		s.logger.Warn("idempotency store unavailable, relying on state machine",
			zap.String("event_id", eventID),
			zap.Error(err))
		return false
	}
	return seen
}

// claimProcessed records the event as applied. Best effort: a failed
// write means a redelivery reaches the state machine, which no-ops on
// the already-resolved invoice.
func (s *ReconciliationService) claimProcessed(ctx context.Context, eventID string) {
	if !s.idemConfig.Enabled || s.idempotency == nil || eventID == "" {
		return
	}
	if _, err := s.idempotency.MarkProcessed(ctx, eventID, s.idemConfig.TTL); err != nil {
		s.logger.Warn("failed to record processed payment event",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}
