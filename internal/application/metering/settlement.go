package metering

import (
	"context"

	"go.uber.org/zap"

	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/metering"
)

// Settlement clears a tenant's accrued overage charge when the invoice
// covering it is paid.
type Settlement struct {
	stateRepo metering.MeteringStateRepository
	logger    *zap.Logger
}

// NewSettlement creates a new Settlement
func NewSettlement(stateRepo metering.MeteringStateRepository, logger *zap.Logger) *Settlement {
	return &Settlement{stateRepo: stateRepo, logger: logger}
}

// SettleAccrued resets the accrued overage charge on the counter backing
// the paid invoice. A counter that has already rolled over to a new
// period is a no-op: its charge was zeroed at rollover and anything
// accrued since belongs to the next invoice.
func (s *Settlement) SettleAccrued(ctx context.Context, invoice *invoicing.Invoice) error {
	s.logger.Debug("settling accrued overage",
		zap.String("tenant_id", invoice.TenantID.String()),
		zap.String("resource", invoice.Resource.String()))
	return s.stateRepo.ResetAccrued(ctx, invoice.TenantID, invoice.Resource, invoice.PeriodStart)
}
