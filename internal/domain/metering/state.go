package metering

import (
	"time"

	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MeteringState is the per-tenant, per-resource usage counter for the
// current billing period. It is the one hot shared mutable row in the
// subsystem; all read-modify-write cycles go through optimistic
// concurrency control in the repository.
type MeteringState struct {
	shared.BaseAggregateRoot
	TenantID       uuid.UUID
	Resource       ResourceType
	UnitsUsed      int64
	OverageAccrued decimal.Decimal
	PeriodStart    time.Time
}

// NewMeteringState creates a fresh counter for the given period
func NewMeteringState(tenantID uuid.UUID, resource ResourceType, periodStart time.Time) (*MeteringState, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !resource.IsValid() {
		return nil, shared.NewDomainError("INVALID_RESOURCE_TYPE", "Invalid resource type")
	}
	return &MeteringState{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		TenantID:          tenantID,
		Resource:          resource,
		UnitsUsed:         0,
		OverageAccrued:    decimal.Zero,
		PeriodStart:       periodStart,
	}, nil
}

// NeedsReset reports whether the stored period is older than the
// canonical current one. PeriodStart is monotonically non-decreasing, so
// only a strictly earlier stored period triggers a rollover.
func (s *MeteringState) NeedsReset(currentPeriodStart time.Time) bool {
	return s.PeriodStart.Before(currentPeriodStart)
}

// ResetForPeriod zeroes the counters and advances the period start
func (s *MeteringState) ResetForPeriod(periodStart time.Time) {
	s.UnitsUsed = 0
	s.OverageAccrued = decimal.Zero
	s.PeriodStart = periodStart
	s.UpdatedAt = time.Now()
}

// SendOutcome is the result of counting one send attempt
type SendOutcome struct {
	IsOverage       bool
	IncrementalCost decimal.Decimal
	NewTotal        int64
	Remaining       int64
}

// ApplySend counts one send against the state. When the new total
// exceeds the configured limit the per-unit overage rate is added to the
// accrued charge. The caller persists the mutated state with a
// compare-and-save so concurrent sends for the same tenant never lose an
// increment.
func (s *MeteringState) ApplySend(limit int64, overageRate decimal.Decimal) SendOutcome {
	s.UnitsUsed++
	s.UpdatedAt = time.Now()

	outcome := SendOutcome{
		NewTotal:        s.UnitsUsed,
		IncrementalCost: decimal.Zero,
	}

	if s.UnitsUsed > limit {
		outcome.IsOverage = true
		outcome.IncrementalCost = overageRate
		s.OverageAccrued = s.OverageAccrued.Add(overageRate)
	}

	remaining := limit - s.UnitsUsed
	if remaining < 0 {
		remaining = 0
	}
	outcome.Remaining = remaining

	return outcome
}

// ResetAccrued zeroes the accrued overage charge after the debt has been
// settled by a successful payment.
func (s *MeteringState) ResetAccrued() {
	s.OverageAccrued = decimal.Zero
	s.UpdatedAt = time.Now()
}

// Snapshot returns an immutable view of the counters
func (s *MeteringState) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		TenantID:       s.TenantID,
		Resource:       s.Resource,
		UnitsUsed:      s.UnitsUsed,
		OverageAccrued: s.OverageAccrued,
		PeriodStart:    s.PeriodStart,
	}
}

// CounterSnapshot is a point-in-time copy of a tenant's counters
type CounterSnapshot struct {
	TenantID       uuid.UUID
	Resource       ResourceType
	UnitsUsed      int64
	OverageAccrued decimal.Decimal
	PeriodStart    time.Time
}
