package metering

import (
	"context"
	"time"

	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// MeteringStateRepository persists per-tenant usage counters.
//
// GetOrInit must behave as a single atomic unit: lazily materialize the
// row on first access (conditional insert, never racing another
// materialization) and, when the stored period predates currentPeriod,
// apply the period rollover reset before returning the snapshot. Two
// concurrent callers must never both observe a pre-reset row or apply
// the reset twice.
type MeteringStateRepository interface {
	// GetOrInit returns the counter row for (tenant, resource),
	// creating it for currentPeriod if absent and rolling it over to
	// currentPeriod if stale.
	GetOrInit(ctx context.Context, tenantID uuid.UUID, resource ResourceType, currentPeriod time.Time) (*MeteringState, error)

	// Find returns the counter row as stored, without materializing or
	// rolling it over; shared.ErrNotFound when the tenant has never
	// used the resource. Period-end billing reads closed periods this
	// way so the read itself cannot reset the row.
	Find(ctx context.Context, tenantID uuid.UUID, resource ResourceType) (*MeteringState, error)

	// CompareAndSave persists a mutated state only when the stored
	// version still matches the one the state was loaded with. Returns
	// shared.ErrConcurrencyConflict when another writer got there
	// first; callers reload and retry.
	CompareAndSave(ctx context.Context, state *MeteringState) error

	// ResetAccrued zeroes the accrued overage charge for the tenant's
	// resource counter, used when a payment settles the debt. The
	// reset only applies while the row still holds periodStart; a row
	// that rolled over already had its charge zeroed and must keep
	// whatever the new period has accrued since. Missing rows are a
	// no-op.
	ResetAccrued(ctx context.Context, tenantID uuid.UUID, resource ResourceType, periodStart time.Time) error
}

// UsageEventFilter narrows ledger listings
type UsageEventFilter struct {
	shared.Filter
	Resource *ResourceType
	From     *time.Time
	To       *time.Time
}

// UsageEventRepository is the append-only usage ledger. There is
// deliberately no update or delete operation.
type UsageEventRepository interface {
	// Append writes one immutable ledger row
	Append(ctx context.Context, event *UsageEvent) error

	// ListByTenant returns a page of ledger rows ordered by occurrence
	// time, newest first, with the total row count for the filter.
	ListByTenant(ctx context.Context, tenantID uuid.UUID, filter UsageEventFilter) ([]*UsageEvent, int64, error)

	// CountInPeriod returns the number of ledger rows for the tenant's
	// resource within [from, to), used for audit cross-checks against
	// the counter row.
	CountInPeriod(ctx context.Context, tenantID uuid.UUID, resource ResourceType, from, to time.Time) (int64, error)
}
