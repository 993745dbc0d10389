package metering

import (
	"time"

	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageEventKind describes what triggered a send attempt
type UsageEventKind string

const (
	// UsageEventSend is a regular outbound delivery
	UsageEventSend UsageEventKind = "send"

	// UsageEventReminder is an automated booking reminder
	UsageEventReminder UsageEventKind = "reminder"

	// UsageEventCampaign is a marketing campaign delivery
	UsageEventCampaign UsageEventKind = "campaign"
)

// IsValid returns true if the event kind is known
func (k UsageEventKind) IsValid() bool {
	switch k {
	case UsageEventSend, UsageEventReminder, UsageEventCampaign:
		return true
	}
	return false
}

// UsageEvent is one immutable ledger row per send attempt. Events are
// append-only: corrections are made with new events, never by mutating
// history, so the ledger stays a complete audit trail.
type UsageEvent struct {
	shared.BaseEntity
	TenantID         uuid.UUID
	Resource         ResourceType
	Kind             UsageEventKind
	Recipient        string
	CountedAsOverage bool
	Cost             decimal.Decimal
	OccurredAt       time.Time
}

// NewUsageEvent creates a validated ledger entry for a single send
func NewUsageEvent(
	tenantID uuid.UUID,
	resource ResourceType,
	kind UsageEventKind,
	recipient string,
) (*UsageEvent, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !resource.IsValid() {
		return nil, shared.NewDomainError("INVALID_RESOURCE_TYPE", "Invalid resource type")
	}
	if kind == "" {
		kind = UsageEventSend
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_EVENT_KIND", "Invalid usage event kind")
	}
	if recipient == "" {
		return nil, shared.NewDomainError("INVALID_RECIPIENT", "Recipient cannot be empty")
	}

	return &UsageEvent{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Resource:   resource,
		Kind:       kind,
		Recipient:  recipient,
		Cost:       decimal.Zero,
		OccurredAt: time.Now(),
	}, nil
}

// WithOutcome records how the counter store classified this send
func (e *UsageEvent) WithOutcome(outcome SendOutcome) *UsageEvent {
	e.CountedAsOverage = outcome.IsOverage
	e.Cost = outcome.IncrementalCost
	return e
}
