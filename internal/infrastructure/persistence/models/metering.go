package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bookwell/backend/internal/domain/metering"
)

// MeteringStateModel is the persistence model for the per-tenant usage
// counter. One row per (tenant, resource); the unique index backs the
// lazy materialization's conflict-free insert.
type MeteringStateModel struct {
	AggregateModel
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_metering_state_tenant_resource,priority:1"`
	Resource       string          `gorm:"size:20;not null;uniqueIndex:idx_metering_state_tenant_resource,priority:2"`
	UnitsUsed      int64           `gorm:"not null;default:0"`
	OverageAccrued decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	PeriodStart    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MeteringStateModel) TableName() string {
	return "metering_states"
}

// ToDomain converts the persistence model to a domain MeteringState
func (m *MeteringStateModel) ToDomain() *metering.MeteringState {
	return &metering.MeteringState{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		TenantID:          m.TenantID,
		Resource:          metering.ResourceType(m.Resource),
		UnitsUsed:         m.UnitsUsed,
		OverageAccrued:    m.OverageAccrued,
		PeriodStart:       m.PeriodStart,
	}
}

// FromDomain populates the persistence model from a domain MeteringState
func (m *MeteringStateModel) FromDomain(s *metering.MeteringState) {
	m.FromDomainAggregateRoot(s.BaseAggregateRoot)
	m.TenantID = s.TenantID
	m.Resource = s.Resource.String()
	m.UnitsUsed = s.UnitsUsed
	m.OverageAccrued = s.OverageAccrued
	m.PeriodStart = s.PeriodStart
}

// UsageEventModel is the persistence model for the append-only usage
// ledger. Rows are inserted once and never updated.
type UsageEventModel struct {
	BaseModel
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_usage_event_tenant_occurred,priority:1"`
	Resource         string          `gorm:"size:20;not null;index"`
	Kind             string          `gorm:"size:20;not null"`
	Recipient        string          `gorm:"size:200;not null"`
	CountedAsOverage bool            `gorm:"not null;default:false"`
	Cost             decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	OccurredAt       time.Time       `gorm:"not null;index:idx_usage_event_tenant_occurred,priority:2"`
}

// TableName returns the table name for GORM
func (UsageEventModel) TableName() string {
	return "usage_events"
}

// ToDomain converts the persistence model to a domain UsageEvent
func (m *UsageEventModel) ToDomain() *metering.UsageEvent {
	return &metering.UsageEvent{
		BaseEntity:       m.BaseModel.ToDomain(),
		TenantID:         m.TenantID,
		Resource:         metering.ResourceType(m.Resource),
		Kind:             metering.UsageEventKind(m.Kind),
		Recipient:        m.Recipient,
		CountedAsOverage: m.CountedAsOverage,
		Cost:             m.Cost,
		OccurredAt:       m.OccurredAt,
	}
}

// FromDomain populates the persistence model from a domain UsageEvent
func (m *UsageEventModel) FromDomain(e *metering.UsageEvent) {
	m.FromDomainBaseEntity(e.BaseEntity)
	m.TenantID = e.TenantID
	m.Resource = e.Resource.String()
	m.Kind = string(e.Kind)
	m.Recipient = e.Recipient
	m.CountedAsOverage = e.CountedAsOverage
	m.Cost = e.Cost
	m.OccurredAt = e.OccurredAt
}
