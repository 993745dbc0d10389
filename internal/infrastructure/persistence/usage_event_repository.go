package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/infrastructure/persistence/models"
)

// GormUsageEventRepository implements UsageEventRepository using GORM.
// The ledger is append-only: the repository exposes no update or delete
// path and writers never conflict.
type GormUsageEventRepository struct {
	db *gorm.DB
}

// NewGormUsageEventRepository creates a new GormUsageEventRepository
func NewGormUsageEventRepository(db *gorm.DB) *GormUsageEventRepository {
	return &GormUsageEventRepository{db: db}
}

// Append writes one immutable ledger row
func (r *GormUsageEventRepository) Append(ctx context.Context, event *metering.UsageEvent) error {
	var model models.UsageEventModel
	model.FromDomain(event)
	return r.db.WithContext(ctx).Create(&model).Error
}

// ListByTenant returns a page of ledger rows, newest first, with the
// total row count for the filter.
func (r *GormUsageEventRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, filter metering.UsageEventFilter) ([]*metering.UsageEvent, int64, error) {
	filter.Filter = filter.Filter.Normalize()

	query := r.db.WithContext(ctx).
		Model(&models.UsageEventModel{}).
		Where("tenant_id = ?", tenantID)

	if filter.Resource != nil {
		query = query.Where("resource = ?", filter.Resource.String())
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("occurred_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.UsageEventModel
	err := query.
		Order("occurred_at DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	events := make([]*metering.UsageEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events, total, nil
}

// CountInPeriod returns the number of ledger rows for the tenant's
// resource within [from, to).
func (r *GormUsageEventRepository) CountInPeriod(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageEventModel{}).
		Where("tenant_id = ? AND resource = ? AND occurred_at >= ? AND occurred_at < ?",
			tenantID, resource.String(), from, to).
		Count(&count).Error
	return count, err
}
