package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/infrastructure/persistence/models"
)

// rolloverRetries bounds the read/insert/reset loop in GetOrInit.
// Losing more than a couple of races on a single call means something
// is structurally wrong, not just contended.
const rolloverRetries = 3

// GormMeteringStateRepository implements MeteringStateRepository using GORM.
// All mutations run optimistic compare-and-swap updates keyed on the row
// version, so the repository works identically on postgres and the
// in-memory sqlite used by tests.
type GormMeteringStateRepository struct {
	db *gorm.DB
}

// NewGormMeteringStateRepository creates a new GormMeteringStateRepository
func NewGormMeteringStateRepository(db *gorm.DB) *GormMeteringStateRepository {
	return &GormMeteringStateRepository{db: db}
}

// GetOrInit returns the counter row for (tenant, resource), creating it
// for currentPeriod on first use and rolling it over when the stored
// period is stale. Materialization races resolve through the unique
// (tenant, resource) index: the losing insert is a no-op and the loop
// re-reads the winner's row. Rollover races resolve through the version
// CAS: the loser re-reads and finds the row already reset.
func (r *GormMeteringStateRepository) GetOrInit(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType, currentPeriod time.Time) (*metering.MeteringState, error) {
	for attempt := 0; attempt < rolloverRetries; attempt++ {
		var model models.MeteringStateModel
		err := r.db.WithContext(ctx).
			Where("tenant_id = ? AND resource = ?", tenantID, resource.String()).
			First(&model).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			state, err := metering.NewMeteringState(tenantID, resource, currentPeriod)
			if err != nil {
				return nil, err
			}
			var fresh models.MeteringStateModel
			fresh.FromDomain(state)
			err = r.db.WithContext(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "resource"}},
					DoNothing: true,
				}).
				Create(&fresh).Error
			if err != nil {
				return nil, err
			}
			// Re-read: either our row or the one a concurrent
			// materialization won with.
			continue
		}
		if err != nil {
			return nil, err
		}

		state := model.ToDomain()
		if !state.NeedsReset(currentPeriod) {
			return state, nil
		}

		state.ResetForPeriod(currentPeriod)
		err = r.CompareAndSave(ctx, state)
		if err == nil {
			return state, nil
		}
		if !shared.IsConflict(err) {
			return nil, err
		}
	}
	return nil, shared.ErrTransient
}

// Find returns the stored counter row untouched, shared.ErrNotFound if
// the tenant has never used the resource.
func (r *GormMeteringStateRepository) Find(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType) (*metering.MeteringState, error) {
	var model models.MeteringStateModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND resource = ?", tenantID, resource.String()).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CompareAndSave persists the mutated state only if no other writer has
// advanced the row since it was loaded. The version guard in the WHERE
// clause is the entire concurrency story: zero affected rows means the
// caller lost the race and must reload.
func (r *GormMeteringStateRepository) CompareAndSave(ctx context.Context, state *metering.MeteringState) error {
	loadedVersion := state.Version
	newVersion := loadedVersion + 1

	result := r.db.WithContext(ctx).
		Model(&models.MeteringStateModel{}).
		Where("id = ? AND version = ?", state.ID, loadedVersion).
		Updates(map[string]interface{}{
			"units_used":      state.UnitsUsed,
			"overage_accrued": state.OverageAccrued,
			"period_start":    state.PeriodStart,
			"version":         newVersion,
			"updated_at":      state.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}

	state.Version = newVersion
	return nil
}

// ResetAccrued zeroes the accrued overage charge while the row still
// belongs to periodStart. The version bump forces any in-flight
// compare-and-save to reload, so a concurrent send cannot resurrect the
// settled charge from a stale copy.
func (r *GormMeteringStateRepository) ResetAccrued(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType, periodStart time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.MeteringStateModel{}).
		Where("tenant_id = ? AND resource = ? AND period_start = ?", tenantID, resource.String(), periodStart).
		Updates(map[string]interface{}{
			"overage_accrued": decimal.Zero,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now(),
		}).Error
}
