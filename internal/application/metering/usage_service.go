package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/domain/shared"
)

// ErrTenantNotActive is returned when a suspended or inactive tenant
// attempts to consume a metered resource.
var ErrTenantNotActive = shared.NewDomainError("TENANT_NOT_ACTIVE", "Tenant is not active")

// RecordSendInput carries one send attempt into the metering engine
type RecordSendInput struct {
	TenantID  uuid.UUID
	Resource  metering.ResourceType
	Kind      metering.UsageEventKind
	Recipient string
}

// RecordSendResult is what the caller learns about the processed send
type RecordSendResult struct {
	EventID         uuid.UUID       `json:"event_id"`
	IsOverage       bool            `json:"is_overage"`
	IncrementalCost decimal.Decimal `json:"incremental_cost"`
	NewTotal        int64           `json:"new_total"`
	Remaining       int64           `json:"remaining"`
}

// UsageSummaryDTO aggregates the current period's usage across all
// resources the tenant has enabled.
type UsageSummaryDTO struct {
	TenantID    uuid.UUID            `json:"tenant_id"`
	PeriodStart time.Time            `json:"period_start"`
	PeriodEnd   time.Time            `json:"period_end"`
	Resources   []metering.UsageView `json:"resources"`
}

// UsageServiceConfig contains configuration for UsageService
type UsageServiceConfig struct {
	// MaxSaveRetries bounds how many times a lost optimistic-lock race
	// is retried before the send is rejected as transient.
	MaxSaveRetries int
}

// DefaultUsageServiceConfig returns default configuration
func DefaultUsageServiceConfig() UsageServiceConfig {
	return UsageServiceConfig{MaxSaveRetries: 5}
}

// UsageService is the application entry point for metered sends and
// usage queries. All counter mutations run through an optimistic
// read-modify-write cycle so concurrent sends for the same tenant are
// serialized without database locks.
type UsageService struct {
	tenantRepo identity.TenantRepository
	stateRepo  metering.MeteringStateRepository
	eventRepo  metering.UsageEventRepository
	logger     *zap.Logger
	retries    int
	now        func() time.Time
}

// NewUsageService creates a new UsageService
func NewUsageService(
	tenantRepo identity.TenantRepository,
	stateRepo metering.MeteringStateRepository,
	eventRepo metering.UsageEventRepository,
	logger *zap.Logger,
	config UsageServiceConfig,
) *UsageService {
	if config.MaxSaveRetries < 1 {
		config.MaxSaveRetries = DefaultUsageServiceConfig().MaxSaveRetries
	}
	return &UsageService{
		tenantRepo: tenantRepo,
		stateRepo:  stateRepo,
		eventRepo:  eventRepo,
		logger:     logger,
		retries:    config.MaxSaveRetries,
		now:        time.Now,
	}
}

// WithClock overrides the service clock, used by tests to pin the
// billing period.
func (s *UsageService) WithClock(now func() time.Time) *UsageService {
	s.now = now
	return s
}

// RecordSend counts one send against the tenant's counter, classifies
// it against the effective limit and appends a ledger entry. The
// counter commit is the billing source of truth; the ledger append is
// reported but never rolls the counter back.
func (s *UsageService) RecordSend(ctx context.Context, input RecordSendInput) (*RecordSendResult, error) {
	tenant, limit, rate, err := s.resolveTenant(ctx, input.TenantID, input.Resource)
	if err != nil {
		return nil, err
	}

	event, err := metering.NewUsageEvent(tenant.ID, input.Resource, input.Kind, input.Recipient)
	if err != nil {
		return nil, err
	}

	var outcome metering.SendOutcome
	saved := false
	for attempt := 0; attempt < s.retries; attempt++ {
		currentPeriod := metering.CurrentPeriodStart(s.now())

		state, err := s.stateRepo.GetOrInit(ctx, tenant.ID, input.Resource, currentPeriod)
		if err != nil {
			return nil, fmt.Errorf("failed to load usage counter: %w", err)
		}

		outcome = state.ApplySend(limit, rate)

		err = s.stateRepo.CompareAndSave(ctx, state)
		if err == nil {
			saved = true
			break
		}
		if !shared.IsConflict(err) {
			return nil, fmt.Errorf("failed to save usage counter: %w", err)
		}

		s.logger.Debug("usage counter conflict, retrying",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("resource", input.Resource.String()),
			zap.Int("attempt", attempt+1))
	}
	if !saved {
		s.logger.Warn("usage counter contention exhausted retries",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("resource", input.Resource.String()),
			zap.Int("retries", s.retries))
		return nil, fmt.Errorf("usage counter contention for tenant %s: %w", tenant.ID, shared.ErrTransient)
	}

	event.WithOutcome(outcome)
	if err := s.eventRepo.Append(ctx, event); err != nil {
		// The send is already billed. A missing ledger row is an audit
		// gap, not a billing error, so surface it in the logs only.
		s.logger.Error("failed to append usage event",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
	}

	if outcome.IsOverage {
		s.logger.Info("overage send recorded",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("resource", input.Resource.String()),
			zap.Int64("new_total", outcome.NewTotal),
			zap.String("incremental_cost", outcome.IncrementalCost.StringFixed(2)))
	}

	return &RecordSendResult{
		EventID:         event.ID,
		IsOverage:       outcome.IsOverage,
		IncrementalCost: outcome.IncrementalCost,
		NewTotal:        outcome.NewTotal,
		Remaining:       outcome.Remaining,
	}, nil
}

// GetUsage returns the tenant's current-period usage picture for one
// resource.
func (s *UsageService) GetUsage(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType) (*metering.UsageView, error) {
	tenant, limit, rate, err := s.resolveTenant(ctx, tenantID, resource)
	if err != nil {
		return nil, err
	}

	currentPeriod := metering.CurrentPeriodStart(s.now())
	state, err := s.stateRepo.GetOrInit(ctx, tenant.ID, resource, currentPeriod)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage counter: %w", err)
	}

	view := metering.ComputeUsageView(state.Snapshot(), limit, rate)
	return &view, nil
}

// GetUsageSummary returns the current-period usage for every resource
// the tenant has enabled. Resources without an active package are
// omitted rather than reported as errors.
func (s *UsageService) GetUsageSummary(ctx context.Context, tenantID uuid.UUID) (*UsageSummaryDTO, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	period := metering.BillingPeriodFor(s.now())
	summary := &UsageSummaryDTO{
		TenantID:    tenant.ID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Resources:   make([]metering.UsageView, 0, len(metering.AllResourceTypes())),
	}

	for _, resource := range metering.AllResourceTypes() {
		limit, rate, err := tenant.EffectiveLimit(resource)
		if err != nil {
			continue
		}

		state, err := s.stateRepo.GetOrInit(ctx, tenant.ID, resource, period.Start)
		if err != nil {
			return nil, fmt.Errorf("failed to load usage counter: %w", err)
		}
		summary.Resources = append(summary.Resources, metering.ComputeUsageView(state.Snapshot(), limit, rate))
	}

	return summary, nil
}

// ListEvents returns a page of the tenant's usage ledger, newest first
func (s *UsageService) ListEvents(ctx context.Context, tenantID uuid.UUID, filter metering.UsageEventFilter) (*shared.Paginated[*metering.UsageEvent], error) {
	filter.Filter = filter.Filter.Normalize()

	events, total, err := s.eventRepo.ListByTenant(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}

	page := shared.NewPaginated(events, total, filter.Page, filter.PageSize)
	return &page, nil
}

// resolveTenant loads an active tenant and the limit and rate governing
// the resource.
func (s *UsageService) resolveTenant(ctx context.Context, tenantID uuid.UUID, resource metering.ResourceType) (*identity.Tenant, int64, decimal.Decimal, error) {
	if !resource.IsValid() {
		return nil, 0, decimal.Zero, shared.NewDomainError("INVALID_RESOURCE_TYPE", "Invalid resource type")
	}

	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		return nil, 0, decimal.Zero, err
	}
	if !tenant.IsActive() {
		return nil, 0, decimal.Zero, ErrTenantNotActive
	}

	limit, rate, err := tenant.EffectiveLimit(resource)
	if err != nil {
		return nil, 0, decimal.Zero, err
	}
	return tenant, limit, rate, nil
}
