package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bookwell/backend/internal/domain/metering"
)

// InvoiceGenerator runs period-end overage billing for every active
// tenant and reports how many invoices were created.
type InvoiceGenerator interface {
	GenerateForAllTenants(ctx context.Context, period metering.BillingPeriod) (int, error)
}

// BillingSchedulerConfig holds configuration for the billing scheduler
type BillingSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// CheckInterval is how often the scheduler checks whether the
	// previous billing period still needs invoicing
	CheckInterval time.Duration

	// RunTimeout is the maximum time for one invoicing run
	RunTimeout time.Duration
}

// DefaultBillingSchedulerConfig returns default configuration
func DefaultBillingSchedulerConfig() BillingSchedulerConfig {
	return BillingSchedulerConfig{
		Enabled:       true,
		CheckInterval: time.Hour,
		RunTimeout:    30 * time.Minute,
	}
}

// BillingScheduler invoices the previous billing period once it closes.
// The generation run skips tenants already invoiced, so checking more
// often than periods roll over is harmless and re-running after a crash
// picks up where the last run stopped.
type BillingScheduler struct {
	generator InvoiceGenerator
	logger    *zap.Logger
	config    BillingSchedulerConfig
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// lastInvoiced is the start of the most recent period that
	// completed a generation run without error
	lastInvoiced time.Time
}

// NewBillingScheduler creates a new billing scheduler
func NewBillingScheduler(
	generator InvoiceGenerator,
	logger *zap.Logger,
	config BillingSchedulerConfig,
) *BillingScheduler {
	return &BillingScheduler{
		generator: generator,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// WithClock overrides the scheduler's time source. Test hook.
func (s *BillingScheduler) WithClock(now func() time.Time) *BillingScheduler {
	s.now = now
	return s
}

// Start starts the billing scheduler
func (s *BillingScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Billing scheduler is disabled")
		return nil
	}
	if s.config.CheckInterval <= 0 {
		s.mu.Unlock()
		return ErrInvalidConfig
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Billing scheduler started",
		zap.Duration("check_interval", s.config.CheckInterval),
		zap.Duration("run_timeout", s.config.RunTimeout),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *BillingScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Billing scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Billing scheduler stop timed out")
		return ctx.Err()
	}
}

// runLoop checks on an interval whether the previous period still
// needs an invoicing run
func (s *BillingScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	// Check immediately on start; a restart mid-month must not wait
	// a full interval to invoice a period that closed while down.
	s.checkAndRun(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Billing scheduler loop stopping")
			return
		case <-ticker.C:
			s.checkAndRun(ctx)
		}
	}
}

// checkAndRun invoices the previous period if it has not been done yet
func (s *BillingScheduler) checkAndRun(ctx context.Context) {
	period := metering.PreviousBillingPeriod(s.now())

	s.mu.Lock()
	alreadyDone := !period.Start.After(s.lastInvoiced) && !s.lastInvoiced.IsZero()
	s.mu.Unlock()
	if alreadyDone {
		return
	}

	if s.executeRun(ctx, period) {
		s.mu.Lock()
		s.lastInvoiced = period.Start
		s.mu.Unlock()
	}
}

// executeRun performs one invoicing run and reports success
func (s *BillingScheduler) executeRun(ctx context.Context, period metering.BillingPeriod) bool {
	s.logger.Info("Starting period-end invoicing run",
		zap.Time("period_start", period.Start),
		zap.Time("period_end", period.End),
	)

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	startTime := time.Now()
	created, err := s.generator.GenerateForAllTenants(runCtx, period)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Period-end invoicing run failed",
			zap.Time("period_start", period.Start),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return false
	}

	s.logger.Info("Period-end invoicing run completed",
		zap.Time("period_start", period.Start),
		zap.Duration("duration", duration),
		zap.Int("invoices_created", created),
	)
	return true
}

// TriggerImmediateRun invoices the previous period now, regardless of
// whether it was already invoiced. Generation is idempotent per
// (tenant, resource, period) so a forced re-run creates nothing new.
func (s *BillingScheduler) TriggerImmediateRun(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Triggering immediate invoicing run")

	go func() {
		defer s.wg.Done()
		period := metering.PreviousBillingPeriod(s.now())
		if s.executeRun(ctx, period) {
			s.mu.Lock()
			s.lastInvoiced = period.Start
			s.mu.Unlock()
		}
	}()

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *BillingScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
