package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appinvoicing "github.com/bookwell/backend/internal/application/invoicing"
	appmetering "github.com/bookwell/backend/internal/application/metering"
	"github.com/bookwell/backend/internal/domain/identity"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/domain/shared/valueobject"
	"github.com/bookwell/backend/internal/infrastructure/billing"
	"github.com/bookwell/backend/internal/infrastructure/cache"
	"github.com/bookwell/backend/internal/infrastructure/config"
	"github.com/bookwell/backend/internal/infrastructure/logger"
	"github.com/bookwell/backend/internal/infrastructure/persistence"
	"github.com/bookwell/backend/internal/infrastructure/scheduler"
	"github.com/bookwell/backend/internal/interfaces/http/handler"
	"github.com/bookwell/backend/internal/interfaces/http/middleware"
	"github.com/bookwell/backend/internal/interfaces/http/router"
)

func main() {
	var seedTenant string
	flag.StringVar(&seedTenant, "seed-tenant", "", "Create a tenant as CODE:Name with the configured billing defaults, then continue serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("starting usage metering service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("currency", cfg.Billing.Currency),
		zap.Int("tax_rate_percent", cfg.Billing.TaxRatePercent),
		zap.Int64("email_free_limit", cfg.Billing.EmailFreeLimit))

	db, err := persistence.NewDatabaseWithGormLogger(&cfg.Database,
		logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level)))
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", zap.Error(err))
		}
	}()

	// Production schemas are managed by cmd/migrate; development setups
	// sync the schema directly.
	if cfg.App.Env != "production" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("failed to migrate database schema", zap.Error(err))
		}
	}

	idemStore := newIdempotencyStore(cfg, log)
	defer func() { _ = idemStore.Close() }()

	tenantRepo := persistence.NewGormTenantRepository(db.DB)
	stateRepo := persistence.NewGormMeteringStateRepository(db.DB)
	eventRepo := persistence.NewGormUsageEventRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)

	if seedTenant != "" {
		if err := seedTenantFromFlag(tenantRepo, cfg, seedTenant); err != nil {
			log.Fatal("failed to seed tenant", zap.Error(err))
		}
		log.Info("tenant seeded", zap.String("spec", seedTenant))
	}

	usageService := appmetering.NewUsageService(tenantRepo, stateRepo, eventRepo, log,
		appmetering.UsageServiceConfig{MaxSaveRetries: cfg.Billing.MaxSaveRetries})

	var bridge appinvoicing.PaymentBridge
	var verifier *billing.WebhookVerifier
	if cfg.Stripe.Enabled {
		stripeCfg := &billing.StripeConfig{
			SecretKey:     cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			IsTestMode:    cfg.App.Env != "production",
		}
		stripeBridge, err := billing.NewStripeBridge(stripeCfg, tenantRepo, log)
		if err != nil {
			log.Fatal("failed to initialize payment bridge", zap.Error(err))
		}
		bridge = stripeBridge
		verifier = billing.NewWebhookVerifier(stripeCfg, log)
	} else {
		log.Warn("payment provider disabled; invoices stay local and the webhook endpoint is not mounted")
	}

	invoiceService := appinvoicing.NewInvoiceService(tenantRepo, stateRepo, eventRepo, invoiceRepo, bridge, log)

	reconciliation := appinvoicing.NewReconciliationService(
		invoiceRepo,
		appmetering.NewSettlement(stateRepo, log),
		idemStore,
		shared.IdempotencyConfig{Enabled: cfg.Idempotency.Enabled, TTL: cfg.Idempotency.TTL},
		log,
	)

	billingScheduler := scheduler.NewBillingScheduler(invoiceService, log, scheduler.BillingSchedulerConfig{
		Enabled:       cfg.Scheduler.Enabled,
		CheckInterval: cfg.Scheduler.CheckInterval,
		RunTimeout:    cfg.Scheduler.RunTimeout,
	})
	if err := billingScheduler.Start(context.Background()); err != nil {
		log.Fatal("failed to start billing scheduler", zap.Error(err))
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("invalid trusted proxy configuration", zap.Error(err))
	}
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.TenantMiddleware(),
	)

	engine.GET("/health", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r := router.NewRouter(engine)
	r.Register(handler.NewUsageHandler(usageService))
	r.Register(handler.NewInvoiceHandler(invoiceService))
	if verifier != nil {
		r.RegisterWebhook(handler.NewWebhookHandler(verifier, reconciliation, log))
	}
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := billingScheduler.Stop(shutdownCtx); err != nil {
		log.Error("billing scheduler did not stop cleanly", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server did not stop cleanly", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// newIdempotencyStore connects to Redis for webhook deduplication,
// falling back to the in-process store when Redis is unreachable.
// Dedup is best-effort; settlement itself is idempotent.
func newIdempotencyStore(cfg *config.Config, log *zap.Logger) shared.IdempotencyStore {
	if !cfg.Idempotency.Enabled {
		return cache.NewInMemoryIdempotencyStore()
	}

	store, err := cache.NewRedisIdempotencyStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("redis unavailable, using in-memory webhook deduplication", zap.Error(err))
		return cache.NewInMemoryIdempotencyStore()
	}
	return store
}

// seedTenantFromFlag creates a tenant from a CODE:Name flag value using
// the configured billing defaults
func seedTenantFromFlag(repo identity.TenantRepository, cfg *config.Config, spec string) error {
	code, name, ok := strings.Cut(spec, ":")
	if !ok || code == "" || name == "" {
		return fmt.Errorf("invalid seed spec %q, expected CODE:Name", spec)
	}

	tenant, err := identity.NewTenant(code, name)
	if err != nil {
		return err
	}

	emailRate, err := decimal.NewFromString(cfg.Billing.EmailOverageRate)
	if err != nil {
		return fmt.Errorf("invalid email overage rate: %w", err)
	}
	smsRate, err := decimal.NewFromString(cfg.Billing.SMSOverageRate)
	if err != nil {
		return fmt.Errorf("invalid sms overage rate: %w", err)
	}

	tenant.Billing.Currency = valueobject.Currency(cfg.Billing.Currency)
	tenant.Billing.TaxRate = decimal.NewFromInt(int64(cfg.Billing.TaxRatePercent))
	tenant.Billing.EmailLimit = cfg.Billing.EmailFreeLimit
	tenant.Billing.EmailOverageRate = emailRate
	tenant.Billing.SMSOverageRate = smsRate

	return repo.Save(context.Background(), tenant)
}
