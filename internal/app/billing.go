package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lexledger/lexledger/internal/billing"
	"github.com/lexledger/lexledger/internal/lock"
	"github.com/lexledger/lexledger/internal/platform/cache"
	"github.com/lexledger/lexledger/internal/shared"
)

// BillingDeps are the process resources the billing service runs on.
// Optional collaborators may be left nil.
type BillingDeps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Logger   *slog.Logger
	Notifier billing.Notifier
	Metrics  billing.Metrics
	Renderer billing.PDFRenderer
}

// NewBillingService assembles the billing service used by every binary.
func NewBillingService(cfg *Config, deps BillingDeps) *billing.Service {
	var locker lock.Locker
	if deps.Redis != nil {
		locker = lock.NewRedisLocker(deps.Redis, cfg.BillingLockTTL, cfg.BillingLockWait)
	} else {
		locker = lock.NewLocalLocker(cfg.BillingLockWait)
	}
	svcCfg := billing.ServiceConfig{
		Notifier:       deps.Notifier,
		Audit:          shared.NewAuditLogger(deps.Pool),
		Idempotency:    shared.NewIdempotencyStore(deps.Pool),
		Metrics:        deps.Metrics,
		Renderer:       deps.Renderer,
		Logger:         deps.Logger,
		Currency:       cfg.BillingCurrency,
		DefaultDueDays: cfg.BillingDefaultDueDays,
		DefaultTerms:   cfg.BillingDefaultTerms,
	}
	if deps.Redis != nil && cfg.BillingSummaryCacheTTL > 0 {
		svcCfg.Cache = cache.NewVersioned(deps.Redis, "billing", cfg.BillingSummaryCacheTTL)
	}
	return billing.NewService(billing.NewRepository(deps.Pool), locker, svcCfg)
}
