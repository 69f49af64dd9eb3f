package provider

import (
	"context"
	"time"

	"github.com/apmoney/backend/pkg/logger"
)

// HealthChecker polls every active provider account's balance on an interval
// and records health and float so the router can exclude degraded providers.
type HealthChecker struct {
	accounts AccountRepository
	registry *Registry
	interval time.Duration
}

func NewHealthChecker(accounts AccountRepository, registry *Registry, interval time.Duration) *HealthChecker {
	return &HealthChecker{accounts: accounts, registry: registry, interval: interval}
}

func (h *HealthChecker) Start(ctx context.Context) {
	logger.Info("Starting provider health checker...", logger.Fields{"interval": h.interval.String()})
	go func() {
		h.RunOnce(ctx)

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.RunOnce(ctx)
			}
		}
	}()
}

func (h *HealthChecker) RunOnce(ctx context.Context) {
	accounts, err := h.accounts.ListActive()
	if err != nil {
		logger.Error("health check: failed to list provider accounts", logger.WithError(err))
		return
	}

	for _, account := range accounts {
		adapter := h.registry.Get(account.ProviderKey)

		checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		balance, err := adapter.GetBalance(checkCtx)
		cancel()

		if err != nil {
			logger.Error("provider health check failed", logger.Fields{
				logger.ProviderKey: account.ProviderKey,
				logger.ErrorKey:    err.Error(),
			})
			if err := h.accounts.UpdateHealth(account.ProviderKey, false, nil); err != nil {
				logger.Error("health check: failed to record unhealthy state", logger.WithError(err))
			}
			h.registry.ClearCache(account.ProviderKey)
			continue
		}

		if err := h.accounts.UpdateHealth(account.ProviderKey, true, &balance.Balance); err != nil {
			logger.Error("health check: failed to record healthy state", logger.WithError(err))
			continue
		}
		h.registry.ClearCache(account.ProviderKey)

		logger.Info("provider health OK", logger.Fields{
			logger.ProviderKey: account.ProviderKey,
			"balance":          balance.Balance,
			"currency":         balance.Currency,
		})
	}
}
