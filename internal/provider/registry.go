package provider

import (
	"encoding/json"
	"sync"

	"github.com/apmoney/backend/pkg/logger"
)

// Registry resolves provider keys to adapters. Static adapters are
// registered at startup; database-configured providers are instantiated from
// their account config with the generic adapter and cached until a health
// update invalidates them. Lookup never fails: unknown keys resolve to the
// sandbox.
type Registry struct {
	mu         sync.Mutex
	static     map[string]Adapter
	cache      map[string]Adapter
	accounts   AccountRepository
	production bool
}

func NewRegistry(accounts AccountRepository, production bool) *Registry {
	return &Registry{
		static:     make(map[string]Adapter),
		cache:      make(map[string]Adapter),
		accounts:   accounts,
		production: production,
	}
}

func (r *Registry) Register(key string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[key] = adapter
	delete(r.cache, key)
}

func (r *Registry) Get(providerKey string) Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.static[providerKey]; ok {
		return adapter
	}
	if adapter, ok := r.cache[providerKey]; ok {
		return adapter
	}

	adapter, err := r.loadFromAccount(providerKey)
	if err != nil {
		logger.Warn("provider not resolvable, using sandbox", logger.Fields{
			logger.ProviderKey: providerKey,
			logger.ErrorKey:    err.Error(),
		})
		return r.static[SandboxKey]
	}

	r.cache[providerKey] = adapter
	return adapter
}

// ClearCache drops cached database-configured adapters so config or health
// changes take effect on the next lookup.
func (r *Registry) ClearCache(providerKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if providerKey == "" {
		r.cache = make(map[string]Adapter)
		return
	}
	delete(r.cache, providerKey)
}

func (r *Registry) loadFromAccount(providerKey string) (Adapter, error) {
	account, err := r.accounts.FindByKey(providerKey)
	if err != nil {
		return nil, err
	}

	var cfg GenericConfig
	if err := json.Unmarshal([]byte(account.Config), &cfg); err != nil {
		return nil, err
	}

	logger.Info("loaded provider from account config", logger.Fields{
		logger.ProviderKey: providerKey,
		"balance":          account.Balance,
		"healthy":          account.IsHealthy,
	})
	return NewGeneric(providerKey, cfg, r.production), nil
}
