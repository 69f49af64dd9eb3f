package provider

import (
	"context"

	"github.com/apmoney/backend/pkg/logger"
)

// Candidate is one routable provider for an operator, carrying the data the
// router filters and orders on.
type Candidate struct {
	ProviderKey string
	Priority    int
	MinAmount   int64
	MaxAmount   int64
	IsHealthy   bool
	Balance     int64
}

// Attempt records the outcome of a sequential provider run.
type Attempt struct {
	Result      *ChargeResult
	ProviderKey string
	Tried       []string
	Errors      []string
}

// CandidateSource supplies dynamic operator->provider mappings. Implemented
// by AccountRepository against the database and by fakes in tests.
type CandidateSource interface {
	CandidatesFor(operatorCode string) ([]Candidate, error)
}

// staticRouting is the fallback when no dynamic mapping rows exist.
var staticRouting = map[string][]string{
	"AIRTEL": {"generic", SandboxKey},
	"JIO":    {"generic", SandboxKey},
	"VI":     {"generic", SandboxKey},
	"BSNL":   {"generic", SandboxKey},
	"MTNL":   {"generic", SandboxKey},
}

type Router struct {
	source   CandidateSource
	registry *Registry
}

func NewRouter(source CandidateSource, registry *Registry) *Router {
	return &Router{source: source, registry: registry}
}

// ProvidersFor returns the ordered candidate list for an operator and amount:
// dynamic mappings filtered by amount limits, health and float balance,
// highest priority first; the static map when no dynamic row qualifies; the
// sandbox as last resort. Never empty.
func (r *Router) ProvidersFor(ctx context.Context, operatorCode string, amount int64) []Candidate {
	candidates, err := r.source.CandidatesFor(operatorCode)
	if err != nil {
		logger.Error("router: candidate lookup failed", logger.Fields{
			"operator_code": operatorCode,
			logger.ErrorKey: err.Error(),
		})
		candidates = nil
	}

	valid := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if amount < c.MinAmount || amount > c.MaxAmount {
			continue
		}
		if !c.IsHealthy || c.Balance < amount {
			continue
		}
		valid = append(valid, c)
	}

	// CandidatesFor returns priority-ordered rows; keep that order.
	if len(valid) > 0 {
		return valid
	}

	keys, ok := staticRouting[operatorCode]
	if !ok {
		keys = []string{SandboxKey}
	}
	logger.Info("router: using static routing", logger.Fields{
		"operator_code": operatorCode,
		"providers":     keys,
	})

	fallback := make([]Candidate, 0, len(keys))
	for _, key := range keys {
		fallback = append(fallback, Candidate{
			ProviderKey: key,
			Priority:    1,
			MinAmount:   1,
			MaxAmount:   1000000000,
			IsHealthy:   true,
			Balance:     1000000000,
		})
	}
	return fallback
}

// AttemptSequentially charges each candidate in order. A retryable error
// advances to the next candidate and is recorded; a definitive provider
// response or a non-retryable error stops the sequence. The returned error is
// non-nil only when no candidate produced a definitive response: retryable if
// every failure was transient (the job should back off and retry), otherwise
// the terminal error that stopped the run.
func (r *Router) AttemptSequentially(ctx context.Context, candidates []Candidate, req ChargeRequest) (Attempt, error) {
	attempt := Attempt{}

	var lastErr error
	for _, c := range candidates {
		adapter := r.registry.Get(c.ProviderKey)
		attempt.Tried = append(attempt.Tried, c.ProviderKey)

		result, err := adapter.Charge(ctx, req)
		if err == nil {
			attempt.Result = result
			attempt.ProviderKey = c.ProviderKey
			return attempt, nil
		}

		attempt.Errors = append(attempt.Errors, err.Error())
		lastErr = err

		if !IsRetryable(err) {
			logger.Warn("router: terminal provider error", logger.Fields{
				logger.ProviderKey: c.ProviderKey,
				logger.TxnRefKey:   req.TxnRef,
				logger.ErrorKey:    err.Error(),
			})
			return attempt, err
		}

		logger.Warn("router: retryable provider error, trying next candidate", logger.Fields{
			logger.ProviderKey: c.ProviderKey,
			logger.TxnRefKey:   req.TxnRef,
			logger.ErrorKey:    err.Error(),
		})
	}

	if lastErr == nil {
		lastErr = &Error{Provider: "router", Code: "no_candidates", Retryable: true}
	}
	return attempt, lastErr
}
