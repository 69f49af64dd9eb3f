package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters for the recharge pipeline. Registered once at
// startup against the process registry and injected into workers and
// handlers; tests register against a throwaway prometheus.NewRegistry.
type Metrics struct {
	JobsProcessed     *prometheus.CounterVec
	JobRetries        prometheus.Counter
	JobsDeadLettered  prometheus.Counter
	WebhooksProcessed *prometheus.CounterVec
	ProviderAttempts  *prometheus.CounterVec
	Discrepancies     *prometheus.CounterVec
	FinalizeFailures  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apmoney",
				Subsystem: "recharge",
				Name:      "jobs_processed_total",
				Help:      "Recharge jobs processed, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		JobRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "apmoney",
				Subsystem: "recharge",
				Name:      "job_retries_total",
				Help:      "Recharge job retry attempts.",
			},
		),
		JobsDeadLettered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "apmoney",
				Subsystem: "recharge",
				Name:      "jobs_dead_lettered_total",
				Help:      "Recharge jobs moved to the dead letter queue.",
			},
		),
		WebhooksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apmoney",
				Subsystem: "webhook",
				Name:      "processed_total",
				Help:      "Inbound provider webhooks, partitioned by result.",
			},
			[]string{"provider", "result"},
		),
		ProviderAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apmoney",
				Subsystem: "provider",
				Name:      "attempts_total",
				Help:      "Provider charge attempts, partitioned by provider and status.",
			},
			[]string{"provider", "status"},
		),
		Discrepancies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apmoney",
				Subsystem: "reconciliation",
				Name:      "discrepancies_total",
				Help:      "Reconciliation discrepancies, partitioned by type.",
			},
			[]string{"type"},
		),
		FinalizeFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "apmoney",
				Subsystem: "ledger",
				Name:      "finalize_failures_total",
				Help:      "Finalize failures after a provider reported success.",
			},
		),
	}
}
