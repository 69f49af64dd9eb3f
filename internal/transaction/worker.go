package transaction

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apmoney/backend/internal/provider"
	"github.com/apmoney/backend/pkg/config"
	"github.com/apmoney/backend/pkg/events"
	"github.com/apmoney/backend/pkg/logger"
	"github.com/apmoney/backend/pkg/metrics"
)

// Worker drains the recharge queue: marks the transaction processing, runs
// the provider candidates in order and feeds the outcome back through the
// machine. Transient provider failures re-enqueue the job with exponential
// backoff; exhausted jobs are failed, refunded and dead-lettered.
type Worker struct {
	queue   *events.RedisClient
	machine *Machine
	router  *provider.Router
	repo    Repository
	metrics *metrics.Metrics

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewWorker(cfg config.Config, queue *events.RedisClient, machine *Machine, router *provider.Router, repo Repository, m *metrics.Metrics) *Worker {
	return &Worker{
		queue:       queue,
		machine:     machine,
		router:      router,
		repo:        repo,
		metrics:     m,
		maxAttempts: cfg.JobMaxAttempts,
		backoffBase: cfg.JobBackoffBase,
		backoffCap:  cfg.JobBackoffCap,
	}
}

func (w *Worker) Start(ctx context.Context) {
	logger.Info("recharge worker started", logger.Fields{
		"max_attempts": w.maxAttempts,
	})
	for {
		select {
		case <-ctx.Done():
			logger.Info("recharge worker stopping", nil)
			return
		default:
		}

		job, err := w.queue.DequeueRecharge(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("worker: dequeue failed", logger.Fields{logger.ErrorKey: err.Error()})
			w.sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *events.RechargeJob) {
	fields := logger.Fields{
		logger.TxnRefKey: job.TxnRef,
		"operator_code":  job.OperatorCode,
		"attempt":        job.Attempt,
	}

	outcome, err := w.machine.Apply(ctx, job.TxnRef, Event{Status: StatusProcessing, Source: "worker"})
	if err != nil {
		logger.Error("worker: could not mark processing", logger.Merge(fields, logger.Fields{logger.ErrorKey: err.Error()}))
		w.retryOrBury(ctx, job, fields)
		return
	}
	if outcome.Result != ResultApplied {
		// Settled elsewhere, typically by a webhook that beat the worker.
		logger.Info("worker: skipping settled job", logger.Merge(fields, logger.Fields{"reason": outcome.Reason}))
		w.count("skipped")
		return
	}

	candidates := w.router.ProvidersFor(ctx, job.OperatorCode, job.Amount)
	req := provider.ChargeRequest{
		TxnRef:       job.TxnRef,
		Mobile:       job.Mobile,
		OperatorCode: job.OperatorCode,
		Amount:       job.Amount,
	}

	attempt, err := w.router.AttemptSequentially(ctx, candidates, req)
	if err != nil {
		if provider.IsRetryable(err) {
			logger.Warn("worker: all providers transiently failed", logger.Merge(fields, logger.Fields{
				"tried":         attempt.Tried,
				logger.ErrorKey: err.Error(),
			}))
			w.retryOrBury(ctx, job, fields)
			return
		}

		w.fail(ctx, job, "provider_rejected: "+err.Error())
		w.count("failed")
		return
	}

	if w.metrics != nil {
		w.metrics.ProviderAttempts.WithLabelValues(attempt.ProviderKey, string(attempt.Result.Status)).Inc()
	}

	switch attempt.Result.Status {
	case provider.StatusSuccess:
		_, err = w.machine.Apply(ctx, job.TxnRef, Event{
			Status:        StatusSuccess,
			Provider:      attempt.ProviderKey,
			ProviderTxnID: attempt.Result.ProviderTxnID,
			Raw:           attempt.Result.Raw,
			Source:        "worker",
		})
		if err != nil {
			logger.Error("worker: could not apply success", logger.Merge(fields, logger.Fields{logger.ErrorKey: err.Error()}))
			return
		}
		w.count("success")

	case provider.StatusFailed:
		w.fail(ctx, job, "provider_declined")
		w.count("failed")

	case provider.StatusPending:
		// Keep the row in processing and pin the provider reference so the
		// settlement webhook can match it. A webhook may have settled the
		// transaction already; its record wins.
		_, err = w.repo.Mutate(ctx, job.TxnRef, func(t *Transaction) error {
			pinProviderRef(t, attempt.ProviderKey, attempt.Result.ProviderTxnID, attempt.Result.Raw)
			return nil
		})
		if err != nil {
			logger.Error("worker: could not pin provider reference", logger.Merge(fields, logger.Fields{logger.ErrorKey: err.Error()}))
		}
		logger.Info("worker: provider accepted, awaiting webhook", logger.Merge(fields, logger.Fields{
			logger.ProviderKey: attempt.ProviderKey,
		}))
		w.count("pending")
	}
}

// pinProviderRef records the provider reference on a still-open transaction.
// Terminal rows keep the audit record the settling event wrote.
func pinProviderRef(t *Transaction, providerKey, providerTxnID, raw string) {
	if t.Status.IsTerminal() {
		return
	}
	t.Provider = providerKey
	t.ProviderTxnID = providerTxnID
	t.ResponsePayload = raw
}

// retryOrBury re-enqueues the job after a backoff, or fails and dead-letters
// it once attempts are exhausted.
func (w *Worker) retryOrBury(ctx context.Context, job *events.RechargeJob, fields logger.Fields) {
	if job.Attempt+1 >= w.maxAttempts {
		logger.Error("worker: job exhausted retries, dead-lettering", fields)
		w.fail(ctx, job, "provider_unavailable")

		data, err := json.Marshal(job)
		if err == nil {
			if err := w.queue.PushToDLQ(ctx, data); err != nil {
				logger.Error("worker: DLQ push failed", logger.Merge(fields, logger.Fields{logger.ErrorKey: err.Error()}))
			}
		}
		if w.metrics != nil {
			w.metrics.JobsDeadLettered.Inc()
		}
		w.count("dead_lettered")
		return
	}

	delay := w.backoff(job.Attempt)
	logger.Info("worker: retrying job", logger.Merge(fields, logger.Fields{"delay": delay.String()}))
	if w.metrics != nil {
		w.metrics.JobRetries.Inc()
	}

	w.sleep(ctx, delay)

	job.Attempt++
	if err := w.queue.EnqueueRecharge(ctx, *job); err != nil {
		logger.Error("worker: re-enqueue failed", logger.Merge(fields, logger.Fields{logger.ErrorKey: err.Error()}))
	}
}

func (w *Worker) fail(ctx context.Context, job *events.RechargeJob, reason string) {
	_, err := w.machine.Apply(ctx, job.TxnRef, Event{
		Status:        StatusFailed,
		FailureReason: reason,
		Source:        "worker",
	})
	if err != nil {
		logger.Error("worker: could not apply failure", logger.Fields{
			logger.TxnRefKey: job.TxnRef,
			logger.ErrorKey:  err.Error(),
		})
	}
}

// backoff doubles per attempt from the base, capped.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.backoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= w.backoffCap {
			return w.backoffCap
		}
	}
	return delay
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(outcome).Inc()
	}
}
