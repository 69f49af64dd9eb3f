package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apmoney/backend/internal/provider"
	"github.com/apmoney/backend/internal/transaction"
	"github.com/apmoney/backend/pkg/logger"
	"github.com/apmoney/backend/pkg/metrics"
)

// AdapterSource resolves a provider key to its adapter. Satisfied by
// provider.Registry.
type AdapterSource interface {
	Get(key string) provider.Adapter
}

// Outcome is the processed result of one delivery and the HTTP status the
// endpoint should answer with. Idempotent outcomes (applied, duplicate,
// conflict, no match) answer 200 so providers stop retrying; malformed and
// expired payloads answer 400, bad signatures 401.
type Outcome struct {
	Result string
	Status int
	TxnRef string
}

// Pipeline ingests provider webhooks: log first, then verify, parse, match
// and feed the event through the transaction machine.
type Pipeline struct {
	adapters  AdapterSource
	txns      transaction.Repository
	machine   *transaction.Machine
	logs      LogRepository
	metrics   *metrics.Metrics
	tolerance time.Duration
}

func NewPipeline(adapters AdapterSource, txns transaction.Repository, machine *transaction.Machine, logs LogRepository, m *metrics.Metrics, tolerance time.Duration) *Pipeline {
	return &Pipeline{
		adapters:  adapters,
		txns:      txns,
		machine:   machine,
		logs:      logs,
		metrics:   m,
		tolerance: tolerance,
	}
}

func (p *Pipeline) Process(ctx context.Context, providerKey string, body []byte, headers map[string]string, receivedAt time.Time) Outcome {
	log := p.logDelivery(ctx, providerKey, body, headers, receivedAt)

	var event *provider.WebhookEvent
	finish := func(result, txnRef string, status int, signatureValid bool) Outcome {
		if log != nil {
			upd := LogUpdate{Result: result, TxnRef: txnRef, SignatureValid: signatureValid}
			if event != nil {
				upd.ProviderTxnID = event.ProviderTxnID
				upd.RequestRef = event.RequestRef
			}
			if err := p.logs.UpdateResult(ctx, log.ID, upd); err != nil {
				logger.Warn("webhook: log update failed", logger.Fields{logger.ErrorKey: err.Error()})
			}
		}
		if p.metrics != nil {
			p.metrics.WebhooksProcessed.WithLabelValues(providerKey, result).Inc()
		}
		return Outcome{Result: result, Status: status, TxnRef: txnRef}
	}

	if !p.timestampFresh(headers, receivedAt) {
		return finish(ResultExpired, "", http.StatusBadRequest, false)
	}

	adapter := p.adapters.Get(providerKey)

	if !adapter.VerifyWebhook(body, headers) {
		logger.Warn("webhook: signature verification failed", logger.Fields{
			logger.ProviderKey: providerKey,
		})
		return finish(ResultInvalidSignature, "", http.StatusUnauthorized, false)
	}

	parsed, err := adapter.ParseWebhook(body, headers)
	if err != nil {
		logger.Warn("webhook: malformed payload", logger.Fields{
			logger.ProviderKey: providerKey,
			logger.ErrorKey:    err.Error(),
		})
		return finish(ResultMalformed, "", http.StatusBadRequest, true)
	}
	event = parsed

	txn, err := p.match(ctx, event)
	if err != nil {
		logger.Warn("webhook: no matching transaction", logger.Fields{
			logger.ProviderKey: providerKey,
			"provider_txn_id":  event.ProviderTxnID,
			"request_ref":      event.RequestRef,
		})
		return finish(ResultNoMatch, event.RequestRef, http.StatusOK, true)
	}

	switch event.Status {
	case provider.StatusPending:
		// Nothing to settle yet. Pin the provider reference if the worker
		// has not already, then acknowledge.
		if txn.ProviderTxnID == "" && event.ProviderTxnID != "" {
			_, err := p.txns.Mutate(ctx, txn.TxnRef, func(t *transaction.Transaction) error {
				if t.ProviderTxnID == "" {
					t.ProviderTxnID = event.ProviderTxnID
					t.Provider = providerKey
				}
				return nil
			})
			if err != nil {
				logger.Warn("webhook: could not pin provider reference", logger.Fields{
					logger.TxnRefKey: txn.TxnRef,
					logger.ErrorKey:  err.Error(),
				})
			}
		}
		return finish(ResultPendingAck, txn.TxnRef, http.StatusOK, true)

	case provider.StatusSuccess, provider.StatusFailed:
		target := transaction.StatusSuccess
		reason := ""
		if event.Status == provider.StatusFailed {
			target = transaction.StatusFailed
			reason = "provider_webhook_failed"
		}

		outcome, err := p.machine.Apply(ctx, txn.TxnRef, transaction.Event{
			Status:        target,
			Provider:      providerKey,
			ProviderTxnID: event.ProviderTxnID,
			Raw:           event.Raw,
			FailureReason: reason,
			Source:        "webhook",
		})
		if err != nil {
			logger.Error("webhook: machine apply failed", logger.Fields{
				logger.TxnRefKey: txn.TxnRef,
				logger.ErrorKey:  err.Error(),
			})
			return finish(ResultInternalError, txn.TxnRef, http.StatusInternalServerError, true)
		}

		switch outcome.Result {
		case transaction.ResultApplied:
			return finish(ResultApplied, txn.TxnRef, http.StatusOK, true)
		case transaction.ResultNoop:
			return finish(ResultDuplicate, txn.TxnRef, http.StatusOK, true)
		default:
			logger.Warn("webhook: event conflicts with terminal status", logger.Fields{
				logger.TxnRefKey: txn.TxnRef,
				"reason":         outcome.Reason,
			})
			return finish(ResultConflict, txn.TxnRef, http.StatusOK, true)
		}
	}

	return finish(ResultMalformed, txn.TxnRef, http.StatusBadRequest, true)
}

// logDelivery writes the raw delivery before any processing. A storage
// failure is logged but does not block the pipeline.
func (p *Pipeline) logDelivery(ctx context.Context, providerKey string, body []byte, headers map[string]string, receivedAt time.Time) *Log {
	headerJSON, _ := json.Marshal(headers)
	log := &Log{
		Provider:   providerKey,
		WebhookID:  headerValue(headers, "X-Webhook-Id", "Webhook-Id"),
		Headers:    string(headerJSON),
		Body:       string(body),
		ReceivedAt: receivedAt,
	}
	if err := p.logs.Create(ctx, log); err != nil {
		logger.Error("webhook: could not persist delivery log", logger.Fields{
			logger.ProviderKey: providerKey,
			logger.ErrorKey:    err.Error(),
		})
		return nil
	}
	return log
}

// timestampFresh enforces the replay window when the delivery carries a
// timestamp header. Deliveries without one are accepted; the signature still
// covers the body.
func (p *Pipeline) timestampFresh(headers map[string]string, receivedAt time.Time) bool {
	raw := headerValue(headers, "X-Webhook-Timestamp", "X-Timestamp")
	if raw == "" {
		return true
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}

	drift := receivedAt.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	return drift <= p.tolerance
}

func headerValue(headers map[string]string, names ...string) string {
	for k, v := range headers {
		for _, name := range names {
			if strings.EqualFold(k, name) {
				return v
			}
		}
	}
	return ""
}

func (p *Pipeline) match(ctx context.Context, event *provider.WebhookEvent) (*transaction.Transaction, error) {
	if txn, err := p.txns.FindByProviderTxnID(ctx, event.ProviderTxnID); err == nil {
		return txn, nil
	}
	return p.txns.FindByTxnRef(ctx, event.RequestRef)
}
