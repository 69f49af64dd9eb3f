package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apmoney/backend/pkg/logger"
)

// SandboxKey is the zero-risk provider the router falls back to when nothing
// else qualifies.
const SandboxKey = "sandbox"

// Sandbox is a deterministic provider used in development and as the router's
// last resort. The charge outcome is derived from the mobile number suffix so
// tests and local flows can force any path: ...0000 fails, ...9999 stays
// pending, everything else succeeds.
type Sandbox struct {
	secret     string
	production bool
}

func NewSandbox(secret string, production bool) *Sandbox {
	return &Sandbox{secret: secret, production: production}
}

func (s *Sandbox) Name() string {
	return SandboxKey
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	status := StatusSuccess
	if strings.HasSuffix(req.Mobile, "0000") {
		status = StatusFailed
	} else if strings.HasSuffix(req.Mobile, "9999") {
		status = StatusPending
	}

	result := &ChargeResult{
		Status:        status,
		ProviderTxnID: fmt.Sprintf("sandbox_%s_%d", req.TxnRef, time.Now().UnixNano()),
	}
	raw, _ := json.Marshal(map[string]interface{}{"simulated": true, "outcome": status, "txn_ref": req.TxnRef})
	result.Raw = string(raw)
	return result, nil
}

func (s *Sandbox) GetStatus(ctx context.Context, providerTxnID string) (*ChargeResult, error) {
	return &ChargeResult{Status: StatusSuccess, ProviderTxnID: providerTxnID}, nil
}

func (s *Sandbox) GetBalance(ctx context.Context) (*Balance, error) {
	// the sandbox never runs out of float
	return &Balance{Balance: 99999999, Currency: "INR"}, nil
}

func (s *Sandbox) TopupAccount(ctx context.Context, amount int64) error {
	return nil
}

func (s *Sandbox) VerifyWebhook(rawBody []byte, headers map[string]string) bool {
	signature := headerValue(headers, "X-Webhook-Signature", "X-Provider-Signature", "X-Signature")

	if s.secret == "" {
		if s.production {
			logger.Error("sandbox webhook rejected: no secret configured in production")
			return false
		}
		logger.Warn("sandbox webhook accepted without signature verification: no secret configured")
		return true
	}

	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Sandbox) ParseWebhook(rawBody []byte, headers map[string]string) (*WebhookEvent, error) {
	var payload struct {
		ProviderTxnID     string `json:"provider_txn_id"`
		ProviderPaymentID string `json:"provider_payment_id"`
		ID                string `json:"id"`
		RequestRef        string `json:"request_ref"`
		TxnRef            string `json:"txn_ref"`
		Status            string `json:"status"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("sandbox webhook payload: %w", err)
	}

	providerTxnID := payload.ProviderTxnID
	if providerTxnID == "" {
		providerTxnID = payload.ProviderPaymentID
	}
	if providerTxnID == "" {
		providerTxnID = payload.ID
	}
	requestRef := payload.RequestRef
	if requestRef == "" {
		requestRef = payload.TxnRef
	}

	return &WebhookEvent{
		ProviderTxnID: providerTxnID,
		RequestRef:    requestRef,
		Status:        NormalizeStatus(payload.Status),
		Raw:           string(rawBody),
	}, nil
}

func headerValue(headers map[string]string, names ...string) string {
	for _, name := range names {
		for k, v := range headers {
			if strings.EqualFold(k, name) && v != "" {
				return v
			}
		}
	}
	return ""
}
