package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apmoney/backend/pkg/logger"
)

// GenericConfig is the provider_accounts.config shape the generic adapter
// understands.
type GenericConfig struct {
	BaseURL       string `json:"base_url"`
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
	TimeoutMS     int    `json:"timeout_ms"`
}

// Generic is the config-driven HTTP adapter used for any provider without a
// dedicated integration.
type Generic struct {
	key        string
	cfg        GenericConfig
	client     *http.Client
	production bool
}

func NewGeneric(key string, cfg GenericConfig, production bool) *Generic {
	timeout := 30 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &Generic{
		key:        key,
		cfg:        cfg,
		client:     &http.Client{Timeout: timeout},
		production: production,
	}
}

func (g *Generic) Name() string {
	return g.key
}

func (g *Generic) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := map[string]interface{}{
		"reference":     req.TxnRef,
		"mobile":        req.Mobile,
		"operator_code": req.OperatorCode,
		"amount":        req.Amount,
	}

	var resp struct {
		Status        string `json:"status"`
		ProviderTxnID string `json:"provider_txn_id"`
	}
	raw, err := g.post(ctx, "/recharge", body, &resp)
	if err != nil {
		return nil, err
	}

	return &ChargeResult{
		Status:        NormalizeStatus(resp.Status),
		ProviderTxnID: resp.ProviderTxnID,
		Raw:           string(raw),
	}, nil
}

func (g *Generic) GetStatus(ctx context.Context, providerTxnID string) (*ChargeResult, error) {
	var resp struct {
		Status        string `json:"status"`
		ProviderTxnID string `json:"provider_txn_id"`
	}
	raw, err := g.get(ctx, "/status/"+providerTxnID, &resp)
	if err != nil {
		return nil, err
	}
	return &ChargeResult{
		Status:        NormalizeStatus(resp.Status),
		ProviderTxnID: resp.ProviderTxnID,
		Raw:           string(raw),
	}, nil
}

func (g *Generic) GetBalance(ctx context.Context) (*Balance, error) {
	var resp Balance
	if _, err := g.get(ctx, "/balance", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *Generic) TopupAccount(ctx context.Context, amount int64) error {
	var resp struct {
		OK bool `json:"ok"`
	}
	if _, err := g.post(ctx, "/topup", map[string]interface{}{"amount": amount}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &Error{Provider: g.key, Code: "topup_rejected"}
	}
	return nil
}

// VerifyWebhook checks the HMAC-SHA256 of the raw body in constant time. An
// unconfigured secret accepts everything outside production, with a warning
// on every such acceptance; in production it rejects.
func (g *Generic) VerifyWebhook(rawBody []byte, headers map[string]string) bool {
	signature := headerValue(headers, "X-Webhook-Signature", "X-Provider-Signature", "X-Signature")

	if g.cfg.WebhookSecret == "" {
		if g.production {
			logger.Error("webhook rejected: no secret configured in production", logger.Fields{logger.ProviderKey: g.key})
			return false
		}
		logger.Warn("webhook accepted without signature verification: no secret configured", logger.Fields{logger.ProviderKey: g.key})
		return true
	}

	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (g *Generic) ParseWebhook(rawBody []byte, headers map[string]string) (*WebhookEvent, error) {
	var payload struct {
		ProviderTxnID string `json:"provider_txn_id"`
		ID            string `json:"id"`
		RequestRef    string `json:"request_ref"`
		Reference     string `json:"reference"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("webhook payload: %w", err)
	}

	providerTxnID := payload.ProviderTxnID
	if providerTxnID == "" {
		providerTxnID = payload.ID
	}
	requestRef := payload.RequestRef
	if requestRef == "" {
		requestRef = payload.Reference
	}

	return &WebhookEvent{
		ProviderTxnID: providerTxnID,
		RequestRef:    requestRef,
		Status:        NormalizeStatus(payload.Status),
		Raw:           string(rawBody),
	}, nil
}

func (g *Generic) post(ctx context.Context, path string, body interface{}, out interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *Generic) get(ctx context.Context, path string, out interface{}) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return g.do(req, out)
}

func (g *Generic) do(req *http.Request, out interface{}) ([]byte, error) {
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: g.key, Code: "network_error", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: g.key, Code: "read_error", Retryable: true, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Provider: g.key, Code: "server_error", HTTPStatus: resp.StatusCode, Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Provider: g.key, Code: "request_rejected", HTTPStatus: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, &Error{Provider: g.key, Code: "bad_response", Err: err}
		}
	}
	return raw, nil
}
