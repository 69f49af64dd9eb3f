package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Status is a provider outcome normalized across adapters.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// ChargeRequest carries one recharge attempt to a provider. Amount is in
// minor units.
type ChargeRequest struct {
	TxnRef       string `json:"txn_ref"`
	Mobile       string `json:"mobile"`
	OperatorCode string `json:"operator_code"`
	Amount       int64  `json:"amount"`
}

type ChargeResult struct {
	Status        Status `json:"status"`
	ProviderTxnID string `json:"provider_txn_id"`
	Raw           string `json:"raw,omitempty"`
}

type Balance struct {
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// WebhookEvent is the normalized form of an inbound provider callback.
type WebhookEvent struct {
	ProviderTxnID string `json:"provider_txn_id"`
	RequestRef    string `json:"request_ref"`
	Status        Status `json:"status"`
	Raw           string `json:"raw"`
}

// SettlementRow is one normalized line of a provider settlement file.
// ProviderAmount is in minor units.
type SettlementRow struct {
	ProviderTxnRef string
	RequestRef     string
	ProviderAmount int64
	ProviderStatus Status
}

// Adapter is the capability contract every provider integration satisfies.
// One conforming type per provider plus the generic config-driven adapter;
// instances are selected through the Registry.
type Adapter interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	GetStatus(ctx context.Context, providerTxnID string) (*ChargeResult, error)
	GetBalance(ctx context.Context) (*Balance, error)
	TopupAccount(ctx context.Context, amount int64) error
	VerifyWebhook(rawBody []byte, headers map[string]string) bool
	ParseWebhook(rawBody []byte, headers map[string]string) (*WebhookEvent, error)
}

// SettlementParser is implemented by adapters whose provider ships a custom
// settlement format. Everything else falls back to the generic CSV parser.
type SettlementParser interface {
	ParseSettlementFile(content []byte) ([]SettlementRow, error)
}

// Error is a classified provider failure. Retryable errors advance the
// router to the next candidate; non-retryable errors stop the sequence.
type Error struct {
	Provider   string
	Code       string
	HTTPStatus int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable classifies an error as transient: network failures, timeouts
// and provider 5xx responses are worth trying the next candidate for;
// anything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Retryable || pErr.HTTPStatus >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}

// NormalizeStatus maps the status vocabulary providers use onto the three
// internal outcomes. Unknown values are treated as pending, never as success.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "paid", "completed", "ok":
		return StatusSuccess
	case "failed", "failure", "error", "cancelled", "rejected":
		return StatusFailed
	default:
		return StatusPending
	}
}
