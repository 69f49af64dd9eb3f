package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Log is the raw record of one inbound webhook delivery, written before any
// verification or parsing so failed deliveries stay replayable.
type Log struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	Provider       string    `gorm:"index;not null" json:"provider"`
	WebhookID      string    `gorm:"index" json:"webhook_id"`
	Headers        string    `gorm:"type:jsonb" json:"headers"`
	Body           string    `gorm:"type:text" json:"body"`
	SignatureValid bool      `json:"signature_valid"`
	Result         string    `gorm:"index" json:"result"`
	TxnRef         string    `gorm:"index" json:"txn_ref"`
	ProviderTxnID  string    `gorm:"index" json:"provider_txn_id"`
	RequestRef     string    `json:"request_ref"`
	ReceivedAt     time.Time `gorm:"not null" json:"received_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Log) TableName() string {
	return "webhook_logs"
}

// Result values recorded on processed webhook logs.
const (
	ResultApplied          = "applied"
	ResultDuplicate        = "duplicate"
	ResultConflict         = "conflict"
	ResultPendingAck       = "pending_ack"
	ResultNoMatch          = "no_matching_transaction"
	ResultInvalidSignature = "invalid_signature"
	ResultMalformed        = "malformed"
	ResultExpired          = "expired"
	ResultInternalError    = "internal_error"
)
