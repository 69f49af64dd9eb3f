package transaction

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusReversed   Status = "reversed"
)

// IsTerminal reports whether the status accepts no further provider events.
// Terminal transactions are the idempotency boundary: a repeated webhook or
// job for one is a no-op, a conflicting one is rejected.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusReversed
}

const TypeRecharge = "recharge"

// Transaction is one recharge order. Amount, ServiceCharge and TotalAmount
// are in minor units; TotalAmount is the wallet hold (amount plus charge).
type Transaction struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	TxnRef        string    `gorm:"uniqueIndex;not null" json:"txn_ref"`
	UserID        uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Type          string    `gorm:"not null;default:recharge" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"`
	ServiceCharge int64     `gorm:"not null;default:0" json:"service_charge"`
	TotalAmount   int64     `gorm:"not null" json:"total_amount"`
	OperatorCode  string    `gorm:"not null" json:"operator_code"`
	Mobile        string    `gorm:"not null" json:"mobile"`
	Status        Status    `gorm:"index;not null;default:pending" json:"status"`
	Provider      string    `json:"provider,omitempty"`
	ProviderTxnID string    `gorm:"index" json:"provider_txn_id,omitempty"`
	// ResponsePayload keeps the provider's last raw response for audits.
	ResponsePayload  string `gorm:"type:text" json:"-"`
	FailureReason    string `json:"failure_reason,omitempty"`
	CommissionAmount int64  `gorm:"not null;default:0" json:"commission_amount"`
	Attempts         int    `gorm:"not null;default:0" json:"attempts"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
