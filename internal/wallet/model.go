package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Wallet is the single source of truth for a user's money. Amounts are in
// minor units (paise). available = balance - reserved and must never go
// negative as a result of a ledger operation.
type Wallet struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Reserved  int64     `gorm:"not null;default:0" json:"reserved"`
	Currency  string    `gorm:"not null;default:INR" json:"currency"`
	PinHash   string    `gorm:"not null;default:''" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *Wallet) Available() int64 {
	return w.Balance - w.Reserved
}

type EntryType string

const (
	EntryCredit  EntryType = "credit"
	EntryDebit   EntryType = "debit"
	EntryReserve EntryType = "reserve"
	EntryRefund  EntryType = "refund"
)

// LedgerEntry is the append-only record of one balance-affecting event.
// Entries are never updated or deleted. For credit/debit entries
// BalanceAfter snapshots the balance; for reserve/refund entries it
// snapshots the available amount.
type LedgerEntry struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	WalletID     uuid.UUID `gorm:"type:uuid;not null;index" json:"wallet_id"`
	Type         EntryType `gorm:"not null" json:"type"`
	Amount       int64     `gorm:"not null" json:"amount"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	RefType      string    `gorm:"index" json:"ref_type"`
	RefID        string    `gorm:"index" json:"ref_id"`
	Note         string    `json:"note"`
	Metadata     string    `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "wallet_ledger"
}

// Ref carries the business correlation for a ledger operation. RefID is the
// idempotency/audit key (txn_ref, webhook id, reconciliation report id).
type Ref struct {
	Type string
	ID   string
	Note string
}

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrWalletNotFound       = errors.New("wallet_not_found")
	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrReservedInsufficient = errors.New("reserved_insufficient")
)

type ReserveResult struct {
	WalletID         uuid.UUID `json:"wallet_id"`
	PreviousReserved int64     `json:"previous_reserved"`
	Reserved         int64     `json:"reserved"`
	Available        int64     `json:"available"`
}

type BalanceResult struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Balance  int64     `json:"balance"`
	Reserved int64     `json:"reserved"`
}

type CreditResult struct {
	WalletID        uuid.UUID `json:"wallet_id"`
	PreviousBalance int64     `json:"previous_balance"`
	Balance         int64     `json:"balance"`
}
