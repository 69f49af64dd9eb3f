package recon

import (
	"time"

	"github.com/google/uuid"
)

// SettlementFile is one ingested provider settlement file. FileHash is the
// sha256 of the raw content and makes re-uploads of the same file no-ops.
type SettlementFile struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	Provider    string     `gorm:"index;not null" json:"provider"`
	FileName    string     `json:"file_name"`
	FileHash    string     `gorm:"uniqueIndex;not null" json:"file_hash"`
	RowCount    int        `json:"row_count"`
	Status      string     `gorm:"not null;default:ingested" json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (SettlementFile) TableName() string {
	return "settlement_files"
}

const (
	FileStatusIngested  = "ingested"
	FileStatusProcessed = "processed"
)

// Discrepancy types reported for manual resolution.
const (
	DiscrepancyMissing        = "missing_in_our_db"
	DiscrepancyAmount         = "amount_mismatch"
	DiscrepancyStatus         = "status_mismatch"
	DiscrepancyFinalizeFailed = "finalize_failed"
)

// Report is one discrepancy found while diffing a settlement file against
// our transactions, or filed directly by the ledger when a finalize fails.
// Matching rows produce no report.
type Report struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	FileID          *uuid.UUID `gorm:"type:uuid;index" json:"file_id,omitempty"`
	Provider        string     `gorm:"index" json:"provider"`
	TxnRef          string     `gorm:"index" json:"txn_ref"`
	ProviderTxnID   string     `json:"provider_txn_id"`
	DiscrepancyType string     `gorm:"index;not null" json:"discrepancy_type"`
	OurAmount       int64      `json:"our_amount"`
	TheirAmount     int64      `json:"their_amount"`
	OurStatus       string     `json:"our_status"`
	TheirStatus     string     `json:"their_status"`
	Detail          string     `json:"detail,omitempty"`
	Resolved        bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedNote    string     `json:"resolved_note,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Report) TableName() string {
	return "reconciliation_reports"
}
