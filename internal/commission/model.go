package commission

import (
	"time"

	"github.com/google/uuid"
)

// Pack is a commission plan assigned to users. DefaultBps is the commission
// rate in basis points of the recharge amount; operator rows override it.
type Pack struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	DefaultBps int64     `gorm:"not null;default:0" json:"default_bps"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Pack) TableName() string {
	return "commission_packs"
}

// OperatorRate overrides a pack's default rate for one operator.
type OperatorRate struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	PackID       uuid.UUID `gorm:"type:uuid;index;not null" json:"pack_id"`
	OperatorCode string    `gorm:"not null" json:"operator_code"`
	Bps          int64     `gorm:"not null" json:"bps"`
	CreatedAt    time.Time `json:"created_at"`
}

func (OperatorRate) TableName() string {
	return "commission_operator_rates"
}

// RateFor resolves the basis points for an operator, falling back to the
// pack default.
func RateFor(pack *Pack, rates []OperatorRate, operatorCode string) int64 {
	for _, r := range rates {
		if r.OperatorCode == operatorCode {
			return r.Bps
		}
	}
	return pack.DefaultBps
}

// Calculate returns the commission in minor units, rounded down.
func Calculate(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return amount * bps / 10000
}
