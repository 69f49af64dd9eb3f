package provider

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account tracks an external provider integration: float balance, health and
// adapter config. Mutated by topups and health checks, consulted by the
// Router.
type Account struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	ProviderKey     string     `gorm:"uniqueIndex;not null" json:"provider_key"`
	Name            string     `json:"name"`
	Balance         int64      `gorm:"not null;default:0" json:"balance"`
	Currency        string     `gorm:"not null;default:INR" json:"currency"`
	IsActive        bool       `gorm:"not null;default:true" json:"is_active"`
	IsHealthy       bool       `gorm:"not null;default:true" json:"is_healthy"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	Config          string     `gorm:"type:jsonb;default:'{}'" json:"config"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Account) TableName() string {
	return "provider_accounts"
}

// OperatorMapping routes an operator to a provider with amount limits and
// ordering priority.
type OperatorMapping struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	OperatorCode string    `gorm:"index;not null" json:"operator_code"`
	ProviderKey  string    `gorm:"index;not null" json:"provider_key"`
	Priority     int       `gorm:"not null;default:1" json:"priority"`
	MinAmount    int64     `gorm:"not null;default:0" json:"min_amount"`
	MaxAmount    int64     `gorm:"not null;default:0" json:"max_amount"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (OperatorMapping) TableName() string {
	return "operator_providers"
}

type AccountRepository interface {
	ListActive() ([]Account, error)
	FindByKey(providerKey string) (*Account, error)
	UpdateHealth(providerKey string, healthy bool, balance *int64) error
	CandidatesFor(operatorCode string) ([]Candidate, error)
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) ListActive() ([]Account, error) {
	var accounts []Account
	err := r.db.Where("is_active = ?", true).Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) FindByKey(providerKey string) (*Account, error) {
	var account Account
	if err := r.db.Where("provider_key = ?", providerKey).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) UpdateHealth(providerKey string, healthy bool, balance *int64) error {
	updates := map[string]interface{}{
		"is_healthy":        healthy,
		"last_health_check": time.Now(),
	}
	if balance != nil {
		updates["balance"] = *balance
	}
	return r.db.Model(&Account{}).
		Where("provider_key = ?", providerKey).
		Updates(updates).Error
}

// CandidatesFor joins active operator mappings to active provider accounts,
// highest priority first.
func (r *accountRepository) CandidatesFor(operatorCode string) ([]Candidate, error) {
	var rows []struct {
		ProviderKey string
		Priority    int
		MinAmount   int64
		MaxAmount   int64
		IsHealthy   bool
		Balance     int64
	}
	err := r.db.Table("operator_providers AS op").
		Select("op.provider_key, op.priority, op.min_amount, op.max_amount, pa.is_healthy, pa.balance").
		Joins("JOIN provider_accounts pa ON op.provider_key = pa.provider_key").
		Where("op.operator_code = ? AND op.is_active = ? AND pa.is_active = ?", operatorCode, true, true).
		Order("op.priority DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, Candidate{
			ProviderKey: row.ProviderKey,
			Priority:    row.Priority,
			MinAmount:   row.MinAmount,
			MaxAmount:   row.MaxAmount,
			IsHealthy:   row.IsHealthy,
			Balance:     row.Balance,
		})
	}
	return candidates, nil
}
