package webhook

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LogUpdate is the processed outcome written back onto a delivery log.
type LogUpdate struct {
	Result         string
	TxnRef         string
	ProviderTxnID  string
	RequestRef     string
	SignatureValid bool
}

// LogRepository persists webhook delivery logs.
type LogRepository interface {
	Create(ctx context.Context, log *Log) error
	UpdateResult(ctx context.Context, id uuid.UUID, upd LogUpdate) error
}

type gormLogRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) LogRepository {
	return &gormLogRepository{db: db}
}

func (r *gormLogRepository) Create(ctx context.Context, log *Log) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *gormLogRepository) UpdateResult(ctx context.Context, id uuid.UUID, upd LogUpdate) error {
	return r.db.WithContext(ctx).Model(&Log{}).Where("id = ?", id).Updates(map[string]interface{}{
		"result":          upd.Result,
		"txn_ref":         upd.TxnRef,
		"provider_txn_id": upd.ProviderTxnID,
		"request_ref":     upd.RequestRef,
		"signature_valid": upd.SignatureValid,
	}).Error
}
