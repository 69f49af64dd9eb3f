package commission

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/apmoney/backend/internal/user"
	"github.com/apmoney/backend/internal/wallet"
	"github.com/apmoney/backend/pkg/logger"
)

// Repository loads commission plans.
type Repository interface {
	FindPack(ctx context.Context, packID uuid.UUID) (*Pack, []OperatorRate, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindPack(ctx context.Context, packID uuid.UUID) (*Pack, []OperatorRate, error) {
	var pack Pack
	err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", packID, true).First(&pack).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var rates []OperatorRate
	if err := r.db.WithContext(ctx).Where("pack_id = ?", packID).Find(&rates).Error; err != nil {
		return nil, nil, err
	}
	return &pack, rates, nil
}

// Service credits retailer commission for successful recharges. Users without
// an active pack earn nothing.
type Service struct {
	repo    Repository
	users   user.Repository
	wallets *wallet.Engine
}

func NewService(repo Repository, users user.Repository, wallets *wallet.Engine) *Service {
	return &Service{repo: repo, users: users, wallets: wallets}
}

// Award computes the commission for a settled recharge and credits it to the
// user's wallet with the txn_ref as the ledger correlation key. Returns the
// amount credited in minor units.
func (s *Service) Award(ctx context.Context, userID uuid.UUID, operatorCode string, amount int64, txnRef string) (int64, error) {
	u, err := s.users.FindByID(userID.String())
	if err != nil {
		return 0, err
	}
	if u.CommissionPackID == nil {
		return 0, nil
	}

	pack, rates, err := s.repo.FindPack(ctx, *u.CommissionPackID)
	if err != nil {
		return 0, err
	}
	if pack == nil {
		return 0, nil
	}

	earned := Calculate(amount, RateFor(pack, rates, operatorCode))
	if earned <= 0 {
		return 0, nil
	}

	ref := wallet.Ref{Type: "commission", ID: txnRef, Note: pack.Name}
	if _, err := s.wallets.Credit(ctx, userID.String(), earned, ref); err != nil {
		return 0, err
	}

	logger.Debug("commission awarded", logger.Fields{
		logger.TxnRefKey: txnRef,
		"pack":           pack.Name,
		"earned":         earned,
	})
	return earned, nil
}
