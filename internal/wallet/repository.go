package wallet

import (
	"errors"

	"gorm.io/gorm"
)

// Repository covers the read side and wallet provisioning; all
// balance-affecting writes go through the Engine.
type Repository interface {
	CreateWallet(wallet *Wallet) error
	GetWalletByUserID(userID string) (*Wallet, error)
	GetLedgerEntries(walletID string, limit, offset int) ([]LedgerEntry, error)
	CountLedgerEntries(walletID string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateWallet(wallet *Wallet) error {
	return r.db.Create(wallet).Error
}

func (r *repository) GetWalletByUserID(userID string) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) GetLedgerEntries(walletID string, limit, offset int) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := r.db.Where("wallet_id = ?", walletID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

func (r *repository) CountLedgerEntries(walletID string) (int64, error) {
	var count int64
	err := r.db.Model(&LedgerEntry{}).Where("wallet_id = ?", walletID).Count(&count).Error
	return count, err
}
