package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store gives the ledger engine exclusive access to one wallet row. Both
// methods run fn inside a single storage transaction while holding a
// row-level lock on the wallet; the lock is the only mutual exclusion
// mechanism trusted across worker processes.
type Store interface {
	// WithWallet locks the wallet for userID and runs fn. Returns
	// ErrWalletNotFound if the user has no wallet.
	WithWallet(ctx context.Context, userID string, fn func(tx Tx) error) error

	// WithEnsuredWallet is WithWallet but creates an empty wallet first if
	// none exists. Used by credit paths: wallets are created lazily.
	WithEnsuredWallet(ctx context.Context, userID string, fn func(tx Tx) error) error
}

// Tx is the view of a locked wallet inside a Store transaction.
type Tx interface {
	Wallet() *Wallet
	// UpdateBalances writes the new balance/reserved pair on the locked row.
	UpdateBalances(balance, reserved int64) error
	// Append writes one immutable ledger entry for the locked wallet.
	Append(entry *LedgerEntry) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) WithWallet(ctx context.Context, userID string, fn func(tx Tx) error) error {
	return s.withWallet(ctx, userID, false, fn)
}

func (s *gormStore) WithEnsuredWallet(ctx context.Context, userID string, fn func(tx Tx) error) error {
	return s.withWallet(ctx, userID, true, fn)
}

func (s *gormStore) withWallet(ctx context.Context, userID string, ensure bool, fn func(tx Tx) error) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return ErrWalletNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var w Wallet
		err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", uid).
			First(&w).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			if !ensure {
				return ErrWalletNotFound
			}
			w = Wallet{UserID: uid, Balance: 0, Reserved: 0, Currency: "INR"}
			if err := dbtx.Create(&w).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		return fn(&gormTx{db: dbtx, wallet: &w})
	})
}

type gormTx struct {
	db     *gorm.DB
	wallet *Wallet
}

func (t *gormTx) Wallet() *Wallet {
	return t.wallet
}

func (t *gormTx) UpdateBalances(balance, reserved int64) error {
	err := t.db.Model(&Wallet{}).
		Where("id = ?", t.wallet.ID).
		Updates(map[string]interface{}{"balance": balance, "reserved": reserved}).Error
	if err != nil {
		return err
	}
	t.wallet.Balance = balance
	t.wallet.Reserved = reserved
	return nil
}

func (t *gormTx) Append(entry *LedgerEntry) error {
	entry.WalletID = t.wallet.ID
	return t.db.Create(entry).Error
}
