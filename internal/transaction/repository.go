package transaction

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("transaction_not_found")

// Repository is the persistence contract for transactions. Mutate runs fn on
// the row held under a FOR UPDATE lock so concurrent webhook deliveries and
// worker updates for the same txn_ref serialize.
type Repository interface {
	Create(ctx context.Context, txn *Transaction) error
	FindByTxnRef(ctx context.Context, txnRef string) (*Transaction, error)
	FindByProviderTxnID(ctx context.Context, providerTxnID string) (*Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Transaction, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	Mutate(ctx context.Context, txnRef string, fn func(txn *Transaction) error) (*Transaction, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, txn *Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *gormRepository) FindByTxnRef(ctx context.Context, txnRef string) (*Transaction, error) {
	var txn Transaction
	err := r.db.WithContext(ctx).Where("txn_ref = ?", txnRef).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*Transaction, error) {
	if providerTxnID == "" {
		return nil, ErrNotFound
	}
	var txn Transaction
	err := r.db.WithContext(ctx).Where("provider_txn_id = ?", providerTxnID).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Transaction, error) {
	var txns []Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	return txns, err
}

func (r *gormRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Transaction{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *gormRepository) Mutate(ctx context.Context, txnRef string, fn func(txn *Transaction) error) (*Transaction, error) {
	var txn Transaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("txn_ref = ?", txnRef).
			First(&txn).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := fn(&txn); err != nil {
			return err
		}
		return tx.Save(&txn).Error
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
