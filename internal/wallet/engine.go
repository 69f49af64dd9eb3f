package wallet

import (
	"context"

	"github.com/apmoney/backend/pkg/logger"
)

// Engine owns every mutation of wallet balances. Reserve/Finalize/
// RefundReserved form the two-phase pattern a transaction uses to hold funds
// across an unreliable provider call: reserve earmarks, finalize commits the
// debit, refund releases the earmark. Credit and Debit move balance directly
// (topups, commissions, admin adjustments).
//
// Every operation is read-validate-write-append under one wallet row lock, so
// a crash before commit leaves the wallet untouched and no partial state is
// visible to concurrent operations.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Reserve earmarks amount without moving money. Fails with
// ErrInsufficientFunds when balance - reserved < amount.
func (e *Engine) Reserve(ctx context.Context, userID string, amount int64, ref Ref) (*ReserveResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var res ReserveResult
	err := e.store.WithWallet(ctx, userID, func(tx Tx) error {
		w := tx.Wallet()
		if w.Available() < amount {
			return ErrInsufficientFunds
		}

		prevReserved := w.Reserved
		newReserved := prevReserved + amount
		if err := tx.UpdateBalances(w.Balance, newReserved); err != nil {
			return err
		}

		if err := tx.Append(&LedgerEntry{
			Type:         EntryReserve,
			Amount:       amount,
			BalanceAfter: w.Balance - newReserved,
			RefType:      ref.Type,
			RefID:        ref.ID,
			Note:         ref.Note,
		}); err != nil {
			return err
		}

		res = ReserveResult{
			WalletID:         w.ID,
			PreviousReserved: prevReserved,
			Reserved:         newReserved,
			Available:        w.Balance - newReserved,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Finalize commits a prior reservation: the money actually leaves. Fails with
// ErrReservedInsufficient when reserved < amount.
func (e *Engine) Finalize(ctx context.Context, userID string, amount int64, ref Ref) (*BalanceResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var res BalanceResult
	err := e.store.WithWallet(ctx, userID, func(tx Tx) error {
		w := tx.Wallet()
		if w.Reserved < amount {
			return ErrReservedInsufficient
		}

		newBalance := w.Balance - amount
		newReserved := w.Reserved - amount
		if err := tx.UpdateBalances(newBalance, newReserved); err != nil {
			return err
		}

		if err := tx.Append(&LedgerEntry{
			Type:         EntryDebit,
			Amount:       amount,
			BalanceAfter: newBalance,
			RefType:      ref.Type,
			RefID:        ref.ID,
			Note:         ref.Note,
		}); err != nil {
			return err
		}

		res = BalanceResult{WalletID: w.ID, Balance: newBalance, Reserved: newReserved}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RefundReserved aborts a prior reservation: the earmark is released, balance
// is unchanged.
func (e *Engine) RefundReserved(ctx context.Context, userID string, amount int64, ref Ref) (*BalanceResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var res BalanceResult
	err := e.store.WithWallet(ctx, userID, func(tx Tx) error {
		w := tx.Wallet()
		if w.Reserved < amount {
			return ErrReservedInsufficient
		}

		newReserved := w.Reserved - amount
		if err := tx.UpdateBalances(w.Balance, newReserved); err != nil {
			return err
		}

		if err := tx.Append(&LedgerEntry{
			Type:         EntryRefund,
			Amount:       amount,
			BalanceAfter: w.Balance - newReserved,
			RefType:      ref.Type,
			RefID:        ref.ID,
			Note:         ref.Note,
		}); err != nil {
			return err
		}

		res = BalanceResult{WalletID: w.ID, Balance: w.Balance, Reserved: newReserved}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Credit increments balance directly, creating the wallet lazily. Independent
// of reservation state.
func (e *Engine) Credit(ctx context.Context, userID string, amount int64, ref Ref) (*CreditResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var res CreditResult
	err := e.store.WithEnsuredWallet(ctx, userID, func(tx Tx) error {
		w := tx.Wallet()
		prevBalance := w.Balance
		newBalance := prevBalance + amount
		if err := tx.UpdateBalances(newBalance, w.Reserved); err != nil {
			return err
		}

		if err := tx.Append(&LedgerEntry{
			Type:         EntryCredit,
			Amount:       amount,
			BalanceAfter: newBalance,
			RefType:      ref.Type,
			RefID:        ref.ID,
			Note:         ref.Note,
		}); err != nil {
			return err
		}

		res = CreditResult{WalletID: w.ID, PreviousBalance: prevBalance, Balance: newBalance}
		return nil
	})
	if err != nil {
		logger.Error("wallet credit failed", logger.Fields{
			logger.UserIdKey: userID,
			"amount":         amount,
			"ref_id":         ref.ID,
			logger.ErrorKey:  err.Error(),
		})
		return nil, err
	}
	return &res, nil
}

// Debit decrements balance directly, checked against available funds. Used by
// admin adjustments and manual reconciliation actions.
func (e *Engine) Debit(ctx context.Context, userID string, amount int64, ref Ref) (*CreditResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var res CreditResult
	err := e.store.WithWallet(ctx, userID, func(tx Tx) error {
		w := tx.Wallet()
		if w.Available() < amount {
			return ErrInsufficientFunds
		}

		prevBalance := w.Balance
		newBalance := prevBalance - amount
		if err := tx.UpdateBalances(newBalance, w.Reserved); err != nil {
			return err
		}

		if err := tx.Append(&LedgerEntry{
			Type:         EntryDebit,
			Amount:       amount,
			BalanceAfter: newBalance,
			RefType:      ref.Type,
			RefID:        ref.ID,
			Note:         ref.Note,
		}); err != nil {
			return err
		}

		res = CreditResult{WalletID: w.ID, PreviousBalance: prevBalance, Balance: newBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
