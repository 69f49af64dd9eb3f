package wallet

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// memStore is an in-memory Store used by engine tests. A per-store mutex
// stands in for the database row lock: fn always runs with exclusive access
// to the wallet, matching the serialization the real store gets from
// SELECT ... FOR UPDATE.
type memStore struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	entries map[uuid.UUID][]LedgerEntry
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[string]*Wallet),
		entries: make(map[uuid.UUID][]LedgerEntry),
	}
}

func (s *memStore) seed(userID string, balance, reserved int64) *Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &Wallet{
		ID:       uuid.New(),
		UserID:   uuid.MustParse(userID),
		Balance:  balance,
		Reserved: reserved,
		Currency: "INR",
	}
	s.wallets[userID] = w
	return w
}

func (s *memStore) WithWallet(ctx context.Context, userID string, fn func(tx Tx) error) error {
	return s.withWallet(ctx, userID, false, fn)
}

func (s *memStore) WithEnsuredWallet(ctx context.Context, userID string, fn func(tx Tx) error) error {
	return s.withWallet(ctx, userID, true, fn)
}

func (s *memStore) withWallet(_ context.Context, userID string, ensure bool, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		if !ensure {
			return ErrWalletNotFound
		}
		uid, err := uuid.Parse(userID)
		if err != nil {
			return ErrWalletNotFound
		}
		w = &Wallet{ID: uuid.New(), UserID: uid, Currency: "INR"}
		s.wallets[userID] = w
	}

	// operate on a copy so a failed fn leaves the committed state untouched
	snapshot := *w
	entriesBefore := len(s.entries[w.ID])
	tx := &memTx{store: s, wallet: &snapshot}
	if err := fn(tx); err != nil {
		s.entries[w.ID] = s.entries[w.ID][:entriesBefore]
		return err
	}
	*w = snapshot
	return nil
}

type memTx struct {
	store  *memStore
	wallet *Wallet
}

func (t *memTx) Wallet() *Wallet {
	return t.wallet
}

func (t *memTx) UpdateBalances(balance, reserved int64) error {
	t.wallet.Balance = balance
	t.wallet.Reserved = reserved
	return nil
}

func (t *memTx) Append(entry *LedgerEntry) error {
	entry.WalletID = t.wallet.ID
	t.store.entries[t.wallet.ID] = append(t.store.entries[t.wallet.ID], *entry)
	return nil
}

func (s *memStore) ledgerFor(walletID uuid.UUID) []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LedgerEntry, len(s.entries[walletID]))
	copy(out, s.entries[walletID])
	return out
}
