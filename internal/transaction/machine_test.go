package transaction

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmoney/backend/internal/wallet"
	"github.com/apmoney/backend/pkg/events"
)

// memRepo keeps transactions in memory keyed by txn_ref. The mutex stands in
// for the row lock the database repository takes.
type memRepo struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

func newMemRepo() *memRepo {
	return &memRepo{txns: make(map[string]*Transaction)}
}

func (r *memRepo) Create(ctx context.Context, txn *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	cp := *txn
	r.txns[txn.TxnRef] = &cp
	return nil
}

func (r *memRepo) FindByTxnRef(ctx context.Context, txnRef string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[txnRef]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (r *memRepo) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if providerTxnID == "" {
		return nil, ErrNotFound
	}
	for _, txn := range r.txns {
		if txn.ProviderTxnID == providerTxnID {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transaction
	for _, txn := range r.txns {
		if txn.UserID.String() == userID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (r *memRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	list, _ := r.ListByUser(ctx, userID, 0, 0)
	return int64(len(list)), nil
}

func (r *memRepo) Mutate(ctx context.Context, txnRef string, fn func(txn *Transaction) error) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[txnRef]
	if !ok {
		return nil, ErrNotFound
	}
	work := *txn
	if err := fn(&work); err != nil {
		return nil, err
	}
	r.txns[txnRef] = &work
	cp := work
	return &cp, nil
}

// memWalletStore is a minimal in-memory wallet.Store for exercising the
// machine's wallet side effects.
type memWalletStore struct {
	mu      sync.Mutex
	wallets map[string]*wallet.Wallet
	ledger  []wallet.LedgerEntry
}

func newMemWalletStore() *memWalletStore {
	return &memWalletStore{wallets: make(map[string]*wallet.Wallet)}
}

func (s *memWalletStore) seed(userID string, balance, reserved int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[userID] = &wallet.Wallet{
		ID:       uuid.New(),
		UserID:   uuid.MustParse(userID),
		Balance:  balance,
		Reserved: reserved,
		Currency: "INR",
	}
}

type memWalletTx struct {
	store  *memWalletStore
	wallet *wallet.Wallet
}

func (t *memWalletTx) Wallet() *wallet.Wallet { return t.wallet }

func (t *memWalletTx) UpdateBalances(balance, reserved int64) error {
	t.wallet.Balance = balance
	t.wallet.Reserved = reserved
	return nil
}

func (t *memWalletTx) Append(entry *wallet.LedgerEntry) error {
	t.store.ledger = append(t.store.ledger, *entry)
	return nil
}

func (s *memWalletStore) WithWallet(ctx context.Context, userID string, fn func(tx wallet.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return wallet.ErrWalletNotFound
	}
	work := *w
	if err := fn(&memWalletTx{store: s, wallet: &work}); err != nil {
		return err
	}
	*w = work
	return nil
}

func (s *memWalletStore) WithEnsuredWallet(ctx context.Context, userID string, fn func(tx wallet.Tx) error) error {
	s.mu.Lock()
	w, ok := s.wallets[userID]
	if !ok {
		uid, err := uuid.Parse(userID)
		if err != nil {
			s.mu.Unlock()
			return wallet.ErrWalletNotFound
		}
		w = &wallet.Wallet{ID: uuid.New(), UserID: uid, Currency: "INR"}
		s.wallets[userID] = w
	}
	s.mu.Unlock()
	return s.WithWallet(ctx, userID, fn)
}

type recordingNotifier struct {
	sent []events.Notification
}

func (n *recordingNotifier) EnqueueNotification(ctx context.Context, note events.Notification) error {
	n.sent = append(n.sent, note)
	return nil
}

type recordingFailures struct {
	reports []string
}

func (f *recordingFailures) RecordFinalizeFailure(ctx context.Context, txnRef, provider string, amount int64, detail string) error {
	f.reports = append(f.reports, txnRef)
	return nil
}

type fixedCommission struct {
	awarded []string
	amount  int64
}

func (c *fixedCommission) Award(ctx context.Context, userID uuid.UUID, operatorCode string, amount int64, txnRef string) (int64, error) {
	c.awarded = append(c.awarded, txnRef)
	return c.amount, nil
}

type machineFixture struct {
	machine    *Machine
	repo       *memRepo
	store      *memWalletStore
	notifier   *recordingNotifier
	failures   *recordingFailures
	commission *fixedCommission
	userID     string
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	repo := newMemRepo()
	store := newMemWalletStore()
	notifier := &recordingNotifier{}
	failures := &recordingFailures{}
	commission := &fixedCommission{amount: 100}
	machine := NewMachine(repo, wallet.NewEngine(store), commission, failures, notifier, nil)
	return &machineFixture{
		machine:    machine,
		repo:       repo,
		store:      store,
		notifier:   notifier,
		failures:   failures,
		commission: commission,
		userID:     uuid.NewString(),
	}
}

func (f *machineFixture) seedTransaction(t *testing.T, amount, serviceCharge int64, status Status) *Transaction {
	t.Helper()
	txn := &Transaction{
		ID:            uuid.New(),
		TxnRef:        "R_" + uuid.NewString()[:8],
		UserID:        uuid.MustParse(f.userID),
		Type:          TypeRecharge,
		Amount:        amount,
		ServiceCharge: serviceCharge,
		TotalAmount:   amount + serviceCharge,
		OperatorCode:  "AIRTEL",
		Mobile:        "9876543210",
		Status:        status,
	}
	require.NoError(t, f.repo.Create(context.Background(), txn))
	return txn
}

func TestApplySuccessCommitsHold(t *testing.T) {
	f := newMachineFixture(t)
	f.store.seed(f.userID, 50000, 10200)
	txn := f.seedTransaction(t, 10000, 200, StatusProcessing)

	outcome, err := f.machine.Apply(context.Background(), txn.TxnRef, Event{
		Status:        StatusSuccess,
		Provider:      "sandbox",
		ProviderTxnID: "sbx_1",
		Source:        "worker",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, outcome.Result)
	assert.Equal(t, StatusSuccess, outcome.Txn.Status)
	assert.Equal(t, "sbx_1", outcome.Txn.ProviderTxnID)
	require.NotNil(t, outcome.Txn.CompletedAt)

	w := f.store.wallets[f.userID]
	assert.Equal(t, int64(39800), w.Balance)
	assert.Equal(t, int64(0), w.Reserved)

	assert.Equal(t, []string{txn.TxnRef}, f.commission.awarded)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Recharge successful", f.notifier.sent[0].Title)
}

func TestApplyFailureReleasesHold(t *testing.T) {
	f := newMachineFixture(t)
	f.store.seed(f.userID, 50000, 5000)
	txn := f.seedTransaction(t, 4800, 200, StatusProcessing)

	outcome, err := f.machine.Apply(context.Background(), txn.TxnRef, Event{
		Status:        StatusFailed,
		FailureReason: "provider_declined",
		Source:        "worker",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, outcome.Result)
	assert.Equal(t, "provider_declined", outcome.Txn.FailureReason)

	w := f.store.wallets[f.userID]
	assert.Equal(t, int64(50000), w.Balance)
	assert.Equal(t, int64(0), w.Reserved)
	assert.Empty(t, f.commission.awarded)
}

func TestApplyTerminalReplayIsNoop(t *testing.T) {
	f := newMachineFixture(t)
	f.store.seed(f.userID, 50000, 10200)
	txn := f.seedTransaction(t, 10000, 200, StatusProcessing)

	_, err := f.machine.Apply(context.Background(), txn.TxnRef, Event{Status: StatusSuccess, ProviderTxnID: "sbx_1"})
	require.NoError(t, err)

	balanceAfter := f.store.wallets[f.userID].Balance

	replay, err := f.machine.Apply(context.Background(), txn.TxnRef, Event{Status: StatusSuccess, ProviderTxnID: "sbx_1"})
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, replay.Result)

	conflict, err := f.machine.Apply(context.Background(), txn.TxnRef, Event{Status: StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, conflict.Result)

	// Neither replay nor conflict may touch the wallet again.
	assert.Equal(t, balanceAfter, f.store.wallets[f.userID].Balance)
	assert.Len(t, f.commission.awarded, 1)

	current, err := f.repo.FindByTxnRef(context.Background(), txn.TxnRef)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, current.Status)
}

func TestApplyFinalizeFailureForcesFailed(t *testing.T) {
	f := newMachineFixture(t)
	// Nothing reserved, so the finalize step cannot commit the hold.
	f.store.seed(f.userID, 50000, 0)
	txn := f.seedTransaction(t, 10000, 200, StatusProcessing)

	outcome, err := f.machine.Apply(context.Background(), txn.TxnRef, Event{
		Status:        StatusSuccess,
		Provider:      "sandbox",
		ProviderTxnID: "sbx_2",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, outcome.Result)

	current, err := f.repo.FindByTxnRef(context.Background(), txn.TxnRef)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, current.Status)
	assert.Contains(t, current.FailureReason, "finalize_failed")

	assert.Equal(t, []string{txn.TxnRef}, f.failures.reports)
	assert.Equal(t, int64(50000), f.store.wallets[f.userID].Balance)
	assert.Empty(t, f.commission.awarded)
}

func TestApplyUnknownTransaction(t *testing.T) {
	f := newMachineFixture(t)
	_, err := f.machine.Apply(context.Background(), "R_missing", Event{Status: StatusSuccess})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReverseCreditsWallet(t *testing.T) {
	f := newMachineFixture(t)
	f.store.seed(f.userID, 39800, 0)
	txn := f.seedTransaction(t, 10000, 200, StatusSuccess)

	reversed, err := f.machine.Reverse(context.Background(), txn.TxnRef, "support ticket 4411")
	require.NoError(t, err)
	assert.Equal(t, StatusReversed, reversed.Status)
	assert.Equal(t, int64(50000), f.store.wallets[f.userID].Balance)

	_, err = f.machine.Reverse(context.Background(), txn.TxnRef, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReverseRejectsNonSuccess(t *testing.T) {
	f := newMachineFixture(t)
	f.store.seed(f.userID, 50000, 0)
	txn := f.seedTransaction(t, 10000, 200, StatusPending)

	_, err := f.machine.Reverse(context.Background(), txn.TxnRef, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
