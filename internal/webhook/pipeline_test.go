package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmoney/backend/internal/provider"
	"github.com/apmoney/backend/internal/transaction"
	"github.com/apmoney/backend/internal/wallet"
)

type memTxnRepo struct {
	mu   sync.Mutex
	txns map[string]*transaction.Transaction
}

func newMemTxnRepo() *memTxnRepo {
	return &memTxnRepo{txns: make(map[string]*transaction.Transaction)}
}

func (r *memTxnRepo) Create(ctx context.Context, txn *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *txn
	r.txns[txn.TxnRef] = &cp
	return nil
}

func (r *memTxnRepo) FindByTxnRef(ctx context.Context, txnRef string) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[txnRef]
	if !ok {
		return nil, transaction.ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (r *memTxnRepo) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if providerTxnID == "" {
		return nil, transaction.ErrNotFound
	}
	for _, txn := range r.txns {
		if txn.ProviderTxnID == providerTxnID {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, transaction.ErrNotFound
}

func (r *memTxnRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]transaction.Transaction, error) {
	return nil, nil
}

func (r *memTxnRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (r *memTxnRepo) Mutate(ctx context.Context, txnRef string, fn func(txn *transaction.Transaction) error) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[txnRef]
	if !ok {
		return nil, transaction.ErrNotFound
	}
	work := *txn
	if err := fn(&work); err != nil {
		return nil, err
	}
	r.txns[txnRef] = &work
	cp := work
	return &cp, nil
}

type memWalletStore struct {
	mu      sync.Mutex
	wallets map[string]*wallet.Wallet
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
	wallet *wallet.Wallet
}

func (t *memWalletTx) Wallet() *wallet.Wallet { return t.wallet }

func (t *memWalletTx) UpdateBalances(balance, reserved int64) error {
	t.wallet.Balance = balance
	t.wallet.Reserved = reserved
	return nil
}

func (t *memWalletTx) Append(entry *wallet.LedgerEntry) error { return nil }

func (s *memWalletStore) WithWallet(ctx context.Context, userID string, fn func(tx wallet.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return wallet.ErrWalletNotFound
	}
	work := *w
	if err := fn(&memWalletTx{wallet: &work}); err != nil {
		return err
	}
	*w = work
	return nil
}

func (s *memWalletStore) WithEnsuredWallet(ctx context.Context, userID string, fn func(tx wallet.Tx) error) error {
	s.mu.Lock()
	if _, ok := s.wallets[userID]; !ok {
		uid, err := uuid.Parse(userID)
		if err != nil {
			s.mu.Unlock()
			return wallet.ErrWalletNotFound
		}
		s.wallets[userID] = &wallet.Wallet{ID: uuid.New(), UserID: uid, Currency: "INR"}
	}
	s.mu.Unlock()
	return s.WithWallet(ctx, userID, fn)
}

type memLogRepo struct {
	mu   sync.Mutex
	logs []*Log
}

func (r *memLogRepo) Create(ctx context.Context, log *Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	r.logs = append(r.logs, log)
	return nil
}

func (r *memLogRepo) UpdateResult(ctx context.Context, id uuid.UUID, upd LogUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, log := range r.logs {
		if log.ID == id {
			log.Result = upd.Result
			log.TxnRef = upd.TxnRef
			log.ProviderTxnID = upd.ProviderTxnID
			log.RequestRef = upd.RequestRef
			log.SignatureValid = upd.SignatureValid
			return nil
		}
	}
	return nil
}

type singleAdapterSource struct {
	adapter provider.Adapter
}

func (s *singleAdapterSource) Get(key string) provider.Adapter { return s.adapter }

type pipelineFixture struct {
	pipeline *Pipeline
	txns     *memTxnRepo
	store    *memWalletStore
	logs     *memLogRepo
	userID   string
}

func newPipelineFixture(t *testing.T, adapter provider.Adapter) *pipelineFixture {
	t.Helper()
	txns := newMemTxnRepo()
	store := newMemWalletStore()
	logs := &memLogRepo{}
	machine := transaction.NewMachine(txns, wallet.NewEngine(store), nil, nil, nil, nil)
	pipeline := NewPipeline(&singleAdapterSource{adapter: adapter}, txns, machine, logs, nil, 300*time.Second)
	return &pipelineFixture{
		pipeline: pipeline,
		txns:     txns,
		store:    store,
		logs:     logs,
		userID:   uuid.NewString(),
	}
}

func (f *pipelineFixture) seedTransaction(t *testing.T, txnRef, providerTxnID string, status transaction.Status) {
	t.Helper()
	require.NoError(t, f.txns.Create(context.Background(), &transaction.Transaction{
		ID:            uuid.New(),
		TxnRef:        txnRef,
		UserID:        uuid.MustParse(f.userID),
		Type:          transaction.TypeRecharge,
		Amount:        10000,
		ServiceCharge: 200,
		TotalAmount:   10200,
		OperatorCode:  "AIRTEL",
		Mobile:        "9876543210",
		Status:        status,
		Provider:      "sandbox",
		ProviderTxnID: providerTxnID,
	}))
}

func TestPipelineAppliesSuccess(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))
	f.store.seed(f.userID, 50000, 10200)
	f.seedTransaction(t, "R1", "sbx_1", transaction.StatusProcessing)

	body := []byte(`{"provider_txn_id":"sbx_1","status":"success"}`)
	outcome := f.pipeline.Process(context.Background(), "sandbox", body, nil, time.Now())

	assert.Equal(t, ResultApplied, outcome.Result)
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, "R1", outcome.TxnRef)

	txn, err := f.txns.FindByTxnRef(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSuccess, txn.Status)

	w := f.store.wallets[f.userID]
	assert.Equal(t, int64(39800), w.Balance)
	assert.Equal(t, int64(0), w.Reserved)

	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, ResultApplied, f.logs.logs[0].Result)
	assert.True(t, f.logs.logs[0].SignatureValid)
}

func TestPipelineLogCarriesCorrelationIDs(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))
	f.store.seed(f.userID, 50000, 10200)
	f.seedTransaction(t, "R7", "sbx_7", transaction.StatusProcessing)

	body := []byte(`{"provider_txn_id":"sbx_7","txn_ref":"R7","status":"success"}`)
	headers := map[string]string{"X-Webhook-Id": "wh_42"}
	outcome := f.pipeline.Process(context.Background(), "sandbox", body, headers, time.Now())
	require.Equal(t, ResultApplied, outcome.Result)

	require.Len(t, f.logs.logs, 1)
	log := f.logs.logs[0]
	assert.Equal(t, "wh_42", log.WebhookID)
	assert.Equal(t, "sbx_7", log.ProviderTxnID)
	assert.Equal(t, "R7", log.RequestRef)
	assert.Equal(t, "R7", log.TxnRef)
}

func TestPipelineReplayIsDuplicate(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))
	f.store.seed(f.userID, 50000, 10200)
	f.seedTransaction(t, "R1", "sbx_1", transaction.StatusProcessing)

	body := []byte(`{"provider_txn_id":"sbx_1","status":"success"}`)
	first := f.pipeline.Process(context.Background(), "sandbox", body, nil, time.Now())
	require.Equal(t, ResultApplied, first.Result)

	balanceAfter := f.store.wallets[f.userID].Balance

	second := f.pipeline.Process(context.Background(), "sandbox", body, nil, time.Now())
	assert.Equal(t, ResultDuplicate, second.Result)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.Equal(t, balanceAfter, f.store.wallets[f.userID].Balance)
}

func TestPipelineConflictingEventIsAcknowledged(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))
	f.store.seed(f.userID, 50000, 10200)
	f.seedTransaction(t, "R1", "sbx_1", transaction.StatusSuccess)

	body := []byte(`{"provider_txn_id":"sbx_1","status":"failed"}`)
	outcome := f.pipeline.Process(context.Background(), "sandbox", body, nil, time.Now())

	assert.Equal(t, ResultConflict, outcome.Result)
	assert.Equal(t, http.StatusOK, outcome.Status)

	txn, err := f.txns.FindByTxnRef(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSuccess, txn.Status)
}

func TestPipelineMatchesByRequestRef(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))
	f.store.seed(f.userID, 50000, 10200)
	// The worker never stored a provider reference for this one.
	f.seedTransaction(t, "R2", "", transaction.StatusProcessing)

	body := []byte(`{"txn_ref":"R2","status":"failed"}`)
	outcome := f.pipeline.Process(context.Background(), "sandbox", body, nil, time.Now())

	assert.Equal(t, ResultApplied, outcome.Result)
	txn, _ := f.txns.FindByTxnRef(context.Background(), "R2")
	assert.Equal(t, transaction.StatusFailed, txn.Status)
	assert.Equal(t, int64(0), f.store.wallets[f.userID].Reserved)
}

func TestPipelineNoMatchingTransaction(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))

	body := []byte(`{"provider_txn_id":"ghost","status":"success"}`)
	outcome := f.pipeline.Process(context.Background(), "sandbox", body, nil, time.Now())

	assert.Equal(t, ResultNoMatch, outcome.Result)
	assert.Equal(t, http.StatusOK, outcome.Status)
}

func TestPipelineRejectsInvalidSignature(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("topsecret", true))
	f.seedTransaction(t, "R1", "sbx_1", transaction.StatusProcessing)

	body := []byte(`{"provider_txn_id":"sbx_1","status":"success"}`)
	headers := map[string]string{"X-Webhook-Signature": "deadbeef"}
	outcome := f.pipeline.Process(context.Background(), "sandbox", body, headers, time.Now())

	assert.Equal(t, ResultInvalidSignature, outcome.Result)
	assert.Equal(t, http.StatusUnauthorized, outcome.Status)

	txn, err := f.txns.FindByTxnRef(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusProcessing, txn.Status)
}

func TestPipelineAcceptsValidSignature(t *testing.T) {
	secret := "topsecret"
	f := newPipelineFixture(t, provider.NewSandbox(secret, true))
	f.store.seed(f.userID, 50000, 10200)
	f.seedTransaction(t, "R1", "sbx_1", transaction.StatusProcessing)

	body := []byte(`{"provider_txn_id":"sbx_1","status":"success"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	headers := map[string]string{"X-Webhook-Signature": hex.EncodeToString(mac.Sum(nil))}

	outcome := f.pipeline.Process(context.Background(), "sandbox", body, headers, time.Now())
	assert.Equal(t, ResultApplied, outcome.Result)
}

func TestPipelineRejectsStaleTimestamp(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))
	f.seedTransaction(t, "R1", "sbx_1", transaction.StatusProcessing)

	stale := time.Now().Add(-10 * time.Minute).Unix()
	headers := map[string]string{"X-Webhook-Timestamp": strconv.FormatInt(stale, 10)}
	body := []byte(`{"provider_txn_id":"sbx_1","status":"success"}`)

	outcome := f.pipeline.Process(context.Background(), "sandbox", body, headers, time.Now())
	assert.Equal(t, ResultExpired, outcome.Result)
	assert.Equal(t, http.StatusBadRequest, outcome.Status)
}

func TestPipelineRejectsMalformedBody(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))

	outcome := f.pipeline.Process(context.Background(), "sandbox", []byte("not json"), nil, time.Now())
	assert.Equal(t, ResultMalformed, outcome.Result)
	assert.Equal(t, http.StatusBadRequest, outcome.Status)
}

func TestPipelinePendingAckPinsProviderRef(t *testing.T) {
	f := newPipelineFixture(t, provider.NewSandbox("", false))
	f.seedTransaction(t, "R3", "", transaction.StatusProcessing)

	body := []byte(fmt.Sprintf(`{"txn_ref":"R3","provider_txn_id":"sbx_late","status":"%s"}`, "queued"))
	outcome := f.pipeline.Process(context.Background(), "sandbox", body, nil, time.Now())

	assert.Equal(t, ResultPendingAck, outcome.Result)
	assert.Equal(t, http.StatusOK, outcome.Status)

	txn, err := f.txns.FindByTxnRef(context.Background(), "R3")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusProcessing, txn.Status)
	assert.Equal(t, "sbx_late", txn.ProviderTxnID)
}
