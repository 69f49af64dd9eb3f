package recon

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmoney/backend/internal/provider"
	"github.com/apmoney/backend/internal/transaction"
)

type memReconRepo struct {
	mu          sync.Mutex
	files       map[string]*SettlementFile
	reports     []*Report
	failReports int
}

func newMemReconRepo() *memReconRepo {
	return &memReconRepo{files: make(map[string]*SettlementFile)}
}

func (r *memReconRepo) FindFileByHash(ctx context.Context, hash string) (*SettlementFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file, ok := r.files[hash]; ok {
		cp := *file
		return &cp, nil
	}
	return nil, nil
}

func (r *memReconRepo) CreateFile(ctx context.Context, file *SettlementFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	cp := *file
	r.files[file.FileHash] = &cp
	return nil
}

func (r *memReconRepo) MarkFileProcessed(ctx context.Context, fileID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, file := range r.files {
		if file.ID == fileID {
			file.Status = FileStatusProcessed
		}
	}
	return nil
}

func (r *memReconRepo) CreateReport(ctx context.Context, report *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReports > 0 {
		r.failReports--
		return errors.New("insert failed")
	}
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *memReconRepo) ListOpenReports(ctx context.Context, limit, offset int) ([]Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Report
	for _, rep := range r.reports {
		if !rep.Resolved {
			out = append(out, *rep)
		}
	}
	return out, nil
}

func (r *memReconRepo) CountOpenReports(ctx context.Context) (int64, error) {
	list, _ := r.ListOpenReports(ctx, 0, 0)
	return int64(len(list)), nil
}

func (r *memReconRepo) ResolveReport(ctx context.Context, reportID uuid.UUID, resolvedBy, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.reports {
		if rep.ID == reportID && !rep.Resolved {
			rep.Resolved = true
			rep.ResolvedBy = resolvedBy
			rep.ResolvedNote = note
			return nil
		}
	}
	return ErrReportNotFound
}

type memTxnRepo struct {
	mu   sync.Mutex
	txns map[string]*transaction.Transaction
}

func newMemTxnRepo() *memTxnRepo {
	return &memTxnRepo{txns: make(map[string]*transaction.Transaction)}
}

func (r *memTxnRepo) seed(txnRef, providerTxnID string, amount int64, status transaction.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns[txnRef] = &transaction.Transaction{
		ID:            uuid.New(),
		TxnRef:        txnRef,
		UserID:        uuid.New(),
		Amount:        amount,
		TotalAmount:   amount,
		Status:        status,
		Provider:      "sandbox",
		ProviderTxnID: providerTxnID,
	}
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
	if txn, ok := r.txns[txnRef]; ok {
		cp := *txn
		return &cp, nil
	}
	return nil, transaction.ErrNotFound
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

func (r *memTxnRepo) CountByUser(ctx context.Context, userID string) (int64, error) { return 0, nil }

func (r *memTxnRepo) Mutate(ctx context.Context, txnRef string, fn func(txn *transaction.Transaction) error) (*transaction.Transaction, error) {
	return nil, transaction.ErrNotFound
}

type sandboxSource struct{}

func (sandboxSource) Get(key string) provider.Adapter { return provider.NewSandbox("", false) }

func newEngineFixture() (*Engine, *memReconRepo, *memTxnRepo) {
	repo := newMemReconRepo()
	txns := newMemTxnRepo()
	return NewEngine(repo, txns, sandboxSource{}, nil), repo, txns
}

func TestIngestMatchedRowsLeaveNoReports(t *testing.T) {
	engine, repo, txns := newEngineFixture()
	txns.seed("R1", "px_1", 5000, transaction.StatusSuccess)

	content := []byte("provider_txn_ref,request_ref,amount,status\npx_1,R1,50.00,success\n")
	summary, err := engine.Ingest(context.Background(), "sandbox", "day1.csv", content)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 0, summary.Discrepancies)
	assert.Empty(t, repo.reports)
}

func TestIngestFlagsAmountMismatch(t *testing.T) {
	engine, repo, txns := newEngineFixture()
	txns.seed("R2", "px_2", 5000, transaction.StatusSuccess)

	content := []byte("provider_txn_ref,request_ref,amount,status\npx_2,R2,55.00,success\n")
	summary, err := engine.Ingest(context.Background(), "sandbox", "day2.csv", content)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Discrepancies)
	require.Len(t, repo.reports, 1)
	report := repo.reports[0]
	assert.Equal(t, DiscrepancyAmount, report.DiscrepancyType)
	assert.Equal(t, int64(5000), report.OurAmount)
	assert.Equal(t, int64(5500), report.TheirAmount)
	assert.Equal(t, "R2", report.TxnRef)
}

func TestIngestFlagsMissingTransaction(t *testing.T) {
	engine, repo, _ := newEngineFixture()

	content := []byte("provider_txn_ref,request_ref,amount,status\npx_ghost,R_ghost,10.00,success\n")
	summary, err := engine.Ingest(context.Background(), "sandbox", "day3.csv", content)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Discrepancies)
	require.Len(t, repo.reports, 1)
	assert.Equal(t, DiscrepancyMissing, repo.reports[0].DiscrepancyType)
	assert.Equal(t, "px_ghost", repo.reports[0].ProviderTxnID)
}

func TestIngestFlagsStatusMismatch(t *testing.T) {
	engine, repo, txns := newEngineFixture()
	txns.seed("R3", "px_3", 5000, transaction.StatusFailed)

	content := []byte("provider_txn_ref,request_ref,amount,status\npx_3,R3,50.00,success\n")
	_, err := engine.Ingest(context.Background(), "sandbox", "day4.csv", content)

	require.NoError(t, err)
	require.Len(t, repo.reports, 1)
	report := repo.reports[0]
	assert.Equal(t, DiscrepancyStatus, report.DiscrepancyType)
	assert.Equal(t, string(transaction.StatusFailed), report.OurStatus)
	assert.Equal(t, string(provider.StatusSuccess), report.TheirStatus)
}

func TestIngestProviderPendingRowsAreSkipped(t *testing.T) {
	engine, repo, txns := newEngineFixture()
	txns.seed("R4", "px_4", 5000, transaction.StatusProcessing)

	content := []byte("provider_txn_ref,request_ref,amount,status\npx_4,R4,50.00,queued\n")
	summary, err := engine.Ingest(context.Background(), "sandbox", "day5.csv", content)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	assert.Empty(t, repo.reports)
}

func TestIngestIsIdempotentByContentHash(t *testing.T) {
	engine, repo, txns := newEngineFixture()
	txns.seed("R5", "px_5", 5000, transaction.StatusFailed)

	content := []byte("provider_txn_ref,request_ref,amount,status\npx_5,R5,50.00,success\n")

	first, err := engine.Ingest(context.Background(), "sandbox", "day6.csv", content)
	require.NoError(t, err)
	assert.False(t, first.AlreadySeen)
	require.Len(t, repo.reports, 1)

	second, err := engine.Ingest(context.Background(), "sandbox", "day6-again.csv", content)
	require.NoError(t, err)
	assert.True(t, second.AlreadySeen)
	assert.Equal(t, first.FileID, second.FileID)
	assert.Len(t, repo.reports, 1)
}

func TestIngestResumesAfterReportFailure(t *testing.T) {
	engine, repo, txns := newEngineFixture()
	txns.seed("R6", "px_6", 5000, transaction.StatusFailed)

	content := []byte("provider_txn_ref,request_ref,amount,status\n" +
		"px_6,R6,50.00,success\n" +
		"px_lost,R_lost,10.00,success\n")

	repo.failReports = 1
	_, err := engine.Ingest(context.Background(), "sandbox", "day7.csv", content)
	require.Error(t, err)
	assert.Empty(t, repo.reports)

	summary, err := engine.Ingest(context.Background(), "sandbox", "day7.csv", content)
	require.NoError(t, err)
	assert.True(t, summary.AlreadySeen)
	assert.Equal(t, 2, summary.Discrepancies)
	require.Len(t, repo.reports, 2)

	third, err := engine.Ingest(context.Background(), "sandbox", "day7.csv", content)
	require.NoError(t, err)
	assert.True(t, third.AlreadySeen)
	assert.Len(t, repo.reports, 2)
}

func TestRecordFinalizeFailure(t *testing.T) {
	engine, repo, _ := newEngineFixture()

	err := engine.RecordFinalizeFailure(context.Background(), "R9", "sandbox", 10200, "reserved_insufficient")
	require.NoError(t, err)
	require.Len(t, repo.reports, 1)
	report := repo.reports[0]
	assert.Equal(t, DiscrepancyFinalizeFailed, report.DiscrepancyType)
	assert.Equal(t, "R9", report.TxnRef)
	assert.Nil(t, report.FileID)
}

func TestParseMoneyExact(t *testing.T) {
	cases := map[string]int64{
		"50.00":  5000,
		"55":     5500,
		"0.05":   5,
		"10.5":   1050,
		"123.45": 12345,
		"-0.50":  -50,
		"-12.34": -1234,
		"+3.21":  321,
	}
	for raw, want := range cases {
		got, err := parseMoney(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := parseMoney("")
	assert.Error(t, err)
	_, err = parseMoney("abc")
	assert.Error(t, err)
	_, err = parseMoney("-")
	assert.Error(t, err)
}

func TestParseCSVRejectsMissingColumns(t *testing.T) {
	_, err := parseCSV([]byte("foo,bar\n1,2\n"))
	assert.Error(t, err)
}
