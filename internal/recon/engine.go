package recon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/apmoney/backend/internal/provider"
	"github.com/apmoney/backend/internal/transaction"
	"github.com/apmoney/backend/pkg/logger"
	"github.com/apmoney/backend/pkg/metrics"
)

// amountEpsilon absorbs sub-paisa rounding between our ledger and a
// provider's settlement export.
const amountEpsilon = 1

// AdapterSource resolves provider keys to adapters, for format-specific
// settlement parsing.
type AdapterSource interface {
	Get(key string) provider.Adapter
}

// Summary is the outcome of processing one settlement file.
type Summary struct {
	FileID        string `json:"file_id"`
	Rows          int    `json:"rows"`
	Matched       int    `json:"matched"`
	Discrepancies int    `json:"discrepancies"`
	AlreadySeen   bool   `json:"already_seen"`
}

// Engine ingests settlement files and diffs them against our transactions.
// Matching rows leave no trace; only anomalies become reports.
type Engine struct {
	repo     Repository
	txns     transaction.Repository
	adapters AdapterSource
	metrics  *metrics.Metrics
}

func NewEngine(repo Repository, txns transaction.Repository, adapters AdapterSource, m *metrics.Metrics) *Engine {
	return &Engine{repo: repo, txns: txns, adapters: adapters, metrics: m}
}

// Ingest registers a settlement file and diffs it. The content hash is the
// idempotency key: re-uploading a file already processed returns its summary
// without producing new reports. A hash match whose file row never reached
// processed means an earlier diff aborted partway; the diff runs again so no
// discrepancy stays lost.
func (e *Engine) Ingest(ctx context.Context, providerKey, fileName string, content []byte) (*Summary, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	if existing, err := e.repo.FindFileByHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.Status == FileStatusProcessed {
			logger.Info("recon: settlement file already processed", logger.Fields{
				logger.ProviderKey: providerKey,
				"file_id":          existing.ID.String(),
			})
			return &Summary{FileID: existing.ID.String(), Rows: existing.RowCount, AlreadySeen: true}, nil
		}

		logger.Warn("recon: resuming unfinished settlement file", logger.Fields{
			logger.ProviderKey: providerKey,
			"file_id":          existing.ID.String(),
		})
		rows, err := ParseSettlement(e.adapters.Get(providerKey), content)
		if err != nil {
			return nil, err
		}
		summary, err := e.diffAll(ctx, existing, rows)
		if err != nil {
			return nil, err
		}
		summary.AlreadySeen = true
		return summary, nil
	}

	rows, err := ParseSettlement(e.adapters.Get(providerKey), content)
	if err != nil {
		return nil, err
	}

	file := &SettlementFile{
		Provider: providerKey,
		FileName: fileName,
		FileHash: hash,
		RowCount: len(rows),
		Status:   FileStatusIngested,
	}
	if err := e.repo.CreateFile(ctx, file); err != nil {
		return nil, err
	}

	return e.diffAll(ctx, file, rows)
}

// diffAll diffs every row, persists the anomalies and marks the file
// processed. Safe to run more than once for the same file; a resumed run can
// repeat reports the aborted pass already filed, which resolution absorbs.
func (e *Engine) diffAll(ctx context.Context, file *SettlementFile, rows []provider.SettlementRow) (*Summary, error) {
	summary := &Summary{FileID: file.ID.String(), Rows: len(rows)}
	for _, row := range rows {
		report := e.diffRow(ctx, file, row)
		if report == nil {
			summary.Matched++
			continue
		}
		summary.Discrepancies++
		if err := e.repo.CreateReport(ctx, report); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.Discrepancies.WithLabelValues(report.DiscrepancyType).Inc()
		}
	}

	if err := e.repo.MarkFileProcessed(ctx, file.ID); err != nil {
		logger.Warn("recon: could not mark file processed", logger.Fields{
			"file_id":       file.ID.String(),
			logger.ErrorKey: err.Error(),
		})
	}

	logger.Info("recon: settlement file processed", logger.Fields{
		logger.ProviderKey: file.Provider,
		"file_id":          file.ID.String(),
		"rows":             summary.Rows,
		"discrepancies":    summary.Discrepancies,
	})
	return summary, nil
}

// diffRow compares one settlement row with our record of it. Returns nil if
// they agree.
func (e *Engine) diffRow(ctx context.Context, file *SettlementFile, row provider.SettlementRow) *Report {
	txn, err := e.txns.FindByProviderTxnID(ctx, row.ProviderTxnRef)
	if err != nil && row.RequestRef != "" {
		txn, err = e.txns.FindByTxnRef(ctx, row.RequestRef)
	}
	if err != nil {
		return &Report{
			FileID:          &file.ID,
			Provider:        file.Provider,
			TxnRef:          row.RequestRef,
			ProviderTxnID:   row.ProviderTxnRef,
			DiscrepancyType: DiscrepancyMissing,
			TheirAmount:     row.ProviderAmount,
			TheirStatus:     string(row.ProviderStatus),
		}
	}

	diff := txn.Amount - row.ProviderAmount
	if diff < 0 {
		diff = -diff
	}
	if diff > amountEpsilon {
		return &Report{
			FileID:          &file.ID,
			Provider:        file.Provider,
			TxnRef:          txn.TxnRef,
			ProviderTxnID:   row.ProviderTxnRef,
			DiscrepancyType: DiscrepancyAmount,
			OurAmount:       txn.Amount,
			TheirAmount:     row.ProviderAmount,
			OurStatus:       string(txn.Status),
			TheirStatus:     string(row.ProviderStatus),
		}
	}

	// Provider pending rows carry no settlement verdict yet.
	if row.ProviderStatus == provider.StatusPending {
		return nil
	}

	ourSettled := txn.Status == transaction.StatusSuccess || txn.Status == transaction.StatusReversed
	theirSettled := row.ProviderStatus == provider.StatusSuccess
	if ourSettled != theirSettled {
		return &Report{
			FileID:          &file.ID,
			Provider:        file.Provider,
			TxnRef:          txn.TxnRef,
			ProviderTxnID:   row.ProviderTxnRef,
			DiscrepancyType: DiscrepancyStatus,
			OurAmount:       txn.Amount,
			TheirAmount:     row.ProviderAmount,
			OurStatus:       string(txn.Status),
			TheirStatus:     string(row.ProviderStatus),
		}
	}
	return nil
}

// RecordFinalizeFailure files a report when the ledger could not commit a
// hold after a provider success. Feeds the transaction machine.
func (e *Engine) RecordFinalizeFailure(ctx context.Context, txnRef, providerKey string, amount int64, detail string) error {
	report := &Report{
		Provider:        providerKey,
		TxnRef:          txnRef,
		DiscrepancyType: DiscrepancyFinalizeFailed,
		OurAmount:       amount,
		Detail:          detail,
	}
	if err := e.repo.CreateReport(ctx, report); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.Discrepancies.WithLabelValues(DiscrepancyFinalizeFailed).Inc()
	}
	return nil
}
