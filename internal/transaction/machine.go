package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apmoney/backend/internal/wallet"
	"github.com/apmoney/backend/pkg/events"
	"github.com/apmoney/backend/pkg/logger"
	"github.com/apmoney/backend/pkg/metrics"
)

// Event is one observed outcome for a transaction, from the worker or from a
// provider webhook.
type Event struct {
	Status        Status
	Provider      string
	ProviderTxnID string
	Raw           string
	FailureReason string
	Source        string
}

type Result string

const (
	ResultApplied  Result = "applied"
	ResultNoop     Result = "noop"
	ResultRejected Result = "rejected"
)

// Outcome reports what Apply did. Noop means the event matched the current
// terminal status and was absorbed; Rejected means it conflicted with one.
type Outcome struct {
	Result Result
	Txn    *Transaction
	Reason string
}

var ErrInvalidTransition = errors.New("invalid_transition")

// Notifier pushes user-facing notifications onto the outbound queue.
type Notifier interface {
	EnqueueNotification(ctx context.Context, n events.Notification) error
}

// FinalizeFailureRecorder files a reconciliation report when the wallet
// finalize step fails after a provider reported success.
type FinalizeFailureRecorder interface {
	RecordFinalizeFailure(ctx context.Context, txnRef, provider string, amount int64, detail string) error
}

// CommissionAwarder credits the user's commission for a successful recharge.
type CommissionAwarder interface {
	Award(ctx context.Context, userID uuid.UUID, operatorCode string, amount int64, txnRef string) (int64, error)
}

// Machine applies status events to transactions. The status row commits
// first, then the wallet moves; a crash between the two leaves a success row
// with funds still reserved, which reconciliation surfaces rather than a
// double spend.
type Machine struct {
	repo       Repository
	wallets    *wallet.Engine
	commission CommissionAwarder
	failures   FinalizeFailureRecorder
	notify     Notifier
	metrics    *metrics.Metrics
}

func NewMachine(repo Repository, wallets *wallet.Engine, commission CommissionAwarder, failures FinalizeFailureRecorder, notify Notifier, m *metrics.Metrics) *Machine {
	return &Machine{
		repo:       repo,
		wallets:    wallets,
		commission: commission,
		failures:   failures,
		notify:     notify,
		metrics:    m,
	}
}

// Apply moves the transaction identified by txnRef per the event. Repeated
// events against a terminal status are no-ops; conflicting ones are rejected
// without touching the row. Wallet finalize and refund run after the status
// commit.
func (m *Machine) Apply(ctx context.Context, txnRef string, event Event) (Outcome, error) {
	var outcome Outcome

	txn, err := m.repo.Mutate(ctx, txnRef, func(txn *Transaction) error {
		if txn.Status.IsTerminal() {
			if txn.Status == event.Status {
				outcome = Outcome{Result: ResultNoop, Reason: "already_" + string(txn.Status)}
			} else {
				outcome = Outcome{
					Result: ResultRejected,
					Reason: fmt.Sprintf("terminal_status_conflict:%s->%s", txn.Status, event.Status),
				}
			}
			// Leave the row untouched either way.
			return errTerminalShortCircuit
		}

		if err := validateTransition(txn.Status, event.Status); err != nil {
			outcome = Outcome{Result: ResultRejected, Reason: err.Error()}
			return errTerminalShortCircuit
		}

		txn.Status = event.Status
		if event.Provider != "" {
			txn.Provider = event.Provider
		}
		if event.ProviderTxnID != "" {
			txn.ProviderTxnID = event.ProviderTxnID
		}
		if event.Raw != "" {
			txn.ResponsePayload = event.Raw
		}
		if event.FailureReason != "" {
			txn.FailureReason = event.FailureReason
		}
		if event.Status == StatusProcessing {
			txn.Attempts++
		}
		if event.Status.IsTerminal() {
			now := time.Now()
			txn.CompletedAt = &now
		}
		return nil
	})
	if errors.Is(err, errTerminalShortCircuit) {
		current, findErr := m.repo.FindByTxnRef(ctx, txnRef)
		if findErr == nil {
			outcome.Txn = current
		}
		return outcome, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	outcome = Outcome{Result: ResultApplied, Txn: txn}

	switch event.Status {
	case StatusSuccess:
		m.settleSuccess(ctx, txn)
	case StatusFailed:
		m.releaseHold(ctx, txn)
		m.notifyUser(ctx, txn, "Recharge failed",
			fmt.Sprintf("Your recharge of %d for %s could not be completed. The held amount has been returned.", txn.Amount, txn.Mobile))
	}

	return outcome, nil
}

// errTerminalShortCircuit aborts the Mutate save without reporting an error
// to the caller. Never escapes Apply.
var errTerminalShortCircuit = errors.New("terminal_short_circuit")

func validateTransition(from, to Status) error {
	switch to {
	case StatusProcessing:
		if from == StatusPending || from == StatusProcessing {
			return nil
		}
	case StatusSuccess, StatusFailed:
		if from == StatusPending || from == StatusProcessing {
			return nil
		}
	}
	return fmt.Errorf("%w:%s->%s", ErrInvalidTransition, from, to)
}

// settleSuccess commits the hold. A finalize failure here means the provider
// delivered but the ledger cannot debit; the transaction is forced to failed,
// the hold released and a finalize_failed report filed for operators.
func (m *Machine) settleSuccess(ctx context.Context, txn *Transaction) {
	ref := wallet.Ref{Type: TypeRecharge, ID: txn.TxnRef}

	if _, err := m.wallets.Finalize(ctx, txn.UserID.String(), txn.TotalAmount, ref); err != nil {
		logger.Error("machine: finalize failed after provider success", logger.Fields{
			logger.TxnRefKey:   txn.TxnRef,
			logger.ProviderKey: txn.Provider,
			logger.ErrorKey:    err.Error(),
		})
		if m.metrics != nil {
			m.metrics.FinalizeFailures.Inc()
		}

		forced, mErr := m.repo.Mutate(ctx, txn.TxnRef, func(t *Transaction) error {
			t.Status = StatusFailed
			t.FailureReason = "finalize_failed: " + err.Error()
			return nil
		})
		if mErr != nil {
			logger.Error("machine: could not force transaction to failed", logger.Fields{
				logger.TxnRefKey: txn.TxnRef,
				logger.ErrorKey:  mErr.Error(),
			})
		} else {
			*txn = *forced
		}

		m.releaseHold(ctx, txn)

		if m.failures != nil {
			if rErr := m.failures.RecordFinalizeFailure(ctx, txn.TxnRef, txn.Provider, txn.TotalAmount, err.Error()); rErr != nil {
				logger.Error("machine: could not file finalize failure report", logger.Fields{
					logger.TxnRefKey: txn.TxnRef,
					logger.ErrorKey:  rErr.Error(),
				})
			}
		}
		return
	}

	m.awardCommission(ctx, txn)
	m.notifyUser(ctx, txn, "Recharge successful",
		fmt.Sprintf("Your recharge of %d for %s is complete.", txn.Amount, txn.Mobile))
}

// releaseHold refunds the reserved amount. Best effort: a failure is logged
// and left for reconciliation, the status change stands.
func (m *Machine) releaseHold(ctx context.Context, txn *Transaction) {
	ref := wallet.Ref{Type: TypeRecharge, ID: txn.TxnRef, Note: txn.FailureReason}
	if _, err := m.wallets.RefundReserved(ctx, txn.UserID.String(), txn.TotalAmount, ref); err != nil {
		logger.Error("machine: refund of reserved amount failed", logger.Fields{
			logger.TxnRefKey: txn.TxnRef,
			logger.ErrorKey:  err.Error(),
		})
	}
}

func (m *Machine) awardCommission(ctx context.Context, txn *Transaction) {
	if m.commission == nil {
		return
	}
	earned, err := m.commission.Award(ctx, txn.UserID, txn.OperatorCode, txn.Amount, txn.TxnRef)
	if err != nil {
		logger.Error("machine: commission award failed", logger.Fields{
			logger.TxnRefKey: txn.TxnRef,
			logger.ErrorKey:  err.Error(),
		})
		return
	}
	if earned > 0 {
		if updated, err := m.repo.Mutate(ctx, txn.TxnRef, func(t *Transaction) error {
			t.CommissionAmount = earned
			return nil
		}); err == nil {
			*txn = *updated
		}
		logger.Info("machine: commission credited", logger.Fields{
			logger.TxnRefKey: txn.TxnRef,
			"commission":     earned,
		})
	}
}

func (m *Machine) notifyUser(ctx context.Context, txn *Transaction, title, body string) {
	if m.notify == nil {
		return
	}
	n := events.Notification{
		UserID: txn.UserID.String(),
		Title:  title,
		Body:   body,
		Data: map[string]string{
			"txn_ref": txn.TxnRef,
			"status":  string(txn.Status),
		},
	}
	if err := m.notify.EnqueueNotification(ctx, n); err != nil {
		logger.Warn("machine: notification enqueue failed", logger.Fields{
			logger.TxnRefKey: txn.TxnRef,
			logger.ErrorKey:  err.Error(),
		})
	}
}

// Reverse refunds a successful recharge back to the wallet, for support and
// admin remediation. Only success can move to reversed.
func (m *Machine) Reverse(ctx context.Context, txnRef, note string) (*Transaction, error) {
	txn, err := m.repo.Mutate(ctx, txnRef, func(t *Transaction) error {
		if t.Status != StatusSuccess {
			return fmt.Errorf("%w:%s->%s", ErrInvalidTransition, t.Status, StatusReversed)
		}
		t.Status = StatusReversed
		if note != "" {
			t.FailureReason = note
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ref := wallet.Ref{Type: "reversal", ID: txn.TxnRef, Note: note}
	if _, err := m.wallets.Credit(ctx, txn.UserID.String(), txn.TotalAmount, ref); err != nil {
		logger.Error("machine: reversal credit failed", logger.Fields{
			logger.TxnRefKey: txn.TxnRef,
			logger.ErrorKey:  err.Error(),
		})
		return txn, err
	}

	m.notifyUser(ctx, txn, "Recharge reversed",
		fmt.Sprintf("Your recharge %s was reversed and %d returned to your wallet.", txn.TxnRef, txn.TotalAmount))
	return txn, nil
}
