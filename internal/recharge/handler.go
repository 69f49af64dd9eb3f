package recharge

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/apmoney/backend/internal/transaction"
	"github.com/apmoney/backend/internal/user"
	"github.com/apmoney/backend/internal/wallet"
	"github.com/apmoney/backend/pkg/config"
	"github.com/apmoney/backend/pkg/events"
	"github.com/apmoney/backend/pkg/logger"
	"github.com/apmoney/backend/pkg/utils"
)

var validate = validator.New()

type Handler struct {
	Config  config.Config
	Txns    transaction.Repository
	Wallets wallet.Repository
	Engine  *wallet.Engine
	Queue   *events.RedisClient
}

func NewHandler(cfg config.Config, txns transaction.Repository, wallets wallet.Repository, engine *wallet.Engine, queue *events.RedisClient) *Handler {
	return &Handler{Config: cfg, Txns: txns, Wallets: wallets, Engine: engine, Queue: queue}
}

type InitiateRequest struct {
	TxnRef       string `json:"txn_ref" validate:"required,min=6,max=64"`
	Mobile       string `json:"mobile" validate:"required,len=10,numeric"`
	OperatorCode string `json:"operator_code" validate:"required,min=2,max=16"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	Pin          string `json:"pin" validate:"required,len=4,numeric"`
}

// Initiate places a recharge order: PIN check, hold on amount plus service
// charge, pending transaction row, job on the queue. The client-supplied
// txn_ref is the idempotency key; a replay returns the existing transaction.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	usr, ok := r.Context().Value(utils.UserKey).(user.User)
	if !ok {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	var req InitiateRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if err := validate.Struct(req); err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Validation failed", validationErrors(err))
		return
	}

	if req.Amount < h.Config.MinRechargeAmount {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Amount below minimum", map[string]interface{}{
			"min_amount": h.Config.MinRechargeAmount,
		})
		return
	}

	if existing, err := h.Txns.FindByTxnRef(r.Context(), req.TxnRef); err == nil {
		utils.BuildSuccessResponse(w, http.StatusOK, "Transaction already exists", transactionBody(existing))
		return
	}

	wlt, err := h.Wallets.GetWalletByUserID(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(wlt.PinHash), []byte(req.Pin)) != nil {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Incorrect wallet PIN", nil)
		return
	}

	serviceCharge := req.Amount * h.Config.ServiceChargeBps / 10000
	total := req.Amount + serviceCharge

	ref := wallet.Ref{Type: transaction.TypeRecharge, ID: req.TxnRef}
	if _, err := h.Engine.Reserve(r.Context(), usr.ID.String(), total, ref); err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			utils.BuildErrorResponse(w, http.StatusConflict, "Insufficient wallet balance", map[string]interface{}{
				"required":  total,
				"available": wlt.Available(),
			})
			return
		}
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to reserve funds", nil)
		return
	}

	txn := &transaction.Transaction{
		TxnRef:        req.TxnRef,
		UserID:        usr.ID,
		Type:          transaction.TypeRecharge,
		Amount:        req.Amount,
		ServiceCharge: serviceCharge,
		TotalAmount:   total,
		OperatorCode:  req.OperatorCode,
		Mobile:        req.Mobile,
		Status:        transaction.StatusPending,
	}
	if err := h.Txns.Create(r.Context(), txn); err != nil {
		// Likely a concurrent initiation with the same txn_ref. Release our
		// hold and return the row that won.
		if _, rErr := h.Engine.RefundReserved(r.Context(), usr.ID.String(), total, ref); rErr != nil {
			logger.Error("initiate: hold release after create conflict failed", logger.Fields{
				logger.TxnRefKey: req.TxnRef,
				logger.ErrorKey:  rErr.Error(),
			})
		}
		if existing, fErr := h.Txns.FindByTxnRef(r.Context(), req.TxnRef); fErr == nil {
			utils.BuildSuccessResponse(w, http.StatusOK, "Transaction already exists", transactionBody(existing))
			return
		}
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to create transaction", nil)
		return
	}

	job := events.RechargeJob{
		TransactionID: txn.ID.String(),
		TxnRef:        txn.TxnRef,
		UserID:        txn.UserID.String(),
		Amount:        txn.Amount,
		ServiceCharge: txn.ServiceCharge,
		OperatorCode:  txn.OperatorCode,
		Mobile:        txn.Mobile,
	}
	if err := h.Queue.EnqueueRecharge(r.Context(), job); err != nil {
		logger.Error("initiate: enqueue failed, transaction left pending", logger.Fields{
			logger.TxnRefKey: txn.TxnRef,
			logger.ErrorKey:  err.Error(),
		})
	}

	utils.BuildSuccessResponse(w, http.StatusAccepted, "Recharge initiated", transactionBody(txn))
}

// GetStatus returns one transaction by txn_ref, scoped to the caller.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)
	txnRef := mux.Vars(r)["txn_ref"]

	txn, err := h.Txns.FindByTxnRef(r.Context(), txnRef)
	if err != nil || txn.UserID != usr.ID {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction status", transactionBody(txn))
}

// List returns the caller's transactions, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)
	page := utils.ParsePage(r)

	txns, err := h.Txns.ListByUser(r.Context(), usr.ID.String(), page.Limit, page.Offset)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to fetch transactions", nil)
		return
	}

	count, _ := h.Txns.CountByUser(r.Context(), usr.ID.String())

	utils.BuildSuccessResponse(w, http.StatusOK, "Transactions", map[string]interface{}{
		"transactions": txns,
		"meta":         page.Meta(count),
	})
}

func transactionBody(txn *transaction.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": txn.ID,
		"txn_ref":        txn.TxnRef,
		"status":         txn.Status,
		"amount":         txn.Amount,
		"service_charge": txn.ServiceCharge,
		"total_amount":   txn.TotalAmount,
		"operator_code":  txn.OperatorCode,
		"mobile":         txn.Mobile,
		"failure_reason": txn.FailureReason,
	}
}

func validationErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Field()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
