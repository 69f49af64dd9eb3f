package transaction

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/apmoney/backend/pkg/utils"
)

type Handler struct {
	Machine *Machine
	Repo    Repository
}

func NewHandler(machine *Machine, repo Repository) *Handler {
	return &Handler{Machine: machine, Repo: repo}
}

type reverseRequest struct {
	Note string `json:"note"`
}

// Reverse is the admin remediation endpoint: refunds a successful recharge
// back to the user's wallet.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	txnRef := mux.Vars(r)["txn_ref"]

	var req reverseRequest
	if r.ContentLength > 0 {
		if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
			utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
			return
		}
	}

	txn, err := h.Machine.Reverse(r.Context(), txnRef, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			utils.BuildErrorResponse(w, http.StatusNotFound, "Transaction not found", nil)
		case errors.Is(err, ErrInvalidTransition):
			utils.BuildErrorResponse(w, http.StatusConflict, "Only successful transactions can be reversed", nil)
		default:
			utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to reverse transaction", nil)
		}
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction reversed", map[string]interface{}{
		"txn_ref": txn.TxnRef,
		"status":  txn.Status,
		"amount":  txn.TotalAmount,
	})
}

// GetByRef is the admin lookup by txn_ref, unscoped.
func (h *Handler) GetByRef(w http.ResponseWriter, r *http.Request) {
	txnRef := mux.Vars(r)["txn_ref"]

	txn, err := h.Repo.FindByTxnRef(r.Context(), txnRef)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction", txn)
}
