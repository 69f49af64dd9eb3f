package wallet

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/apmoney/backend/internal/user"
	"github.com/apmoney/backend/pkg/config"
	"github.com/apmoney/backend/pkg/utils"
)

type Handler struct {
	Config config.Config
	Repo   Repository
	Engine *Engine
}

func NewHandler(cfg config.Config, repo Repository, engine *Engine) *Handler {
	return &Handler{Config: cfg, Repo: repo, Engine: engine}
}

type CreateWalletRequest struct {
	Pin string `json:"pin"`
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	usr, ok := r.Context().Value(utils.UserKey).(user.User)
	if !ok {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	var req CreateWalletRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if len(req.Pin) != 4 {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "PIN must be 4 digits", nil)
		return
	}

	existing, _ := h.Repo.GetWalletByUserID(usr.ID.String())
	if existing != nil {
		utils.BuildErrorResponse(w, http.StatusConflict, "User already has a wallet", nil)
		return
	}

	hashedPin, err := bcrypt.GenerateFromPassword([]byte(req.Pin), bcrypt.DefaultCost)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to secure PIN", nil)
		return
	}

	wallet := Wallet{
		UserID:   usr.ID,
		PinHash:  string(hashedPin),
		Balance:  0,
		Reserved: 0,
		Currency: "INR",
	}

	if err := h.Repo.CreateWallet(&wallet); err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to create wallet", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusCreated, "Wallet created successfully", map[string]interface{}{
		"wallet_id": wallet.ID,
		"balance":   wallet.Balance,
		"currency":  wallet.Currency,
	})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	wallet, err := h.Repo.GetWalletByUserID(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Details", map[string]interface{}{
		"wallet_id": wallet.ID,
		"balance":   wallet.Balance,
		"reserved":  wallet.Reserved,
		"available": wallet.Available(),
		"currency":  wallet.Currency,
	})
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	wallet, err := h.Repo.GetWalletByUserID(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}

	page := utils.ParsePage(r)

	entries, err := h.Repo.GetLedgerEntries(wallet.ID.String(), page.Limit, page.Offset)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to fetch ledger", nil)
		return
	}

	count, _ := h.Repo.CountLedgerEntries(wallet.ID.String())

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Ledger", map[string]interface{}{
		"entries": entries,
		"meta":    page.Meta(count),
	})
}

type AdjustmentRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	RefID  string `json:"ref_id"`
	Note   string `json:"note"`
}

// AdminCredit and AdminDebit re-enter the ledger engine for manual
// adjustments, typically resolving a reconciliation report.
func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	res, err := h.Engine.Credit(r.Context(), req.UserID, req.Amount, Ref{
		Type: "admin_adjustment",
		ID:   req.RefID,
		Note: req.Note,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet credited", res)
}

func (h *Handler) AdminDebit(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	res, err := h.Engine.Debit(r.Context(), req.UserID, req.Amount, Ref{
		Type: "admin_adjustment",
		ID:   req.RefID,
		Note: req.Note,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet debited", res)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch err {
	case ErrInvalidAmount:
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid amount", nil)
	case ErrWalletNotFound:
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
	case ErrInsufficientFunds:
		utils.BuildErrorResponse(w, http.StatusConflict, "Insufficient funds", nil)
	case ErrReservedInsufficient:
		utils.BuildErrorResponse(w, http.StatusConflict, "Reserved amount insufficient", nil)
	default:
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Ledger operation failed", nil)
	}
}
