package recon

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/apmoney/backend/pkg/utils"
)

// maxFileBytes bounds uploaded settlement files.
const maxFileBytes = 16 << 20

type Handler struct {
	Engine *Engine
	Repo   Repository
}

func NewHandler(engine *Engine, repo Repository) *Handler {
	return &Handler{Engine: engine, Repo: repo}
}

// UploadSettlement ingests a provider settlement file. Accepts a multipart
// "file" field or the raw file as the request body.
func (h *Handler) UploadSettlement(w http.ResponseWriter, r *http.Request) {
	providerKey := mux.Vars(r)["provider"]

	content, fileName, err := readUpload(r)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Could not read settlement file", map[string]string{"error": err.Error()})
		return
	}
	if len(content) == 0 {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Empty settlement file", nil)
		return
	}

	summary, err := h.Engine.Ingest(r.Context(), providerKey, fileName, content)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusUnprocessableEntity, "Settlement file rejected", map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusCreated
	message := "Settlement file processed"
	if summary.AlreadySeen {
		status = http.StatusOK
		message = "Settlement file already processed"
	}
	utils.BuildSuccessResponse(w, status, message, summary)
}

// ListReports returns unresolved discrepancy reports, newest first.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r)

	reports, err := h.Repo.ListOpenReports(r.Context(), page.Limit, page.Offset)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to fetch reports", nil)
		return
	}

	count, _ := h.Repo.CountOpenReports(r.Context())

	utils.BuildSuccessResponse(w, http.StatusOK, "Open reconciliation reports", map[string]interface{}{
		"reports": reports,
		"meta":    page.Meta(count),
	})
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Note       string `json:"note"`
}

// ResolveReport closes one discrepancy report.
func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
	reportID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid report id", nil)
		return
	}

	var req resolveRequest
	if r.ContentLength > 0 {
		if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
			utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
			return
		}
	}

	if err := h.Repo.ResolveReport(r.Context(), reportID, req.ResolvedBy, req.Note); err != nil {
		if errors.Is(err, ErrReportNotFound) {
			utils.BuildErrorResponse(w, http.StatusNotFound, "Report not found or already resolved", nil)
			return
		}
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to resolve report", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Report resolved", map[string]interface{}{
		"report_id": reportID,
	})
}

func readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxFileBytes); err == nil {
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			content, err := io.ReadAll(io.LimitReader(file, maxFileBytes))
			return content, header.Filename, err
		}
	}

	content, err := io.ReadAll(io.LimitReader(r.Body, maxFileBytes))
	return content, r.URL.Query().Get("file_name"), err
}
