package webhook

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/apmoney/backend/pkg/utils"
)

// maxBodyBytes bounds inbound webhook payloads.
const maxBodyBytes = 1 << 20

type Handler struct {
	Pipeline *Pipeline
}

func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{Pipeline: pipeline}
}

// Receive is the provider-facing webhook endpoint. The provider key comes
// from the path; everything else is delegated to the pipeline.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	providerKey := mux.Vars(r)["provider"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Could not read body", nil)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	outcome := h.Pipeline.Process(r.Context(), providerKey, body, headers, time.Now())

	if outcome.Status >= http.StatusBadRequest {
		utils.BuildErrorResponse(w, outcome.Status, outcome.Result, nil)
		return
	}
	utils.BuildSuccessResponse(w, outcome.Status, "acknowledged", map[string]interface{}{
		"result":  outcome.Result,
		"txn_ref": outcome.TxnRef,
	})
}
