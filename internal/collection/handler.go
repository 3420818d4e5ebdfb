package collection

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: *transport.NewBaseHandler(logger),
		Service:     service,
	}
}

type dataResponse struct {
	Data interface{} `json:"data"`
}

// Collect handles POST /api/v1/collections
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	var dto CollectRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("Collect: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := dto.Validate(); err != nil {
		h.HandleError(w, err)
		return
	}

	req, err := dto.ToRequest()
	if err != nil {
		h.HandleError(w, err)
		return
	}

	result, err := h.Service.Collect(r.Context(), req)
	if err != nil {
		h.Logger.Warn("Collect: collection failed", "obligation_id", req.ObligationID, "error", err)
		h.HandleError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status != model.AttemptStatusCompleted {
		status = http.StatusAccepted
	}

	h.WriteJSON(w, status, dataResponse{Data: NewCollectResponse(result)})
}

// GetCharge handles GET /api/v1/charges/{id}
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetCharge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dataResponse{Data: NewChargeResponse(view)})
}
