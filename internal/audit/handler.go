package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
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

type listResponse struct {
	Data []Entry `json:"data"`
}

// ListByOwner handles GET /api/v1/audit?owner_id=
func (h *Handler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	if err != nil {
		h.HandleError(w, errors.NewValidationFieldError("owner_id", "owner_id must be a number", errors.ErrCodeValidationFailed))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			h.HandleError(w, errors.NewValidationFieldError("limit", "limit must be a number", errors.ErrCodeValidationFailed))
			return
		}
	}

	entries, err := h.Service.ByOwner(r.Context(), ownerID, limit)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, listResponse{Data: entries})
}

// ListByReference handles GET /api/v1/audit/references/{referenceId}
func (h *Handler) ListByReference(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ByReference(r.Context(), chi.URLParam(r, "referenceId"))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, listResponse{Data: entries})
}
