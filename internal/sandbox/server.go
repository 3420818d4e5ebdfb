package sandbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/validation"
	"github.com/frahmantamala/charge-orchestrator/internal/transport"
)

type Config struct {
	Gateway string
	APIKey  string
}

func ConfigFrom(cfg apperrors.SandboxConfig) Config {
	return Config{Gateway: cfg.Gateway, APIKey: cfg.APIKey}
}

type TransactionRequest struct {
	ReferenceID string `json:"referenceID"`
	Type        string `json:"type"`
	Accounts    struct {
		SourceAccount      string `json:"sourceAccount"`
		DestinationAccount string `json:"destinationAccount"`
	} `json:"accounts"`
	Currency         string            `json:"currency"`
	Amount           string            `json:"amount"`
	CorrespondenceID string            `json:"correspondenceID,omitempty"`
	Recurring        bool              `json:"recurring,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
}

type TransactionResponse struct {
	TransactionID string `json:"transactionID"`
	ReferenceID   string `json:"referenceID"`
	Status        string `json:"status"`
	Amount        string `json:"amount,omitempty"`
	Network       string `json:"network,omitempty"`
	NetworkRC     string `json:"networkRC,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Message       string `json:"message,omitempty"`
}

type ErrorBody struct {
	SC        int    `json:"SC"`
	EC        string `json:"EC"`
	EM        string `json:"EM"`
	NetworkRC string `json:"networkRC,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
}

type settleRequest struct {
	Status string `json:"status"`
}

// Handler is a local processor speaking the charge wire contract. A reference is charged at most once;
// resubmitting it returns the stored result.
type Handler struct {
	transport.BaseHandler
	store  *Store
	config Config
}

func NewHandler(store *Store, config Config, logger *slog.Logger) *Handler {
	if config.Gateway == "" {
		config.Gateway = "sandbox"
	}
	return &Handler{
		BaseHandler: *transport.NewBaseHandler(logger),
		store:       store,
		config:      config,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.authenticate)
	r.Post("/v1/transactions", h.CreateTransaction)
	r.Get("/v1/transactions", h.ListTransactions)
	r.Get("/v1/transactions/{referenceID}", h.GetTransaction)
	r.Post("/v1/transactions/{referenceID}/settle", h.SettleTransaction)
	return r
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.APIKey != "" && h.ExtractTokenFromHeader(r) != h.config.APIKey {
			h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", "")
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), "")
		return
	}

	validator := validation.NewValidator()
	validator.Field("referenceID", req.ReferenceID).Required().MaxLength(validation.MaxReferenceIDLength)
	validator.Field("sourceAccount", req.Accounts.SourceAccount).Required()
	validator.Field("amount", amount).Positive(apperrors.ErrCodeInvalidAmount)
	if appErr := validator.Validate(); appErr != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", appErr.GetDetailedMessage(), "")
		return
	}

	if existing, err := h.store.Get(req.ReferenceID); err == nil {
		h.Logger.Info("sandbox: replaying transaction", "reference_id", req.ReferenceID, "status", existing.Status)
		h.writeTransaction(w, existing)
		return
	} else if !errors.Is(err, ErrNotFound) {
		h.Logger.Error("sandbox: failed to read transaction", "reference_id", req.ReferenceID, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "try again later", "")
		return
	}

	out := decide(req.Accounts.SourceAccount, req.CorrespondenceID, req.Type)
	if !out.record {
		h.Logger.Info("sandbox: rejecting transaction", "reference_id", req.ReferenceID, "ec", out.errorCode)
		h.writeError(w, out.httpStatus, out.errorCode, out.message, out.networkRC)
		return
	}

	t, created, err := h.store.Create(&Transaction{
		TransactionID:      uuid.New().String(),
		ReferenceID:        req.ReferenceID,
		Type:               req.Type,
		SourceAccount:      req.Accounts.SourceAccount,
		DestinationAccount: req.Accounts.DestinationAccount,
		Amount:             money.Wire(amount),
		CorrespondenceID:   req.CorrespondenceID,
		Recurring:          req.Recurring,
		Options:            req.Options,
		Status:             out.status,
		Network:            out.network,
		NetworkRC:          out.networkRC,
		ErrorCode:          out.errorCode,
		Message:            out.message,
		HTTPStatus:         out.httpStatus,
	})
	if err != nil {
		h.Logger.Error("sandbox: failed to store transaction", "reference_id", req.ReferenceID, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "try again later", "")
		return
	}

	h.Logger.Info("sandbox: transaction accepted",
		"reference_id", t.ReferenceID,
		"status", t.Status,
		"amount", t.Amount,
		"created", created)

	if created && t.HTTPStatus >= http.StatusInternalServerError {
		h.writeError(w, t.HTTPStatus, t.ErrorCode, t.Message, "")
		return
	}
	h.writeTransaction(w, t)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Get(chi.URLParam(r, "referenceID"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "NOT_FOUND", "transaction not found", "")
			return
		}
		h.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "try again later", "")
		return
	}
	h.writeTransaction(w, t)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "try again later", "")
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": items})
}

// SettleTransaction moves a sandbox transaction to a final status, as a processor does when a pending
// charge clears or is returned.
func (h *Handler) SettleTransaction(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", "")
		return
	}

	status := strings.ToUpper(req.Status)
	switch status {
	case "COMPLETED", "RETURNED", "CANCELED", "FAILED":
	default:
		h.writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be COMPLETED, RETURNED, CANCELED or FAILED", "")
		return
	}

	t, err := h.store.SetStatus(chi.URLParam(r, "referenceID"), status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "NOT_FOUND", "transaction not found", "")
			return
		}
		h.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "try again later", "")
		return
	}
	h.writeTransaction(w, t)
}

func (h *Handler) writeTransaction(w http.ResponseWriter, t *Transaction) {
	h.WriteJSON(w, http.StatusOK, TransactionResponse{
		TransactionID: t.TransactionID,
		ReferenceID:   t.ReferenceID,
		Status:        t.Status,
		Amount:        t.Amount,
		Network:       t.Network,
		NetworkRC:     t.NetworkRC,
		ErrorCode:     t.ErrorCode,
		Message:       t.Message,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, ec, em, networkRC string) {
	h.WriteJSON(w, status, ErrorBody{
		SC:        status,
		EC:        ec,
		EM:        em,
		NetworkRC: networkRC,
		Gateway:   h.config.Gateway,
	})
}
