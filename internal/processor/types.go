package processor

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/validation"
)

// Status is the closed set of outcomes a charge can report. Processor "ERROR" and "FAILED" never appear
// here; they are returned as *Error.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusUnknown   Status = "unknown"
	StatusReturned  Status = "returned"
	StatusCanceled  Status = "canceled"
)

type TransactionType string

const (
	TransactionPull TransactionType = "pull"
	TransactionPush TransactionType = "push"
)

// AmbiguousSignature identifies responses where the processor cannot tell whether money moved.
// An empty Gateway matches every gateway.
type AmbiguousSignature struct {
	Gateway    string
	HTTPStatus int
}

func (s AmbiguousSignature) Matches(gateway string, httpStatus int) bool {
	if s.HTTPStatus != httpStatus {
		return false
	}
	return s.Gateway == "" || strings.EqualFold(s.Gateway, gateway)
}

type Config struct {
	Name                string
	BaseURL             string
	ClientID            string
	APIKey              string
	SettlementAccount   string
	Timeout             time.Duration
	MaxNetworkRetries   int
	RetryBackoff        time.Duration
	AmbiguousSignatures []AmbiguousSignature
	HTTPClient          *http.Client
}

// ConfigFrom converts the processors.<name> config section.
func ConfigFrom(cfg errors.ProcessorConfig) Config {
	sigs := make([]AmbiguousSignature, 0, len(cfg.AmbiguousSignatures))
	for _, s := range cfg.AmbiguousSignatures {
		sigs = append(sigs, AmbiguousSignature{Gateway: s.Gateway, HTTPStatus: s.HTTPStatus})
	}
	return Config{
		Name:                cfg.Name,
		BaseURL:             cfg.BaseURL,
		ClientID:            cfg.ClientID,
		APIKey:              cfg.APIKey,
		SettlementAccount:   cfg.SettlementAccount,
		Timeout:             cfg.Timeout,
		MaxNetworkRetries:   cfg.MaxNetworkRetries,
		RetryBackoff:        cfg.RetryBackoff,
		AmbiguousSignatures: sigs,
	}
}

// ChargeRequest is one money movement submitted under ReferenceID.
type ChargeRequest struct {
	ReferenceID      string
	Type             TransactionType
	SourceToken      string
	DestinationToken string
	Amount           decimal.Decimal
	Recurring        bool
	CorrespondenceID string
	Extra            map[string]string
}

func (r ChargeRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("reference_id", r.ReferenceID).Required().MaxLength(validation.MaxReferenceIDLength)
	validator.Field("source_token", r.SourceToken).Required()
	validator.Field("amount", money.Round(r.Amount)).Positive(errors.ErrCodeInvalidAmount)

	if appErr := validator.Validate(); appErr != nil {
		return appErr.WithCause(ErrInvalidRequest)
	}
	return nil
}

// ChargeResult is a normalized processor response. ReferenceID is the reference the processor accepted,
// which differs from the requested one after a bad-correspondence retry.
type ChargeResult struct {
	TransactionID string
	ReferenceID   string
	Status        Status
	Network       string
	NetworkRC     string
	Amount        decimal.Decimal
	Processor     string
	Raw           json.RawMessage
}

// wire shapes

type transactionRequest struct {
	ReferenceID      string              `json:"referenceID"`
	Type             TransactionType     `json:"type"`
	Accounts         transactionAccounts `json:"accounts"`
	Currency         string              `json:"currency"`
	Amount           string              `json:"amount"`
	CorrespondenceID string              `json:"correspondenceID,omitempty"`
	Recurring        bool                `json:"recurring,omitempty"`
	Options          map[string]string   `json:"options,omitempty"`
}

type transactionAccounts struct {
	SourceAccount      string `json:"sourceAccount"`
	DestinationAccount string `json:"destinationAccount"`
}

type transactionResponse struct {
	TransactionID string `json:"transactionID"`
	ReferenceID   string `json:"referenceID"`
	Status        string `json:"status"`
	Amount        string `json:"amount,omitempty"`
	Network       string `json:"network,omitempty"`
	NetworkRC     string `json:"networkRC,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Message       string `json:"message,omitempty"`
}

type errorBody struct {
	SC        int    `json:"SC"`
	EC        string `json:"EC"`
	EM        string `json:"EM"`
	NetworkRC string `json:"networkRC,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
}
