package collection

import (
	"time"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/validation"
)

// CollectRequestDTO is the body of POST /api/v1/collections
type CollectRequestDTO struct {
	ObligationID      string `json:"obligation_id"`
	PrimarySourceID   string `json:"primary_source_id,omitempty"`
	SecondarySourceID string `json:"secondary_source_id,omitempty"`
	Amount            string `json:"amount,omitempty"`
	LinkedExpress     bool   `json:"linked_express,omitempty"`
}

func (r *CollectRequestDTO) Validate() error {
	validator := validation.NewValidator()

	validator.Field("obligation_id", r.ObligationID).Required().MaxLength(64)
	validator.Field("primary_source_id", r.PrimarySourceID).MaxLength(64)
	validator.Field("secondary_source_id", r.SecondarySourceID).MaxLength(64)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}

	if r.PrimarySourceID == "" && r.SecondarySourceID == "" {
		return errors.NewValidationFieldError("primary_source_id", "at least one funding source is required", errors.ErrCodeInvalidSource)
	}
	return nil
}

func (r *CollectRequestDTO) ToRequest() (CollectRequest, error) {
	req := CollectRequest{
		ObligationID:      r.ObligationID,
		PrimarySourceID:   r.PrimarySourceID,
		SecondarySourceID: r.SecondarySourceID,
		LinkedExpress:     r.LinkedExpress,
	}
	if r.Amount != "" {
		amount, err := money.Parse(r.Amount)
		if err != nil {
			return req, errors.NewValidationFieldError("amount", err.Error(), errors.ErrCodeInvalidAmount)
		}
		req.Amount = &amount
	}
	return req, nil
}

type CollectResponse struct {
	ChargeID      string `json:"charge_id"`
	ReferenceID   string `json:"reference_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	SourceType    string `json:"source_type"`
	Processor     string `json:"processor"`
	UsedSecondary bool   `json:"used_secondary"`
}

func NewCollectResponse(r *CollectResult) CollectResponse {
	return CollectResponse{
		ChargeID:      r.ChargeID,
		ReferenceID:   r.ReferenceID,
		Status:        r.Status,
		Amount:        money.Wire(r.Amount),
		SourceType:    r.SourceType,
		Processor:     r.Processor,
		UsedSecondary: r.UsedSecondary,
	}
}

type ChargeResponse struct {
	ID             string     `json:"id"`
	ObligationID   string     `json:"obligation_id"`
	SourceType     string     `json:"source_type"`
	Amount         string     `json:"amount"`
	ReferenceID    string     `json:"reference_id"`
	Processor      string     `json:"processor"`
	Status         string     `json:"status"`
	ExternalID     string     `json:"external_id,omitempty"`
	Classification string     `json:"classification,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func NewChargeResponse(v *ChargeView) ChargeResponse {
	return ChargeResponse{
		ID:             v.ID,
		ObligationID:   v.ObligationID,
		SourceType:     v.SourceType,
		Amount:         money.Wire(v.Amount),
		ReferenceID:    v.ReferenceID,
		Processor:      v.Processor,
		Status:         v.Status,
		ExternalID:     v.ExternalID,
		Classification: v.Classification,
		FailureReason:  v.FailureReason,
		RequestedAt:    v.RequestedAt,
		CompletedAt:    v.CompletedAt,
	}
}
