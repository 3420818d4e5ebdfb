package charge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/validation"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

type ProcessorClient interface {
	Name() string
	Charge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error)
}

type AuditWriter interface {
	Append(ctx context.Context, record *model.AuditRecord) error
}

type ChargeInput struct {
	Attempt    *model.ChargeAttempt
	Obligation *model.Obligation
	Source     FundingSource
	Amount     decimal.Decimal
}

// ExternalPayment is a charge the processor accepted. Status is never a failure state.
type ExternalPayment struct {
	ID          string
	Status      processor.Status
	Amount      decimal.Decimal
	Processor   string
	SourceType  string
	ReferenceID string
}

// Creator charges one kind of funding source. Every call appends exactly one audit record, and every
// returned error is a *Error.
type Creator interface {
	Processor() string
	Charge(ctx context.Context, in ChargeInput) (*ExternalPayment, error)
}

type creatorBase struct {
	sourceType string
	client     ProcessorClient
	audit      AuditWriter
	logger     *slog.Logger
	now        func() time.Time
}

func (c *creatorBase) Processor() string {
	return c.client.Name()
}

func (c *creatorBase) validate(in ChargeInput) *Error {
	if in.Source == nil {
		return newValidationError(nil, "funding source is required")
	}
	if in.Source.SourceType() != c.sourceType {
		return newValidationError(in.Source, "funding source type "+in.Source.SourceType()+" cannot be charged as "+c.sourceType)
	}
	if !in.Source.Usable() {
		return newValidationError(in.Source, "funding source is invalid or deleted")
	}
	if in.Obligation == nil || in.Attempt == nil {
		return newValidationError(in.Source, "obligation and attempt are required")
	}
	if in.Source.Owner() != in.Obligation.OwnerID {
		return newValidationError(in.Source, "funding source does not belong to the obligation owner")
	}
	if appErr := validation.ValidateChargeAmount(in.Amount, in.Obligation.Remaining()); appErr != nil {
		verr := newValidationError(in.Source, appErr.Error())
		verr.Cause = appErr
		return verr
	}
	if appErr := validation.ValidateReferenceID(in.Attempt.ReferenceID); appErr != nil {
		verr := newValidationError(in.Source, appErr.Error())
		verr.Cause = appErr
		return verr
	}
	return nil
}

// reject audits a pre-flight failure and returns it.
func (c *creatorBase) reject(ctx context.Context, in ChargeInput, verr *Error) (*ExternalPayment, error) {
	verr.Processor = c.client.Name()
	if in.Attempt != nil {
		verr.AttemptID = in.Attempt.ID
		verr.ReferenceID = in.Attempt.ReferenceID
	}
	if verr.OwnerID == 0 && in.Obligation != nil {
		verr.OwnerID = in.Obligation.OwnerID
	}

	c.logger.Warn("charge rejected before reaching the processor",
		"attempt_id", verr.AttemptID,
		"source_id", verr.SourceID,
		"reason", verr.Reason)

	c.appendAudit(ctx, in, model.OutcomeFailed, verr.ReferenceID, &verr.Class, map[string]interface{}{
		"reason": verr.Reason,
	})
	return nil, verr
}

func (c *creatorBase) execute(ctx context.Context, in ChargeInput, req processor.ChargeRequest) (*ExternalPayment, error) {
	result, err := c.client.Charge(ctx, req)
	if err != nil {
		cerr := c.failure(in, req, err)
		outcome := model.OutcomeFailed
		if cerr.Class == ClassProcessorAmbiguous {
			outcome = model.OutcomeAmbiguous
		}
		c.appendAudit(ctx, in, outcome, cerr.ReferenceID, &cerr.Class, failurePayload(req, err, cerr))
		return nil, cerr
	}

	payment := &ExternalPayment{
		ID:          result.TransactionID,
		Status:      result.Status,
		Amount:      in.Amount,
		Processor:   c.client.Name(),
		SourceType:  c.sourceType,
		ReferenceID: result.ReferenceID,
	}
	payload := map[string]interface{}{
		"amount":         money.Wire(in.Amount),
		"status":         string(result.Status),
		"transaction_id": result.TransactionID,
		"recurring":      req.Recurring,
	}
	if req.CorrespondenceID != "" {
		payload["correspondence_id"] = req.CorrespondenceID
	}

	switch result.Status {
	case processor.StatusCompleted:
		c.appendAudit(ctx, in, model.OutcomeSucceeded, result.ReferenceID, nil, payload)
		return payment, nil
	case processor.StatusPending:
		c.appendAudit(ctx, in, model.OutcomePending, result.ReferenceID, nil, payload)
		return payment, nil
	case processor.StatusUnknown:
		class := ClassProcessorAmbiguous
		c.appendAudit(ctx, in, model.OutcomeAmbiguous, result.ReferenceID, &class, payload)
		return payment, nil
	default:
		// returned or canceled on the immediate response: nothing was collected
		cerr := &Error{
			Class:         ClassProcessorDeclined,
			Reason:        "processor reported " + string(result.Status),
			SourceID:      in.Source.SourceID(),
			SourceType:    c.sourceType,
			OwnerID:       in.Obligation.OwnerID,
			AttemptID:     in.Attempt.ID,
			ReferenceID:   result.ReferenceID,
			Processor:     c.client.Name(),
			AttemptStatus: string(result.Status),
		}
		c.appendAudit(ctx, in, model.OutcomeFailed, result.ReferenceID, &cerr.Class, payload)
		return nil, cerr
	}
}

func (c *creatorBase) failure(in ChargeInput, req processor.ChargeRequest, err error) *Error {
	class := Classify(err)

	cerr := &Error{
		Class:         class,
		Reason:        err.Error(),
		SourceID:      in.Source.SourceID(),
		SourceType:    c.sourceType,
		OwnerID:       in.Obligation.OwnerID,
		AttemptID:     in.Attempt.ID,
		ReferenceID:   req.ReferenceID,
		Processor:     c.client.Name(),
		AttemptStatus: model.AttemptStatusCanceled,
		Cause:         err,
	}

	var perr *processor.Error
	if errors.As(err, &perr) {
		if perr.ReferenceID != "" {
			cerr.ReferenceID = perr.ReferenceID
		}
		if code := perr.ReasonCode(); code != "" {
			cerr.Reason = code
		}
	}
	if class == ClassProcessorAmbiguous {
		cerr.AttemptStatus = model.AttemptStatusUnknown
	}

	c.logger.Warn("charge failed",
		"attempt_id", cerr.AttemptID,
		"reference_id", cerr.ReferenceID,
		"classification", cerr.Class,
		"reason", cerr.Reason,
		"error", err)

	return cerr
}

func failurePayload(req processor.ChargeRequest, err error, cerr *Error) map[string]interface{} {
	payload := map[string]interface{}{
		"amount": money.Wire(req.Amount),
		"reason": cerr.Reason,
		"error":  err.Error(),
	}
	var perr *processor.Error
	if errors.As(err, &perr) {
		payload["http_status"] = perr.HTTPStatus
		payload["ec"] = perr.EC
		payload["network_rc"] = perr.NetworkRC
		payload["gateway"] = perr.Gateway
		payload["transport"] = perr.Transport
	}
	return payload
}

func (c *creatorBase) appendAudit(ctx context.Context, in ChargeInput, outcome, referenceID string, class *Classification, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}

	record := &model.AuditRecord{
		ID:          uuid.New().String(),
		Outcome:     outcome,
		ReferenceID: referenceID,
		Processor:   c.client.Name(),
		SourceType:  c.sourceType,
		Payload:     datatypes.JSON(data),
		CreatedAt:   c.now().UTC(),
	}
	if in.Obligation != nil {
		record.OwnerID = in.Obligation.OwnerID
		record.ObligationID = in.Obligation.ID
	}
	if in.Attempt != nil {
		record.AttemptID = in.Attempt.ID
	}
	if in.Source != nil {
		record.SourceID = in.Source.SourceID()
	}
	if class != nil {
		s := string(*class)
		record.Classification = &s
	}

	if err := c.audit.Append(ctx, record); err != nil {
		c.logger.Error("failed to append audit record",
			"attempt_id", record.AttemptID,
			"outcome", outcome,
			"error", err)
	}
}
