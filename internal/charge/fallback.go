package charge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/core/events"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

type BeginParams struct {
	ObligationID string
	Source       FundingSource
	Amount       decimal.Decimal
	Processor    string
	ReferenceID  string
}

type AttemptUpdate struct {
	Status         string
	ExternalID     string
	ReferenceID    string
	Classification Classification
	FailureReason  string
}

// AttemptStore persists attempts. Begin locks the obligation, rejects when another attempt is in
// flight or the amount exceeds the remaining balance, and returns the new attempt together with the
// obligation as it was under the lock.
type AttemptStore interface {
	Begin(ctx context.Context, params BeginParams) (*model.ChargeAttempt, *model.Obligation, error)
	Record(ctx context.Context, attempt *model.ChargeAttempt, update AttemptUpdate) (*model.ChargeAttempt, error)
}

type AuditLog interface {
	AuditWriter
	HasTaggedSince(ctx context.Context, obligationID, tag string, since time.Time) (bool, error)
}

// Plan is everything the coordinator needs for one collection. WindowStart is fixed by the caller so
// the decision does not depend on when it is evaluated.
type Plan struct {
	ObligationID  string
	Primary       FundingSource
	Secondary     FundingSource
	Amount        decimal.Decimal
	LinkedExpress bool
	WindowStart   time.Time
}

type Result struct {
	Attempt       *model.ChargeAttempt
	Payment       *ExternalPayment
	UsedSecondary bool
	PrimaryError  *Error
}

// Coordinator runs at most two attempts: the primary source, then the secondary when the fallback
// table allows it.
type Coordinator struct {
	attempts    AttemptStore
	audit       AuditLog
	debitCard   Creator
	bankAccount Creator
	publisher   events.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

func NewCoordinator(attempts AttemptStore, audit AuditLog, debitCard, bankAccount Creator, publisher events.Publisher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		attempts:    attempts,
		audit:       audit,
		debitCard:   debitCard,
		bankAccount: bankAccount,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

func (c *Coordinator) Execute(ctx context.Context, plan Plan) (*Result, error) {
	if plan.Primary == nil {
		if plan.Secondary == nil {
			return nil, newValidationError(nil, "no funding source configured")
		}
		res, err := c.attempt(ctx, plan, plan.Secondary)
		if err != nil {
			return nil, err
		}
		res.UsedSecondary = true
		return res, nil
	}

	res, err := c.attempt(ctx, plan, plan.Primary)
	if err == nil {
		return res, nil
	}

	var primaryErr *Error
	if !errors.As(err, &primaryErr) {
		return nil, err
	}

	priorUnknown := false
	if primaryErr.Class == ClassUnknownError {
		priorUnknown = c.unknownErrorPath(ctx, plan, primaryErr)
	}

	decision := Decide(primaryErr.Class, plan.Secondary != nil, plan.LinkedExpress, priorUnknown)
	c.logger.Info("fallback decision",
		"obligation_id", plan.ObligationID,
		"classification", primaryErr.Class,
		"fallback", decision.Fallback,
		"reason", decision.Reason)

	if !decision.Fallback {
		return nil, primaryErr
	}

	res, err = c.attempt(ctx, plan, plan.Secondary)
	if err != nil {
		var secondaryErr *Error
		if !errors.As(err, &secondaryErr) {
			secondaryErr = AsError(err)
			secondaryErr.SourceID = plan.Secondary.SourceID()
			secondaryErr.SourceType = plan.Secondary.SourceType()
			secondaryErr.OwnerID = plan.Secondary.Owner()
		}
		secondaryErr.Primary = primaryErr
		return nil, secondaryErr
	}

	res.UsedSecondary = true
	res.PrimaryError = primaryErr
	return res, nil
}

// unknownErrorPath reports whether the unknown-error path was already taken inside the window, then
// records that it is being taken now.
func (c *Coordinator) unknownErrorPath(ctx context.Context, plan Plan, primaryErr *Error) bool {
	prior, err := c.audit.HasTaggedSince(ctx, plan.ObligationID, model.TagUnknownErrorPath, plan.WindowStart)
	if err != nil {
		c.logger.Error("failed to look up unknown error path audit, suppressing fallback",
			"obligation_id", plan.ObligationID,
			"error", err)
		prior = true
	}

	tag := model.TagUnknownErrorPath
	class := string(primaryErr.Class)
	payload, _ := json.Marshal(map[string]interface{}{
		"reason":             primaryErr.Reason,
		"prior_in_window":    prior,
		"window_start":       plan.WindowStart.UTC(),
		"secondary_provided": plan.Secondary != nil,
	})

	record := &model.AuditRecord{
		ID:             uuid.New().String(),
		OwnerID:        primaryErr.OwnerID,
		ObligationID:   plan.ObligationID,
		AttemptID:      primaryErr.AttemptID,
		ReferenceID:    primaryErr.ReferenceID,
		Processor:      primaryErr.Processor,
		SourceType:     primaryErr.SourceType,
		SourceID:       primaryErr.SourceID,
		Outcome:        model.OutcomeFailed,
		Classification: &class,
		Tag:            &tag,
		Payload:        datatypes.JSON(payload),
		CreatedAt:      c.now().UTC(),
	}
	if err := c.audit.Append(ctx, record); err != nil {
		c.logger.Error("failed to append unknown error path audit",
			"obligation_id", plan.ObligationID,
			"error", err)
	}

	return prior
}

func (c *Coordinator) creatorFor(src FundingSource) Creator {
	switch src.(type) {
	case DebitCard:
		return c.debitCard
	case BankAccount:
		return c.bankAccount
	default:
		return nil
	}
}

func (c *Coordinator) attempt(ctx context.Context, plan Plan, src FundingSource) (*Result, error) {
	creator := c.creatorFor(src)
	if creator == nil {
		return nil, newValidationError(src, fmt.Sprintf("no charge creator for %T", src))
	}

	attempt, obligation, err := c.attempts.Begin(ctx, BeginParams{
		ObligationID: plan.ObligationID,
		Source:       src,
		Amount:       plan.Amount,
		Processor:    creator.Processor(),
		ReferenceID:  processor.NewReferenceID(),
	})
	if err != nil {
		return nil, err
	}

	log := c.logger.With("attempt_id", attempt.ID, "reference_id", attempt.ReferenceID)
	log.Info("charge attempt started",
		"obligation_id", plan.ObligationID,
		"source_type", src.SourceType(),
		"amount", money.Wire(plan.Amount))

	payment, err := creator.Charge(ctx, ChargeInput{
		Attempt:    attempt,
		Obligation: obligation,
		Source:     src,
		Amount:     plan.Amount,
	})
	if err != nil {
		cerr := AsError(err)
		cerr.AttemptID = attempt.ID
		if cerr.ReferenceID == "" {
			cerr.ReferenceID = attempt.ReferenceID
		}

		update := AttemptUpdate{
			Status:         cerr.AttemptStatus,
			ReferenceID:    cerr.ReferenceID,
			Classification: cerr.Class,
			FailureReason:  cerr.Reason,
		}
		if _, rerr := c.attempts.Record(ctx, attempt, update); rerr != nil {
			// the attempt stays created and is picked up by reconciliation
			log.Error("failed to record failed attempt", "error", rerr)
		}

		if cerr.Class == ClassProcessorAmbiguous {
			c.publish(ctx, events.NewChargeAmbiguousEvent(snapshot(attempt, cerr.AttemptStatus, cerr.Class)))
		} else {
			c.publish(ctx, events.NewChargeFailedEvent(snapshot(attempt, cerr.AttemptStatus, cerr.Class)))
		}
		return nil, cerr
	}

	updated, err := c.attempts.Record(ctx, attempt, AttemptUpdate{
		Status:      string(payment.Status),
		ExternalID:  payment.ID,
		ReferenceID: payment.ReferenceID,
	})
	if err != nil {
		log.Error("failed to record accepted attempt", "status", payment.Status, "error", err)
		return nil, fmt.Errorf("failed to record charge attempt %s: %w", attempt.ID, err)
	}

	switch payment.Status {
	case processor.StatusCompleted:
		c.publish(ctx, events.NewChargeCompletedEvent(snapshot(updated, updated.Status, "")))
	case processor.StatusUnknown:
		c.publish(ctx, events.NewChargeAmbiguousEvent(snapshot(updated, updated.Status, ClassProcessorAmbiguous)))
	}

	log.Info("charge attempt recorded", "status", updated.Status, "external_id", payment.ID)
	return &Result{Attempt: updated, Payment: payment}, nil
}

func (c *Coordinator) publish(ctx context.Context, event events.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Error("failed to publish charge event", "event_type", event.EventType(), "error", err)
	}
}

func snapshot(a *model.ChargeAttempt, status string, class Classification) events.ChargeSnapshot {
	return events.ChargeSnapshot{
		AttemptID:      a.ID,
		ObligationID:   a.ObligationID,
		ReferenceID:    a.ReferenceID,
		Processor:      a.Processor,
		Amount:         money.Wire(a.Amount),
		Status:         status,
		Classification: string(class),
	}
}
