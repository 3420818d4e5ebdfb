package collection

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/validation"
)

const (
	defaultGuardTTL           = 2 * time.Minute
	defaultUnknownErrorWindow = 24 * time.Hour
)

type Config struct {
	GuardTTL           time.Duration
	UnknownErrorWindow time.Duration
}

func ConfigFrom(cfg errors.CollectionConfig) Config {
	return Config{
		GuardTTL:           cfg.GuardTTL,
		UnknownErrorWindow: cfg.UnknownErrorWindow,
	}
}

type Service struct {
	obligations ObligationRepositoryAPI
	attempts    AttemptReaderAPI
	guard       GuardAPI
	executor    Executor
	config      Config
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(obligations ObligationRepositoryAPI, attempts AttemptReaderAPI, guard GuardAPI, executor Executor, config Config, logger *slog.Logger) *Service {
	if config.GuardTTL <= 0 {
		config.GuardTTL = defaultGuardTTL
	}
	if config.UnknownErrorWindow <= 0 {
		config.UnknownErrorWindow = defaultUnknownErrorWindow
	}
	return &Service{
		obligations: obligations,
		attempts:    attempts,
		guard:       guard,
		executor:    executor,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Collect runs one guarded collection. Only one collection per obligation runs at a time; a
// concurrent request fails fast with ErrCollectionInProgress.
func (s *Service) Collect(ctx context.Context, req CollectRequest) (*CollectResult, error) {
	validator := validation.NewValidator()
	validator.Field("obligation_id", req.ObligationID).Required()
	if appErr := validator.Validate(); appErr != nil {
		return nil, appErr
	}

	obligation, err := s.obligations.GetByID(ctx, req.ObligationID)
	if err != nil {
		return nil, err
	}

	amount := obligation.Remaining()
	if req.Amount != nil {
		// the attempt records exactly what goes over the wire
		amount = money.Round(*req.Amount)
	}
	if appErr := validation.ValidateChargeAmount(amount, obligation.Remaining()); appErr != nil {
		return nil, appErr
	}

	primary, err := s.resolveSource(ctx, req.PrimarySourceID)
	if err != nil {
		return nil, err
	}
	secondary, err := s.resolveSource(ctx, req.SecondarySourceID)
	if err != nil {
		return nil, err
	}

	holder := uuid.New().String()
	acquired, err := s.guard.Acquire(ctx, obligation.ID, holder, s.config.GuardTTL)
	if err != nil {
		return nil, errors.NewInternalError("failed to acquire collection guard", err)
	}
	if !acquired {
		s.logger.Warn("collection rejected, another collection holds the guard", "obligation_id", obligation.ID)
		return nil, collectionInProgress(ErrCollectionInProgress)
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), obligation.ID, holder); err != nil {
			s.logger.Error("failed to release collection guard", "obligation_id", obligation.ID, "error", err)
		}
	}()

	plan := charge.Plan{
		ObligationID:  obligation.ID,
		Primary:       primary,
		Secondary:     secondary,
		Amount:        amount,
		LinkedExpress: req.LinkedExpress,
		WindowStart:   s.now().Add(-s.config.UnknownErrorWindow),
	}

	result, err := s.executor.Execute(ctx, plan)
	if err != nil {
		return nil, s.mapExecuteError(obligation.ID, err)
	}

	a := result.Attempt
	s.logger.Info("collection finished",
		"obligation_id", obligation.ID,
		"charge_id", a.ID,
		"status", a.Status,
		"used_secondary", result.UsedSecondary)

	return &CollectResult{
		ChargeID:      a.ID,
		ReferenceID:   a.ReferenceID,
		Status:        a.Status,
		Amount:        a.Amount,
		SourceType:    a.SourceType,
		Processor:     a.Processor,
		UsedSecondary: result.UsedSecondary,
	}, nil
}

func (s *Service) GetCharge(ctx context.Context, id string) (*ChargeView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewValidationFieldError("id", "id must be a UUID", errors.ErrCodeValidationFailed)
	}

	a, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &ChargeView{
		ID:           a.ID,
		ObligationID: a.ObligationID,
		SourceType:   a.SourceType,
		Amount:       a.Amount,
		ReferenceID:  a.ReferenceID,
		Processor:    a.Processor,
		Status:       a.Status,
		RequestedAt:  a.RequestedAt,
		CompletedAt:  a.CompletedAt,
	}
	if a.ExternalID != nil {
		view.ExternalID = *a.ExternalID
	}
	if a.Classification != nil {
		view.Classification = *a.Classification
	}
	if a.FailureReason != nil {
		view.FailureReason = *a.FailureReason
	}
	return view, nil
}

// resolveSource loads a funding source. An empty id means the slot is not configured.
func (s *Service) resolveSource(ctx context.Context, id string) (charge.FundingSource, error) {
	if id == "" {
		return nil, nil
	}

	m, err := s.obligations.GetFundingSource(ctx, id)
	if err != nil {
		return nil, err
	}

	src, err := charge.SourceFromModel(m)
	if err != nil {
		return nil, errors.NewValidationFieldError("funding_source", err.Error(), errors.ErrCodeInvalidSource)
	}
	return src, nil
}

func (s *Service) mapExecuteError(obligationID string, err error) error {
	switch {
	case stderrors.Is(err, ErrAttemptInFlight):
		s.logger.Warn("collection rejected, an attempt is still in flight", "obligation_id", obligationID)
		return collectionInProgress(err)
	case stderrors.Is(err, ErrAmountExceedsRemaining):
		return errors.NewValidationFieldError("amount", err.Error(), errors.ErrCodeInvalidAmount).WithCause(err)
	}

	var cerr *charge.Error
	if stderrors.As(err, &cerr) {
		s.logger.Warn("collection failed",
			"obligation_id", obligationID,
			"classification", cerr.Class,
			"recoverable", cerr.Recoverable())
		return cerr
	}

	s.logger.Error("collection failed", "obligation_id", obligationID, "error", err)
	return errors.NewInternalError("collection failed", err)
}

func collectionInProgress(cause error) *errors.AppError {
	return errors.NewConflictError("a collection is already in progress for this obligation", errors.ErrCodeCollectionInProgress).
		WithCause(cause)
}
