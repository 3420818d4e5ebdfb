package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/collection"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/money"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/core/events"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

const (
	defaultInterval         = time.Minute
	defaultPendingThreshold = 15 * time.Minute
	defaultCreatedThreshold = 30 * time.Minute
	defaultBatchSize        = 100
)

type AttemptStore interface {
	ListStale(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]model.ChargeAttempt, error)
	Record(ctx context.Context, attempt *model.ChargeAttempt, update charge.AttemptUpdate) (*model.ChargeAttempt, error)
}

type StatusClient interface {
	Name() string
	GetStatus(ctx context.Context, referenceID string) (*processor.ChargeResult, error)
}

type Config struct {
	Interval         time.Duration
	PendingThreshold time.Duration
	CreatedThreshold time.Duration
	BatchSize        int
	Pool             PoolConfig
}

func ConfigFrom(cfg apperrors.ReconcilerConfig) Config {
	return Config{
		Interval:         cfg.Interval,
		PendingThreshold: cfg.PendingThreshold,
		CreatedThreshold: cfg.CreatedThreshold,
		BatchSize:        cfg.BatchSize,
		Pool: PoolConfig{
			MaxWorkers:   cfg.MaxWorkers,
			JobQueueSize: cfg.JobQueueSize,
		},
	}
}

// Summary counts what one reconciliation pass did.
type Summary struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Service settles attempts whose outcome was not known when they were recorded. It only re-queries
// existing references and never submits a charge.
type Service struct {
	attempts  AttemptStore
	clients   map[string]StatusClient
	audit     charge.AuditWriter
	publisher events.Publisher
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(attempts AttemptStore, clients []StatusClient, audit charge.AuditWriter, publisher events.Publisher, config Config, logger *slog.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.PendingThreshold <= 0 {
		config.PendingThreshold = defaultPendingThreshold
	}
	if config.CreatedThreshold <= 0 {
		config.CreatedThreshold = defaultCreatedThreshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}

	byName := make(map[string]StatusClient, len(clients))
	for _, c := range clients {
		byName[strings.ToLower(c.Name())] = c
	}

	return &Service{
		attempts:  attempts,
		clients:   byName,
		audit:     audit,
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Run reconciles on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("reconciler started", "interval", s.config.Interval)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("reconciliation pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass over stale attempts.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	now := s.now()

	stale, err := s.attempts.ListStale(ctx,
		[]string{model.AttemptStatusPending, model.AttemptStatusUnknown},
		now.Add(-s.config.PendingThreshold),
		s.config.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	orphaned, err := s.attempts.ListStale(ctx,
		[]string{model.AttemptStatusCreated},
		now.Add(-s.config.CreatedThreshold),
		s.config.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	jobs := append(stale, orphaned...)
	if len(jobs) == 0 {
		return Summary{}, nil
	}

	var updated, unchanged, failed int64
	pool := NewPool(s.config.Pool, func(ctx context.Context, job Job) {
		switch s.reconcile(ctx, job.Attempt) {
		case outcomeUpdated:
			atomic.AddInt64(&updated, 1)
		case outcomeUnchanged:
			atomic.AddInt64(&unchanged, 1)
		default:
			atomic.AddInt64(&failed, 1)
		}
	}, s.logger)
	pool.Start(ctx)

	for _, a := range jobs {
		if !pool.Submit(Job{Attempt: a}) {
			break
		}
	}
	pool.Wait()
	pool.Shutdown()

	summary := Summary{
		Scanned:   len(jobs),
		Updated:   int(atomic.LoadInt64(&updated)),
		Unchanged: int(atomic.LoadInt64(&unchanged)),
		Failed:    int(atomic.LoadInt64(&failed)),
	}
	s.logger.Info("reconciliation pass finished",
		"scanned", summary.Scanned,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"failed", summary.Failed)

	return summary, ctx.Err()
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeUnchanged
	outcomeFailed
)

func (s *Service) reconcile(ctx context.Context, attempt model.ChargeAttempt) outcome {
	log := s.logger.With("attempt_id", attempt.ID, "reference_id", attempt.ReferenceID, "status", attempt.Status)

	client, ok := s.clients[strings.ToLower(attempt.Processor)]
	if !ok {
		log.Error("no processor client for attempt", "processor", attempt.Processor)
		return outcomeFailed
	}

	update, err := s.resolve(ctx, client, attempt)
	if err != nil {
		log.Warn("processor status unavailable, leaving attempt as is", "error", err)
		return outcomeFailed
	}
	if update == nil || update.Status == attempt.Status {
		log.Debug("attempt unchanged")
		return outcomeUnchanged
	}

	recorded, err := s.attempts.Record(ctx, &attempt, *update)
	if err != nil {
		if errors.Is(err, collection.ErrStaleAttempt) {
			log.Info("attempt changed concurrently, skipping")
			return outcomeUnchanged
		}
		log.Error("failed to record reconciled status", "to", update.Status, "error", err)
		return outcomeFailed
	}

	s.appendAudit(ctx, attempt, recorded, update)
	s.publish(ctx, recorded, update.Classification)

	log.Info("attempt reconciled", "to", recorded.Status)
	return outcomeUpdated
}

// resolve maps the processor's current view onto an attempt update. A nil update leaves the attempt
// untouched.
func (s *Service) resolve(ctx context.Context, client StatusClient, attempt model.ChargeAttempt) (*charge.AttemptUpdate, error) {
	result, err := client.GetStatus(ctx, attempt.ReferenceID)
	if errors.Is(err, processor.ErrTransactionNotFound) && attempt.Status != model.AttemptStatusPending {
		// a crash after a correspondence resubmission leaves the attempt on its original reference
		resubmitted := processor.ResubmitReferenceID(attempt.ReferenceID)
		result, err = client.GetStatus(ctx, resubmitted)
		if err == nil {
			s.logger.Info("found attempt under its resubmitted reference",
				"attempt_id", attempt.ID,
				"reference_id", attempt.ReferenceID,
				"resubmitted_reference_id", resubmitted)
			return &charge.AttemptUpdate{
				Status:      string(result.Status),
				ExternalID:  result.TransactionID,
				ReferenceID: resubmitted,
			}, nil
		}
	}
	if err == nil {
		return &charge.AttemptUpdate{
			Status:     string(result.Status),
			ExternalID: result.TransactionID,
		}, nil
	}

	if errors.Is(err, processor.ErrTransactionNotFound) {
		if attempt.Status == model.AttemptStatusPending {
			s.logger.Warn("processor has no record of a pending attempt",
				"attempt_id", attempt.ID,
				"reference_id", attempt.ReferenceID)
			return nil, nil
		}
		// the request never reached the processor
		return &charge.AttemptUpdate{
			Status:         model.AttemptStatusCanceled,
			Classification: charge.ClassUnknownError,
			FailureReason:  "not_found_at_processor",
		}, nil
	}

	var perr *processor.Error
	if errors.As(err, &perr) && perr.Status != "" {
		return &charge.AttemptUpdate{
			Status:         model.AttemptStatusCanceled,
			Classification: charge.Classify(err),
			FailureReason:  perr.ReasonCode(),
		}, nil
	}

	return nil, err
}

func (s *Service) appendAudit(ctx context.Context, before model.ChargeAttempt, after *model.ChargeAttempt, update *charge.AttemptUpdate) {
	payload, err := json.Marshal(map[string]interface{}{
		"from":        before.Status,
		"to":          after.Status,
		"amount":      money.Wire(after.Amount),
		"external_id": update.ExternalID,
		"reason":      update.FailureReason,
	})
	if err != nil {
		payload = []byte("{}")
	}

	record := &model.AuditRecord{
		ID:           uuid.New().String(),
		OwnerID:      after.OwnerID,
		ObligationID: after.ObligationID,
		AttemptID:    after.ID,
		ReferenceID:  after.ReferenceID,
		Processor:    after.Processor,
		SourceType:   after.SourceType,
		SourceID:     after.FundingSourceID,
		Outcome:      model.OutcomeReconciled,
		Payload:      datatypes.JSON(payload),
		CreatedAt:    s.now().UTC(),
	}
	if update.Classification != "" {
		class := string(update.Classification)
		record.Classification = &class
	}

	if err := s.audit.Append(ctx, record); err != nil {
		s.logger.Error("failed to append reconciliation audit", "attempt_id", after.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, a *model.ChargeAttempt, class charge.Classification) {
	if s.publisher == nil {
		return
	}
	event := events.NewChargeReconciledEvent(events.ChargeSnapshot{
		AttemptID:      a.ID,
		ObligationID:   a.ObligationID,
		ReferenceID:    a.ReferenceID,
		Processor:      a.Processor,
		Amount:         money.Wire(a.Amount),
		Status:         a.Status,
		Classification: string(class),
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish reconciled event", "attempt_id", a.ID, "error", err)
	}
}
