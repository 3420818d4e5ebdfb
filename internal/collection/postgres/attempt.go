package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/collection"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

// AttemptRepository persists charge attempts and applies their effect on the obligation balance.
type AttemptRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db, now: time.Now}
}

// Begin inserts a created attempt while holding the obligation row lock.
func (r *AttemptRepository) Begin(ctx context.Context, p charge.BeginParams) (*model.ChargeAttempt, *model.Obligation, error) {
	var (
		attempt    *model.ChargeAttempt
		obligation model.Obligation
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockObligation(tx, p.ObligationID, &obligation); err != nil {
			return err
		}

		var inFlight int64
		if err := tx.Model(&model.ChargeAttempt{}).
			Where("obligation_id = ? AND status IN ?", p.ObligationID, model.InFlightStatuses).
			Count(&inFlight).Error; err != nil {
			return fmt.Errorf("failed to count in-flight attempts: %w", err)
		}
		if inFlight > 0 {
			return collection.ErrAttemptInFlight
		}

		if p.Amount.GreaterThan(obligation.Remaining()) {
			return collection.ErrAmountExceedsRemaining
		}

		now := r.now().UTC()
		attempt = &model.ChargeAttempt{
			ID:              uuid.New().String(),
			ObligationID:    obligation.ID,
			OwnerID:         obligation.OwnerID,
			FundingSourceID: p.Source.SourceID(),
			SourceType:      p.Source.SourceType(),
			Amount:          p.Amount,
			ReferenceID:     p.ReferenceID,
			Processor:       p.Processor,
			Status:          model.AttemptStatusCreated,
			RequestedAt:     now,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(attempt).Error; err != nil {
			return fmt.Errorf("failed to insert charge attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return attempt, &obligation, nil
}

// Record moves an attempt to a new status under optimistic locking on its version. A completed
// transition adds the attempt amount to the obligation in the same transaction.
func (r *AttemptRepository) Record(ctx context.Context, attempt *model.ChargeAttempt, u charge.AttemptUpdate) (*model.ChargeAttempt, error) {
	if !model.CanTransition(attempt.Status, u.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", collection.ErrInvalidTransition, attempt.Status, u.Status)
	}

	var updated model.ChargeAttempt

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()

		changes := map[string]interface{}{
			"status":     u.Status,
			"version":    attempt.Version + 1,
			"updated_at": now,
		}
		if u.ReferenceID != "" && u.ReferenceID != attempt.ReferenceID {
			changes["reference_id"] = u.ReferenceID
		}
		if u.ExternalID != "" {
			changes["external_id"] = u.ExternalID
		}
		if u.Classification != "" {
			changes["classification"] = string(u.Classification)
		}
		if u.FailureReason != "" {
			changes["failure_reason"] = u.FailureReason
		}
		if model.IsTerminalStatus(u.Status) {
			changes["completed_at"] = now
		}

		res := tx.Model(&model.ChargeAttempt{}).
			Where("id = ? AND version = ?", attempt.ID, attempt.Version).
			Updates(changes)
		if res.Error != nil {
			return fmt.Errorf("failed to update charge attempt: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return collection.ErrStaleAttempt
		}

		if u.Status == model.AttemptStatusCompleted {
			if err := applyCollected(tx, attempt, now); err != nil {
				return err
			}
		}

		return tx.First(&updated, "id = ?", attempt.ID).Error
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

func applyCollected(tx *gorm.DB, attempt *model.ChargeAttempt, now time.Time) error {
	var obligation model.Obligation
	if err := lockObligation(tx, attempt.ObligationID, &obligation); err != nil {
		return err
	}

	if obligation.Remaining().LessThan(attempt.Amount) {
		return fmt.Errorf("%w: obligation %s remaining %s, attempt %s",
			collection.ErrAmountExceedsRemaining, obligation.ID, obligation.Remaining(), attempt.Amount)
	}

	res := tx.Model(&model.Obligation{}).
		Where("id = ? AND version = ?", obligation.ID, obligation.Version).
		Updates(map[string]interface{}{
			"already_collected": obligation.AlreadyCollected.Add(attempt.Amount),
			"version":           obligation.Version + 1,
			"updated_at":        now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update collected amount: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("obligation %s was modified concurrently", obligation.ID)
	}
	return nil
}

func lockObligation(tx *gorm.DB, id string, out *model.Obligation) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(out, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrObligationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock obligation %s: %w", id, err)
	}
	return nil
}

func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*model.ChargeAttempt, error) {
	var a model.ChargeAttempt
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrChargeNotFound
		}
		return nil, fmt.Errorf("failed to load charge attempt %s: %w", id, err)
	}
	return &a, nil
}

// ListStale returns attempts in one of statuses that have not changed since before cutoff, oldest
// first.
func (r *AttemptRepository) ListStale(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]model.ChargeAttempt, error) {
	var attempts []model.ChargeAttempt
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale charge attempts: %w", err)
	}
	return attempts, nil
}

// ListByObligation returns every attempt for an obligation in request order.
func (r *AttemptRepository) ListByObligation(ctx context.Context, obligationID string) ([]model.ChargeAttempt, error) {
	var attempts []model.ChargeAttempt
	err := r.db.WithContext(ctx).
		Where("obligation_id = ?", obligationID).
		Order("requested_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list charge attempts: %w", err)
	}
	return attempts, nil
}
