package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

// GuardRepository holds the per-obligation collection guard. A guard whose holder crashed expires
// after its TTL and can be taken over.
type GuardRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGuardRepository(db *gorm.DB) *GuardRepository {
	return &GuardRepository{db: db, now: time.Now}
}

func (r *GuardRepository) Acquire(ctx context.Context, obligationID, holder string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()
	acquired := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("obligation_id = ? AND expires_at < ?", obligationID, now).
			Delete(&model.CollectionGuard{}).Error; err != nil {
			return err
		}

		guard := model.CollectionGuard{
			ObligationID: obligationID,
			Holder:       holder,
			AcquiredAt:   now,
			ExpiresAt:    now.Add(ttl),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&guard)
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire collection guard for %s: %w", obligationID, err)
	}
	return acquired, nil
}

// Release drops the guard only if holder still owns it.
func (r *GuardRepository) Release(ctx context.Context, obligationID, holder string) error {
	err := r.db.WithContext(ctx).
		Where("obligation_id = ? AND holder = ?", obligationID, holder).
		Delete(&model.CollectionGuard{}).Error
	if err != nil {
		return fmt.Errorf("failed to release collection guard for %s: %w", obligationID, err)
	}
	return nil
}
