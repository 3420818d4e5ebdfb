package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

type ObligationRepository struct {
	db *gorm.DB
}

func NewObligationRepository(db *gorm.DB) *ObligationRepository {
	return &ObligationRepository{db: db}
}

func (r *ObligationRepository) GetByID(ctx context.Context, id string) (*model.Obligation, error) {
	var o model.Obligation
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrObligationNotFound
		}
		return nil, fmt.Errorf("failed to load obligation %s: %w", id, err)
	}
	return &o, nil
}

// GetFundingSource returns the source even when it is invalid or deleted; the charge creators
// reject unusable sources so the rejection is audited.
func (r *ObligationRepository) GetFundingSource(ctx context.Context, id string) (*model.FundingSource, error) {
	var fs model.FundingSource
	if err := r.db.WithContext(ctx).First(&fs, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to load funding source %s: %w", id, err)
	}
	return &fs, nil
}

func (r *ObligationRepository) Create(ctx context.Context, o *model.Obligation) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("failed to create obligation: %w", err)
	}
	return nil
}

func (r *ObligationRepository) CreateFundingSource(ctx context.Context, fs *model.FundingSource) error {
	if err := r.db.WithContext(ctx).Create(fs).Error; err != nil {
		return fmt.Errorf("failed to create funding source: %w", err)
	}
	return nil
}
