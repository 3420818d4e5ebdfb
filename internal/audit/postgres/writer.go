package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

// Writer appends audit records. Records are never updated or deleted.
type Writer struct {
	db *gorm.DB
}

func NewWriter(db *gorm.DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) Append(ctx context.Context, record *model.AuditRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if len(record.Payload) == 0 {
		record.Payload = datatypes.JSON("{}")
	}
	if err := w.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (w *Writer) HasTaggedSince(ctx context.Context, obligationID, tag string, since time.Time) (bool, error) {
	var count int64
	err := w.db.WithContext(ctx).
		Model(&model.AuditRecord{}).
		Where("obligation_id = ? AND tag = ? AND created_at >= ?", obligationID, tag, since.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count tagged audit records: %w", err)
	}
	return count > 0, nil
}
