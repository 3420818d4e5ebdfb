package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

const auditColumns = `id, owner_id, obligation_id, attempt_id, reference_id, processor, source_type,
	source_id, outcome, classification, tag, payload, created_at`

// Reader serves the audit export read path over sqlx.
type Reader struct {
	db *sqlx.DB
}

func NewReader(db *sqlx.DB) *Reader {
	return &Reader{db: db}
}

func (r *Reader) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]model.AuditRecord, error) {
	query := r.db.Rebind(`SELECT ` + auditColumns + `
		FROM audit_records
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`)

	var records []model.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, ownerID, limit); err != nil {
		return nil, fmt.Errorf("failed to select audit records for owner %d: %w", ownerID, err)
	}
	return records, nil
}

func (r *Reader) ListByReference(ctx context.Context, referenceID string) ([]model.AuditRecord, error) {
	query := r.db.Rebind(`SELECT ` + auditColumns + `
		FROM audit_records
		WHERE reference_id = ?
		ORDER BY created_at ASC, id ASC`)

	var records []model.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, referenceID); err != nil {
		return nil, fmt.Errorf("failed to select audit records for reference %s: %w", referenceID, err)
	}
	return records, nil
}
