package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/core/common/validation"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type RepositoryAPI interface {
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]model.AuditRecord, error)
	ListByReference(ctx context.Context, referenceID string) ([]model.AuditRecord, error)
}

type ServiceAPI interface {
	ByOwner(ctx context.Context, ownerID int64, limit int) ([]Entry, error)
	ByReference(ctx context.Context, referenceID string) ([]Entry, error)
}

// Entry is the exported form of an audit record.
type Entry struct {
	ID             string          `json:"id"`
	OwnerID        int64           `json:"owner_id"`
	ObligationID   string          `json:"obligation_id"`
	AttemptID      string          `json:"attempt_id,omitempty"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	Processor      string          `json:"processor,omitempty"`
	SourceType     string          `json:"source_type,omitempty"`
	SourceID       string          `json:"source_id,omitempty"`
	Outcome        string          `json:"outcome"`
	Classification string          `json:"classification,omitempty"`
	Tag            string          `json:"tag,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) ByOwner(ctx context.Context, ownerID int64, limit int) ([]Entry, error) {
	validator := validation.NewValidator()
	validator.Field("owner_id", ownerID).Required().MinInt(1, errors.ErrCodeValidationFailed)
	if appErr := validator.Validate(); appErr != nil {
		return nil, appErr
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	records, err := s.repo.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		s.logger.Error("failed to list audit records by owner", "owner_id", ownerID, "error", err)
		return nil, errors.NewInternalError("failed to list audit records", err)
	}
	return toEntries(records), nil
}

func (s *Service) ByReference(ctx context.Context, referenceID string) ([]Entry, error) {
	if appErr := validation.ValidateReferenceID(referenceID); appErr != nil {
		return nil, appErr
	}

	records, err := s.repo.ListByReference(ctx, referenceID)
	if err != nil {
		s.logger.Error("failed to list audit records by reference", "reference_id", referenceID, "error", err)
		return nil, errors.NewInternalError("failed to list audit records", err)
	}
	return toEntries(records), nil
}

func toEntries(records []model.AuditRecord) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		e := Entry{
			ID:           r.ID,
			OwnerID:      r.OwnerID,
			ObligationID: r.ObligationID,
			AttemptID:    r.AttemptID,
			ReferenceID:  r.ReferenceID,
			Processor:    r.Processor,
			SourceType:   r.SourceType,
			SourceID:     r.SourceID,
			Outcome:      r.Outcome,
			CreatedAt:    r.CreatedAt,
		}
		if r.Classification != nil {
			e.Classification = *r.Classification
		}
		if r.Tag != nil {
			e.Tag = *r.Tag
		}
		if len(r.Payload) > 0 {
			e.Payload = json.RawMessage(r.Payload)
		}
		entries = append(entries, e)
	}
	return entries
}
