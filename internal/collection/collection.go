package collection

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

type ObligationRepositoryAPI interface {
	GetByID(ctx context.Context, id string) (*model.Obligation, error)
	GetFundingSource(ctx context.Context, id string) (*model.FundingSource, error)
}

type GuardAPI interface {
	Acquire(ctx context.Context, obligationID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, obligationID, holder string) error
}

type AttemptReaderAPI interface {
	GetByID(ctx context.Context, id string) (*model.ChargeAttempt, error)
}

type Executor interface {
	Execute(ctx context.Context, plan charge.Plan) (*charge.Result, error)
}

type ServiceAPI interface {
	Collect(ctx context.Context, req CollectRequest) (*CollectResult, error)
	GetCharge(ctx context.Context, id string) (*ChargeView, error)
}

// CollectRequest asks for one collection against an obligation. A nil Amount collects the whole
// remaining balance.
type CollectRequest struct {
	ObligationID      string
	PrimarySourceID   string
	SecondarySourceID string
	Amount            *decimal.Decimal
	LinkedExpress     bool
}

type CollectResult struct {
	ChargeID      string
	ReferenceID   string
	Status        string
	Amount        decimal.Decimal
	SourceType    string
	Processor     string
	UsedSecondary bool
}

type ChargeView struct {
	ID             string
	ObligationID   string
	SourceType     string
	Amount         decimal.Decimal
	ReferenceID    string
	Processor      string
	Status         string
	ExternalID     string
	Classification string
	FailureReason  string
	RequestedAt    time.Time
	CompletedAt    *time.Time
}
