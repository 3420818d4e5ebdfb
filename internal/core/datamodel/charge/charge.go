package charge

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ObligationKindAdvanceRepayment = "advance_repayment"
	ObligationKindSubscription     = "subscription"

	SourceTypeDebitCard   = "debit_card"
	SourceTypeBankAccount = "bank_account"
)

type Obligation struct {
	ID                     string          `gorm:"primaryKey;type:varchar(64)"`
	OwnerID                int64           `gorm:"column:owner_id;not null;index"`
	Kind                   string          `gorm:"column:kind;not null"`
	AmountOwed             decimal.Decimal `gorm:"column:amount_owed;type:numeric(12,2);not null"`
	AlreadyCollected       decimal.Decimal `gorm:"column:already_collected;type:numeric(12,2);not null;default:0"`
	DisbursementProcessor  *string         `gorm:"column:disbursement_processor"`
	DisbursementExternalID *string         `gorm:"column:disbursement_external_id"`
	Version                int64           `gorm:"column:version;not null;default:1"`
	CreatedAt              time.Time       `gorm:"column:created_at"`
	UpdatedAt              time.Time       `gorm:"column:updated_at"`
}

func (Obligation) TableName() string {
	return "obligations"
}

func (o *Obligation) Remaining() decimal.Decimal {
	return o.AmountOwed.Sub(o.AlreadyCollected)
}

func (o *Obligation) IsRecurring() bool {
	return o.Kind == ObligationKindSubscription
}

type FundingSource struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)"`
	OwnerID       int64      `gorm:"column:owner_id;not null;index"`
	SourceType    string     `gorm:"column:source_type;not null"`
	ExternalToken string     `gorm:"column:external_token;not null"`
	Bin           *string    `gorm:"column:bin"`
	Last4         *string    `gorm:"column:last4"`
	AccountType   *string    `gorm:"column:account_type"`
	RoutingLast4  *string    `gorm:"column:routing_last4"`
	Invalid       bool       `gorm:"column:invalid;not null;default:false"`
	DeletedAt     *time.Time `gorm:"column:deleted_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (FundingSource) TableName() string {
	return "funding_sources"
}

type ChargeAttempt struct {
	ID              string          `gorm:"primaryKey;type:varchar(64)"`
	ObligationID    string          `gorm:"column:obligation_id;not null;index"`
	OwnerID         int64           `gorm:"column:owner_id;not null"`
	FundingSourceID string          `gorm:"column:funding_source_id;not null"`
	SourceType      string          `gorm:"column:source_type;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	ReferenceID     string          `gorm:"column:reference_id;type:varchar(15);not null;uniqueIndex"`
	Processor       string          `gorm:"column:processor;not null"`
	Status          string          `gorm:"column:status;not null;index"`
	ExternalID      *string         `gorm:"column:external_id"`
	Classification  *string         `gorm:"column:classification"`
	FailureReason   *string         `gorm:"column:failure_reason"`
	RequestedAt     time.Time       `gorm:"column:requested_at;not null"`
	CompletedAt     *time.Time      `gorm:"column:completed_at"`
	Version         int64           `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (ChargeAttempt) TableName() string {
	return "charge_attempts"
}

type AuditRecord struct {
	ID             string         `gorm:"primaryKey;type:varchar(64)" db:"id"`
	OwnerID        int64          `gorm:"column:owner_id;not null;index" db:"owner_id"`
	ObligationID   string         `gorm:"column:obligation_id;not null;index" db:"obligation_id"`
	AttemptID      string         `gorm:"column:attempt_id;index" db:"attempt_id"`
	ReferenceID    string         `gorm:"column:reference_id;index" db:"reference_id"`
	Processor      string         `gorm:"column:processor" db:"processor"`
	SourceType     string         `gorm:"column:source_type" db:"source_type"`
	SourceID       string         `gorm:"column:source_id" db:"source_id"`
	Outcome        string         `gorm:"column:outcome;not null" db:"outcome"`
	Classification *string        `gorm:"column:classification" db:"classification"`
	Tag            *string        `gorm:"column:tag;index" db:"tag"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" db:"payload"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;index" db:"created_at"`
}

func (AuditRecord) TableName() string {
	return "audit_records"
}

type CollectionGuard struct {
	ObligationID string    `gorm:"primaryKey;type:varchar(64);column:obligation_id"`
	Holder       string    `gorm:"column:holder;not null"`
	AcquiredAt   time.Time `gorm:"column:acquired_at;not null"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null"`
}

func (CollectionGuard) TableName() string {
	return "collection_guards"
}

const (
	AttemptStatusCreated   = "created"
	AttemptStatusPending   = "pending"
	AttemptStatusCompleted = "completed"
	AttemptStatusCanceled  = "canceled"
	AttemptStatusUnknown   = "unknown"
	AttemptStatusReturned  = "returned"
)

// InFlightStatuses are attempt states that may still move money.
var InFlightStatuses = []string{AttemptStatusCreated, AttemptStatusPending, AttemptStatusUnknown}

var attemptTransitions = map[string][]string{
	AttemptStatusCreated: {AttemptStatusPending, AttemptStatusCompleted, AttemptStatusCanceled, AttemptStatusUnknown, AttemptStatusReturned},
	AttemptStatusPending: {AttemptStatusCompleted, AttemptStatusCanceled, AttemptStatusUnknown, AttemptStatusReturned},
	AttemptStatusUnknown: {AttemptStatusPending, AttemptStatusCompleted, AttemptStatusCanceled, AttemptStatusReturned},
}

func IsTerminalStatus(status string) bool {
	switch status {
	case AttemptStatusCompleted, AttemptStatusCanceled, AttemptStatusReturned:
		return true
	}
	return false
}

func CanTransition(from, to string) bool {
	for _, next := range attemptTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	OutcomeSucceeded  = "succeeded"
	OutcomePending    = "pending"
	OutcomeFailed     = "failed"
	OutcomeAmbiguous  = "ambiguous"
	OutcomeReconciled = "reconciled"

	TagUnknownErrorPath = "unknown_error_path"
)
