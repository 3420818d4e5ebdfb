package charge

import (
	"fmt"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

// FundingSource is implemented only by DebitCard and BankAccount.
type FundingSource interface {
	SourceID() string
	Owner() int64
	SourceType() string
	Token() string
	Usable() bool
	isFundingSource()
}

type DebitCard struct {
	ID            string
	OwnerID       int64
	ExternalToken string
	Bin           string
	Last4         string
	Invalid       bool
	Deleted       bool
}

func (c DebitCard) SourceID() string   { return c.ID }
func (c DebitCard) Owner() int64       { return c.OwnerID }
func (c DebitCard) SourceType() string { return model.SourceTypeDebitCard }
func (c DebitCard) Token() string      { return c.ExternalToken }
func (c DebitCard) Usable() bool       { return !c.Invalid && !c.Deleted && c.ExternalToken != "" }
func (DebitCard) isFundingSource()     {}

type BankAccountType string

const (
	AccountChecking BankAccountType = "checking"
	AccountSavings  BankAccountType = "savings"
)

type BankAccount struct {
	ID            string
	OwnerID       int64
	ExternalToken string
	AccountType   BankAccountType
	RoutingLast4  string
	Invalid       bool
	Deleted       bool
}

func (a BankAccount) SourceID() string   { return a.ID }
func (a BankAccount) Owner() int64       { return a.OwnerID }
func (a BankAccount) SourceType() string { return model.SourceTypeBankAccount }
func (a BankAccount) Token() string      { return a.ExternalToken }
func (a BankAccount) Usable() bool {
	if a.Invalid || a.Deleted || a.ExternalToken == "" {
		return false
	}
	return a.AccountType == AccountChecking || a.AccountType == AccountSavings
}
func (BankAccount) isFundingSource() {}

// SourceFromModel converts a stored funding source into its variant.
func SourceFromModel(m *model.FundingSource) (FundingSource, error) {
	switch m.SourceType {
	case model.SourceTypeDebitCard:
		return DebitCard{
			ID:            m.ID,
			OwnerID:       m.OwnerID,
			ExternalToken: m.ExternalToken,
			Bin:           deref(m.Bin),
			Last4:         deref(m.Last4),
			Invalid:       m.Invalid,
			Deleted:       m.DeletedAt != nil,
		}, nil
	case model.SourceTypeBankAccount:
		return BankAccount{
			ID:            m.ID,
			OwnerID:       m.OwnerID,
			ExternalToken: m.ExternalToken,
			AccountType:   BankAccountType(deref(m.AccountType)),
			RoutingLast4:  deref(m.RoutingLast4),
			Invalid:       m.Invalid,
			Deleted:       m.DeletedAt != nil,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported funding source type %q", m.SourceType)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
