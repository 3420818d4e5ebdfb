package charge

import (
	"context"
	"log/slog"
	"time"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

// NACHA standard entry class codes.
const (
	SECCodeWeb = "WEB"
	SECCodePPD = "PPD"
)

type BankAccountCreator struct {
	creatorBase
}

func NewBankAccountCreator(client ProcessorClient, audit AuditWriter, logger *slog.Logger) *BankAccountCreator {
	return &BankAccountCreator{creatorBase{
		sourceType: model.SourceTypeBankAccount,
		client:     client,
		audit:      audit,
		logger:     logger.With("creator", model.SourceTypeBankAccount),
		now:        time.Now,
	}}
}

func (c *BankAccountCreator) Charge(ctx context.Context, in ChargeInput) (*ExternalPayment, error) {
	if verr := c.validate(in); verr != nil {
		return c.reject(ctx, in, verr)
	}

	account, ok := in.Source.(BankAccount)
	if !ok {
		return c.reject(ctx, in, newValidationError(in.Source, "funding source is not a bank account"))
	}
	recurring := in.Obligation.IsRecurring()

	secCode := SECCodeWeb
	if recurring {
		secCode = SECCodePPD
	}

	req := processor.ChargeRequest{
		ReferenceID: in.Attempt.ReferenceID,
		Type:        processor.TransactionPull,
		SourceToken: account.ExternalToken,
		Amount:      in.Amount,
		Recurring:   recurring,
		Extra: map[string]string{
			"account_type": string(account.AccountType),
			"sec_code":     secCode,
		},
	}

	return c.execute(ctx, in, req)
}
