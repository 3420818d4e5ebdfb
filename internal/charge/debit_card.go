package charge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

type DebitCardCreator struct {
	creatorBase
}

func NewDebitCardCreator(client ProcessorClient, audit AuditWriter, logger *slog.Logger) *DebitCardCreator {
	return &DebitCardCreator{creatorBase{
		sourceType: model.SourceTypeDebitCard,
		client:     client,
		audit:      audit,
		logger:     logger.With("creator", model.SourceTypeDebitCard),
		now:        time.Now,
	}}
}

func (c *DebitCardCreator) Charge(ctx context.Context, in ChargeInput) (*ExternalPayment, error) {
	if verr := c.validate(in); verr != nil {
		return c.reject(ctx, in, verr)
	}

	card, ok := in.Source.(DebitCard)
	if !ok {
		return c.reject(ctx, in, newValidationError(in.Source, "funding source is not a debit card"))
	}

	req := processor.ChargeRequest{
		ReferenceID:      in.Attempt.ReferenceID,
		Type:             processor.TransactionPull,
		SourceToken:      card.ExternalToken,
		Amount:           in.Amount,
		Recurring:        in.Obligation.IsRecurring(),
		CorrespondenceID: c.correspondenceID(in.Obligation),
	}
	if card.Bin != "" {
		req.Extra = map[string]string{"bin": card.Bin}
	}

	return c.execute(ctx, in, req)
}

// correspondenceID links a repayment pull to the disbursement push it repays, when both run on
// this processor.
func (c *DebitCardCreator) correspondenceID(o *model.Obligation) string {
	if o.Kind != model.ObligationKindAdvanceRepayment {
		return ""
	}
	if o.DisbursementProcessor == nil || o.DisbursementExternalID == nil {
		return ""
	}
	if !strings.EqualFold(*o.DisbursementProcessor, c.client.Name()) {
		return ""
	}
	return *o.DisbursementExternalID
}
