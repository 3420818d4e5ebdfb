package charge_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/core/events"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

var _ = Describe("Coordinator", func() {
	var (
		ctx         context.Context
		logger      *slog.Logger
		debit       *mockProcessorClient
		ach         *mockProcessorClient
		audit       *mockAuditLog
		store       *memoryAttemptStore
		obligation  *model.Obligation
		publisher   *recordingPublisher
		coordinator *charge.Coordinator
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		debit = &mockProcessorClient{name: "debit-processor"}
		ach = &mockProcessorClient{name: "ach-processor"}
		audit = &mockAuditLog{}
		obligation = newObligation("obl-1", "75.00")
		store = newMemoryAttemptStore(obligation)
		publisher = &recordingPublisher{}
		coordinator = charge.NewCoordinator(
			store,
			audit,
			charge.NewDebitCardCreator(debit, audit, logger),
			charge.NewBankAccountCreator(ach, audit, logger),
			publisher,
			logger,
		)
	})

	plan := func() charge.Plan {
		return charge.Plan{
			ObligationID: "obl-1",
			Primary:      debitCard(),
			Secondary:    bankAccount(),
			Amount:       decimal.RequireFromString("75.00"),
			WindowStart:  time.Now().Add(-24 * time.Hour),
		}
	}

	Context("when the debit card has insufficient funds and the bank account pays", func() {
		It("should collect 75.00 through the bank account", func() {
			debit.respond = insufficientFunds

			result, err := coordinator.Execute(ctx, plan())

			Expect(err).ToNot(HaveOccurred())
			Expect(result.UsedSecondary).To(BeTrue())
			Expect(result.PrimaryError.Class).To(Equal(charge.ClassInsufficientFunds))
			Expect(result.Attempt.Status).To(Equal(model.AttemptStatusCompleted))
			Expect(result.Attempt.SourceType).To(Equal(model.SourceTypeBankAccount))
			Expect(result.Attempt.Amount.Equal(decimal.RequireFromString("75.00"))).To(BeTrue())

			Expect(store.byStatus(model.AttemptStatusCompleted)).To(HaveLen(1))
			Expect(store.byStatus(model.AttemptStatusCanceled)).To(HaveLen(1))
			Expect(obligation.AlreadyCollected.Equal(obligation.AmountOwed)).To(BeTrue())

			Expect(audit.records).To(HaveLen(2))
			Expect(audit.records[0].Outcome).To(Equal(model.OutcomeFailed))
			Expect(audit.records[0].SourceType).To(Equal(model.SourceTypeDebitCard))
			Expect(audit.records[1].Outcome).To(Equal(model.OutcomeSucceeded))
			Expect(audit.records[1].SourceType).To(Equal(model.SourceTypeBankAccount))

			Expect(publisher.types()).To(Equal([]string{events.EventTypeChargeFailed, events.EventTypeChargeCompleted}))
		})
	})

	Context("when the primary outcome is ambiguous", func() {
		It("should never charge the secondary", func() {
			debit.respond = ambiguous

			result, err := coordinator.Execute(ctx, plan())

			Expect(result).To(BeNil())
			var cerr *charge.Error
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(cerr.Class).To(Equal(charge.ClassProcessorAmbiguous))
			Expect(ach.requests).To(BeEmpty())
			Expect(store.byStatus(model.AttemptStatusUnknown)).To(HaveLen(1))
			Expect(obligation.AlreadyCollected.IsZero()).To(BeTrue())
			Expect(publisher.types()).To(Equal([]string{events.EventTypeChargeAmbiguous}))
		})

		It("should not charge the secondary for an unknown status either", func() {
			debit.respond = func(req processor.ChargeRequest) (*processor.ChargeResult, error) {
				r := completed(req)
				r.Status = processor.StatusUnknown
				return r, nil
			}

			result, err := coordinator.Execute(ctx, plan())

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Attempt.Status).To(Equal(model.AttemptStatusUnknown))
			Expect(ach.requests).To(BeEmpty())
		})
	})

	Context("when the primary succeeds", func() {
		It("should return without touching the secondary", func() {
			result, err := coordinator.Execute(ctx, plan())

			Expect(err).ToNot(HaveOccurred())
			Expect(result.UsedSecondary).To(BeFalse())
			Expect(ach.requests).To(BeEmpty())
			Expect(debit.requests).To(HaveLen(1))
		})
	})

	Context("when the primary card is linked to an in-flight express transaction", func() {
		It("should fail with insufficient funds and no fallback", func() {
			debit.respond = insufficientFunds
			p := plan()
			p.LinkedExpress = true

			_, err := coordinator.Execute(ctx, p)

			Expect(charge.Classify(err)).To(Equal(charge.ClassInsufficientFunds))
			Expect(ach.requests).To(BeEmpty())
		})
	})

	Context("when both sources fail", func() {
		It("should return the secondary error with the primary attached", func() {
			debit.respond = declined
			ach.respond = func(req processor.ChargeRequest) (*processor.ChargeResult, error) {
				return nil, &processor.Error{Gateway: "nacha", HTTPStatus: 400, NetworkRC: "R01", ReferenceID: req.ReferenceID}
			}

			_, err := coordinator.Execute(ctx, plan())

			var cerr *charge.Error
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(cerr.Class).To(Equal(charge.ClassInsufficientFunds))
			Expect(cerr.SourceType).To(Equal(model.SourceTypeBankAccount))
			Expect(cerr.Primary).ToNot(BeNil())
			Expect(cerr.Primary.Class).To(Equal(charge.ClassProcessorDeclined))
			Expect(store.byStatus(model.AttemptStatusCanceled)).To(HaveLen(2))
		})
	})

	Context("when the secondary attempt cannot be started", func() {
		It("should keep the primary failure on the store error", func() {
			debit.respond = declined
			storeErr := errors.New("attempt store unavailable")
			coordinator = charge.NewCoordinator(&secondaryBeginFailure{memoryAttemptStore: store, err: storeErr}, audit,
				charge.NewDebitCardCreator(debit, audit, logger),
				charge.NewBankAccountCreator(ach, audit, logger),
				nil, logger)

			_, err := coordinator.Execute(ctx, plan())

			var cerr *charge.Error
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(errors.Is(err, storeErr)).To(BeTrue())
			Expect(cerr.SourceType).To(Equal(model.SourceTypeBankAccount))
			Expect(cerr.Primary).ToNot(BeNil())
			Expect(cerr.Primary.Class).To(Equal(charge.ClassProcessorDeclined))
			Expect(ach.requests).To(BeEmpty())
		})
	})

	Context("when the primary fails with an unknown error", func() {
		It("should fall back once and then stop inside the window", func() {
			debit.respond = dialFailure
			ach.respond = declined

			_, err := coordinator.Execute(ctx, plan())
			Expect(charge.Classify(err)).To(Equal(charge.ClassProcessorDeclined))
			Expect(ach.requests).To(HaveLen(1))

			tagged := 0
			for _, r := range audit.records {
				if r.Tag != nil && *r.Tag == model.TagUnknownErrorPath {
					tagged++
				}
			}
			Expect(tagged).To(Equal(1))

			_, err = coordinator.Execute(ctx, plan())
			Expect(charge.Classify(err)).To(Equal(charge.ClassUnknownError))
			Expect(ach.requests).To(HaveLen(1))
		})

		It("should fall back again once the window has moved past the earlier entry", func() {
			debit.respond = dialFailure
			ach.respond = declined

			_, _ = coordinator.Execute(ctx, plan())

			p := plan()
			p.WindowStart = time.Now().Add(time.Hour)
			_, _ = coordinator.Execute(ctx, p)

			Expect(ach.requests).To(HaveLen(2))
		})

		It("should suppress fallback when the audit log cannot be read", func() {
			debit.respond = dialFailure
			failing := &failingAuditLog{mockAuditLog: audit}
			coordinator = charge.NewCoordinator(store, failing,
				charge.NewDebitCardCreator(debit, audit, logger),
				charge.NewBankAccountCreator(ach, audit, logger),
				nil, logger)

			_, err := coordinator.Execute(ctx, plan())

			Expect(charge.Classify(err)).To(Equal(charge.ClassUnknownError))
			Expect(ach.requests).To(BeEmpty())
		})
	})

	Context("when no primary source is configured", func() {
		It("should go straight to the secondary", func() {
			p := plan()
			p.Primary = nil

			result, err := coordinator.Execute(ctx, p)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.UsedSecondary).To(BeTrue())
			Expect(debit.requests).To(BeEmpty())
		})

		It("should fail validation when there is no source at all", func() {
			p := plan()
			p.Primary = nil
			p.Secondary = nil

			_, err := coordinator.Execute(ctx, p)

			Expect(charge.Classify(err)).To(Equal(charge.ClassValidationError))
		})
	})

	Context("when another attempt is already in flight", func() {
		It("should surface the store error without charging", func() {
			debit.respond = ambiguous
			_, _ = coordinator.Execute(ctx, plan())

			_, err := coordinator.Execute(ctx, plan())

			Expect(err).To(MatchError(errInFlight))
			Expect(debit.requests).To(HaveLen(1))
		})
	})
})

type failingAuditLog struct {
	*mockAuditLog
}

func (f *failingAuditLog) HasTaggedSince(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("audit store unavailable")
}

type secondaryBeginFailure struct {
	*memoryAttemptStore
	err error
}

func (s *secondaryBeginFailure) Begin(ctx context.Context, p charge.BeginParams) (*model.ChargeAttempt, *model.Obligation, error) {
	if p.Source.SourceType() == model.SourceTypeBankAccount {
		return nil, nil, s.err
	}
	return s.memoryAttemptStore.Begin(ctx, p)
}
