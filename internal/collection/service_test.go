package collection_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/collection"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

type mockObligationRepository struct {
	obligations map[string]*model.Obligation
	sources     map[string]*model.FundingSource
}

func (m *mockObligationRepository) GetByID(_ context.Context, id string) (*model.Obligation, error) {
	o, ok := m.obligations[id]
	if !ok {
		return nil, apperrors.ErrObligationNotFound
	}
	return o, nil
}

func (m *mockObligationRepository) GetFundingSource(_ context.Context, id string) (*model.FundingSource, error) {
	fs, ok := m.sources[id]
	if !ok {
		return nil, apperrors.ErrSourceNotFound
	}
	return fs, nil
}

type memoryGuard struct {
	mu       sync.Mutex
	holders  map[string]string
	released int
}

func (g *memoryGuard) Acquire(_ context.Context, obligationID, holder string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.holders[obligationID]; held {
		return false, nil
	}
	g.holders[obligationID] = holder
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, obligationID, holder string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holders[obligationID] == holder {
		delete(g.holders, obligationID)
		g.released++
	}
	return nil
}

type mockAttemptReader struct {
	attempts map[string]*model.ChargeAttempt
}

func (m *mockAttemptReader) GetByID(_ context.Context, id string) (*model.ChargeAttempt, error) {
	a, ok := m.attempts[id]
	if !ok {
		return nil, apperrors.ErrChargeNotFound
	}
	return a, nil
}

type mockExecutor struct {
	mu      sync.Mutex
	plans   []charge.Plan
	started chan struct{}
	release chan struct{}
	result  *charge.Result
	err     error
}

func (m *mockExecutor) Execute(_ context.Context, plan charge.Plan) (*charge.Result, error) {
	m.mu.Lock()
	m.plans = append(m.plans, plan)
	m.mu.Unlock()

	if m.started != nil {
		close(m.started)
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockExecutor) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.plans)
}

func completedResult(amount string) *charge.Result {
	return &charge.Result{
		Attempt: &model.ChargeAttempt{
			ID:          "3f1c2b8e-2f4a-4d7e-9a51-0c2d6b9e8f10",
			ReferenceID: "REF000000000001",
			Status:      model.AttemptStatusCompleted,
			Amount:      decimal.RequireFromString(amount),
			SourceType:  model.SourceTypeDebitCard,
			Processor:   "debit-processor",
		},
	}
}

var _ = Describe("Collection service", func() {
	var (
		ctx         context.Context
		logger      *slog.Logger
		obligations *mockObligationRepository
		guard       *memoryGuard
		reader      *mockAttemptReader
		executor    *mockExecutor
		service     *collection.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		obligations = &mockObligationRepository{
			obligations: map[string]*model.Obligation{
				"obl-1": {
					ID:               "obl-1",
					OwnerID:          7,
					Kind:             model.ObligationKindAdvanceRepayment,
					AmountOwed:       decimal.RequireFromString("100.00"),
					AlreadyCollected: decimal.RequireFromString("25.00"),
				},
			},
			sources: map[string]*model.FundingSource{
				"card-1": {ID: "card-1", OwnerID: 7, SourceType: model.SourceTypeDebitCard, ExternalToken: "tok_card"},
				"bank-1": {ID: "bank-1", OwnerID: 7, SourceType: model.SourceTypeBankAccount, ExternalToken: "tok_bank"},
			},
		}
		checking := "checking"
		obligations.sources["bank-1"].AccountType = &checking

		guard = &memoryGuard{holders: map[string]string{}}
		reader = &mockAttemptReader{attempts: map[string]*model.ChargeAttempt{}}
		executor = &mockExecutor{result: completedResult("75.00")}
		service = collection.NewService(obligations, reader, guard, executor, collection.Config{UnknownErrorWindow: time.Hour}, logger)
	})

	Describe("Collect", func() {
		It("should collect the remaining balance when no amount is given", func() {
			// Given a primary card and a secondary bank account
			req := collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1", SecondarySourceID: "bank-1"}

			// When
			result, err := service.Collect(ctx, req)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(model.AttemptStatusCompleted))
			Expect(executor.plans).To(HaveLen(1))
			plan := executor.plans[0]
			Expect(plan.Amount.Equal(decimal.RequireFromString("75.00"))).To(BeTrue())
			Expect(plan.Primary).To(BeAssignableToTypeOf(charge.DebitCard{}))
			Expect(plan.Secondary).To(BeAssignableToTypeOf(charge.BankAccount{}))
			Expect(plan.WindowStart).To(BeTemporally("~", time.Now().Add(-time.Hour), time.Minute))
			Expect(guard.released).To(Equal(1))
		})

		It("should reject an amount above the remaining balance before charging", func() {
			amount := decimal.RequireFromString("75.01")

			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1", Amount: &amount})

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
			Expect(executor.calls()).To(Equal(0))
		})

		It("should round a caller amount to cents before charging", func() {
			for given, charged := range map[string]string{"0.125": "0.12", "0.135": "0.14", "10.005": "10.00"} {
				executor.plans = nil
				amount := decimal.RequireFromString(given)

				_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1", Amount: &amount})

				Expect(err).ToNot(HaveOccurred())
				Expect(executor.plans).To(HaveLen(1))
				Expect(executor.plans[0].Amount.Equal(decimal.RequireFromString(charged))).To(BeTrue(), given)
			}
		})

		It("should reject an amount that rounds to zero", func() {
			amount := decimal.RequireFromString("0.004")

			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1", Amount: &amount})

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
			Expect(executor.calls()).To(Equal(0))
		})

		It("should return not found for a missing funding source", func() {
			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-404"})

			Expect(errors.Is(err, apperrors.ErrSourceNotFound)).To(BeTrue())
			Expect(executor.calls()).To(Equal(0))
		})

		It("should return not found for a missing obligation", func() {
			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-404", PrimarySourceID: "card-1"})

			Expect(errors.Is(err, apperrors.ErrObligationNotFound)).To(BeTrue())
		})

		It("should fail fast while another collection holds the guard", func() {
			// Given a collection blocked inside the processor call
			executor.started = make(chan struct{})
			executor.release = make(chan struct{})

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1"})
				done <- err
			}()
			Eventually(executor.started).Should(BeClosed())

			// When a second collection starts
			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1"})

			// Then it is rejected without charging
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeCollectionInProgress))
			Expect(errors.Is(err, collection.ErrCollectionInProgress)).To(BeTrue())
			Expect(executor.calls()).To(Equal(1))

			close(executor.release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(guard.released).To(Equal(1))
		})

		It("should map an in-flight attempt to a conflict", func() {
			executor.err = fmt.Errorf("begin: %w", collection.ErrAttemptInFlight)

			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1"})

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeConflict))
			Expect(guard.released).To(Equal(1))
		})

		It("should return charge failures unchanged", func() {
			executor.err = &charge.Error{Class: charge.ClassInsufficientFunds, Reason: "51"}

			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1"})

			var cerr *charge.Error
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(cerr.Class).To(Equal(charge.ClassInsufficientFunds))
		})

		It("should hide unexpected executor errors behind an internal error", func() {
			executor.err = errors.New("connection reset")

			_, err := service.Collect(ctx, collection.CollectRequest{ObligationID: "obl-1", PrimarySourceID: "card-1"})

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeInternal))
		})
	})

	Describe("GetCharge", func() {
		It("should reject an id that is not a UUID", func() {
			_, err := service.GetCharge(ctx, "not-a-uuid")

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
		})

		It("should return the stored attempt", func() {
			class := string(charge.ClassInsufficientFunds)
			reason := "51"
			id := "3f1c2b8e-2f4a-4d7e-9a51-0c2d6b9e8f10"
			reader.attempts[id] = &model.ChargeAttempt{
				ID:             id,
				ObligationID:   "obl-1",
				Status:         model.AttemptStatusCanceled,
				Amount:         decimal.RequireFromString("75.00"),
				Classification: &class,
				FailureReason:  &reason,
			}

			view, err := service.GetCharge(ctx, id)

			Expect(err).ToNot(HaveOccurred())
			Expect(view.Classification).To(Equal(class))
			Expect(view.FailureReason).To(Equal("51"))
			Expect(view.ExternalID).To(BeEmpty())
		})
	})
})
