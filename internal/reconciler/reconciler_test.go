package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	auditpg "github.com/frahmantamala/charge-orchestrator/internal/audit/postgres"
	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/collection"
	collectionpg "github.com/frahmantamala/charge-orchestrator/internal/collection/postgres"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/core/events"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
	"github.com/frahmantamala/charge-orchestrator/internal/reconciler"
	"github.com/frahmantamala/charge-orchestrator/internal/sandbox"
)

type listCall struct {
	statuses []string
	cutoff   time.Time
}

type memoryAttemptStore struct {
	mu        sync.Mutex
	attempts  []model.ChargeAttempt
	lists     []listCall
	recorded  []charge.AttemptUpdate
	recordErr error
}

func (m *memoryAttemptStore) ListStale(_ context.Context, statuses []string, cutoff time.Time, limit int) ([]model.ChargeAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = append(m.lists, listCall{statuses: statuses, cutoff: cutoff})

	var out []model.ChargeAttempt
	for _, a := range m.attempts {
		if !a.UpdatedAt.Before(cutoff) {
			continue
		}
		for _, s := range statuses {
			if a.Status == s && len(out) < limit {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *memoryAttemptStore) Record(_ context.Context, attempt *model.ChargeAttempt, u charge.AttemptUpdate) (*model.ChargeAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	m.recorded = append(m.recorded, u)
	updated := *attempt
	updated.Status = u.Status
	updated.Version++
	return &updated, nil
}

type mockStatusClient struct {
	name    string
	mu      sync.Mutex
	queried []string
	respond func(ref string) (*processor.ChargeResult, error)
}

func (m *mockStatusClient) Name() string { return m.name }

func (m *mockStatusClient) GetStatus(_ context.Context, ref string) (*processor.ChargeResult, error) {
	m.mu.Lock()
	m.queried = append(m.queried, ref)
	m.mu.Unlock()
	return m.respond(ref)
}

type memoryAudit struct {
	mu      sync.Mutex
	records []*model.AuditRecord
}

func (m *memoryAudit) Append(_ context.Context, r *model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

type memoryPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memoryPublisher) Publish(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func staleAttempt(id, status string, age time.Duration) model.ChargeAttempt {
	return model.ChargeAttempt{
		ID:              id,
		ObligationID:    "obl-1",
		OwnerID:         7,
		FundingSourceID: "card-1",
		SourceType:      model.SourceTypeDebitCard,
		Amount:          decimal.RequireFromString("75.00"),
		ReferenceID:     "REF" + id,
		Processor:       "Debit-Processor",
		Status:          status,
		Version:         2,
		UpdatedAt:       time.Now().Add(-age),
	}
}

func statusResult(status processor.Status) func(string) (*processor.ChargeResult, error) {
	return func(ref string) (*processor.ChargeResult, error) {
		return &processor.ChargeResult{TransactionID: "tx-" + ref, ReferenceID: ref, Status: status}, nil
	}
}

var _ = Describe("Reconciler", func() {
	var (
		ctx       context.Context
		logger    *slog.Logger
		store     *memoryAttemptStore
		client    *mockStatusClient
		audit     *memoryAudit
		publisher *memoryPublisher
		service   *reconciler.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		store = &memoryAttemptStore{}
		client = &mockStatusClient{name: "debit-processor", respond: statusResult(processor.StatusCompleted)}
		audit = &memoryAudit{}
		publisher = &memoryPublisher{}
		service = reconciler.NewService(store, []reconciler.StatusClient{client}, audit, publisher, reconciler.Config{
			PendingThreshold: 10 * time.Minute,
			CreatedThreshold: 30 * time.Minute,
			Pool:             reconciler.PoolConfig{MaxWorkers: 2},
		}, logger)
	})

	It("should settle a stale pending attempt the processor completed", func() {
		store.attempts = []model.ChargeAttempt{staleAttempt("001", model.AttemptStatusPending, time.Hour)}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary).To(Equal(reconciler.Summary{Scanned: 1, Updated: 1}))
		Expect(store.recorded).To(HaveLen(1))
		Expect(store.recorded[0].Status).To(Equal(model.AttemptStatusCompleted))
		Expect(store.recorded[0].ExternalID).To(Equal("tx-REF001"))

		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Outcome).To(Equal(model.OutcomeReconciled))
		Expect(string(audit.records[0].Payload)).To(ContainSubstring(`"from":"pending"`))
		Expect(publisher.events).To(HaveLen(1))
		Expect(publisher.events[0].EventType()).To(Equal(events.EventTypeChargeReconciled))
	})

	It("should use separate age thresholds for created and pending attempts", func() {
		store.attempts = []model.ChargeAttempt{
			staleAttempt("001", model.AttemptStatusUnknown, 20*time.Minute),
			staleAttempt("002", model.AttemptStatusCreated, 20*time.Minute),
			staleAttempt("003", model.AttemptStatusCreated, time.Hour),
			staleAttempt("004", model.AttemptStatusPending, time.Minute),
		}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Scanned).To(Equal(2))
		Expect(client.queried).To(ConsistOf("REF001", "REF003"))
		Expect(store.lists).To(HaveLen(2))
		Expect(store.lists[0].statuses).To(ConsistOf(model.AttemptStatusPending, model.AttemptStatusUnknown))
		Expect(store.lists[1].statuses).To(ConsistOf(model.AttemptStatusCreated))
	})

	It("should leave an attempt whose status has not moved", func() {
		store.attempts = []model.ChargeAttempt{staleAttempt("001", model.AttemptStatusPending, time.Hour)}
		client.respond = statusResult(processor.StatusPending)

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary).To(Equal(reconciler.Summary{Scanned: 1, Unchanged: 1}))
		Expect(store.recorded).To(BeEmpty())
		Expect(audit.records).To(BeEmpty())
	})

	It("should cancel an unknown attempt the processor never saw", func() {
		store.attempts = []model.ChargeAttempt{staleAttempt("001", model.AttemptStatusUnknown, time.Hour)}
		client.respond = func(ref string) (*processor.ChargeResult, error) {
			return nil, fmt.Errorf("%w: %s", processor.ErrTransactionNotFound, ref)
		}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Updated).To(Equal(1))
		Expect(store.recorded[0].Status).To(Equal(model.AttemptStatusCanceled))
		Expect(store.recorded[0].Classification).To(Equal(charge.ClassUnknownError))
	})

	It("should settle an attempt the processor completed under its resubmitted reference", func() {
		a := staleAttempt("001", model.AttemptStatusCreated, time.Hour)
		resubmitted := processor.ResubmitReferenceID(a.ReferenceID)
		store.attempts = []model.ChargeAttempt{a}
		client.respond = func(ref string) (*processor.ChargeResult, error) {
			if ref != resubmitted {
				return nil, fmt.Errorf("%w: %s", processor.ErrTransactionNotFound, ref)
			}
			return &processor.ChargeResult{TransactionID: "tx-resubmitted", ReferenceID: ref, Status: processor.StatusCompleted}, nil
		}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Updated).To(Equal(1))
		Expect(client.queried).To(Equal([]string{"REF001", resubmitted}))
		Expect(store.recorded).To(HaveLen(1))
		Expect(store.recorded[0].Status).To(Equal(model.AttemptStatusCompleted))
		Expect(store.recorded[0].ReferenceID).To(Equal(resubmitted))
		Expect(store.recorded[0].ExternalID).To(Equal("tx-resubmitted"))
	})

	It("should find a charge the sandbox took after refusing its correspondence id", func() {
		sandboxStore, err := sandbox.OpenStore(filepath.Join(GinkgoT().TempDir(), "sandbox.db"))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(sandboxStore.Close)
		server := httptest.NewServer(sandbox.NewHandler(sandboxStore, sandbox.Config{}, logger).Routes())
		DeferCleanup(server.Close)

		debit := processor.NewClient(processor.Config{
			Name:         "debit-processor",
			BaseURL:      server.URL,
			Timeout:      2 * time.Second,
			RetryBackoff: time.Millisecond,
		}, logger)

		a := staleAttempt("000000000001", model.AttemptStatusCreated, time.Hour)
		result, err := debit.Charge(ctx, processor.ChargeRequest{
			ReferenceID:      a.ReferenceID,
			SourceToken:      "tok_card",
			Amount:           a.Amount,
			CorrespondenceID: "bad-disbursement",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(processor.StatusCompleted))

		store.attempts = []model.ChargeAttempt{a}
		svc := reconciler.NewService(store, []reconciler.StatusClient{debit}, audit, publisher, reconciler.Config{
			PendingThreshold: 10 * time.Minute,
			CreatedThreshold: 30 * time.Minute,
		}, logger)

		summary, err := svc.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Updated).To(Equal(1))
		Expect(store.recorded).To(HaveLen(1))
		Expect(store.recorded[0].Status).To(Equal(model.AttemptStatusCompleted))
		Expect(store.recorded[0].ReferenceID).To(Equal(result.ReferenceID))
	})

	It("should keep a pending attempt the processor cannot find", func() {
		store.attempts = []model.ChargeAttempt{staleAttempt("001", model.AttemptStatusPending, time.Hour)}
		client.respond = func(ref string) (*processor.ChargeResult, error) {
			return nil, processor.ErrTransactionNotFound
		}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Unchanged).To(Equal(1))
		Expect(store.recorded).To(BeEmpty())
	})

	It("should cancel an attempt the processor reports as failed", func() {
		store.attempts = []model.ChargeAttempt{staleAttempt("001", model.AttemptStatusUnknown, time.Hour)}
		client.respond = func(ref string) (*processor.ChargeResult, error) {
			return nil, &processor.Error{Gateway: "visa", Status: "FAILED", NetworkRC: "51", ReferenceID: ref}
		}

		_, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(store.recorded).To(HaveLen(1))
		Expect(store.recorded[0].Status).To(Equal(model.AttemptStatusCanceled))
		Expect(store.recorded[0].Classification).To(Equal(charge.ClassInsufficientFunds))
		Expect(store.recorded[0].FailureReason).To(Equal("51"))
	})

	It("should not touch an attempt when the processor cannot be reached", func() {
		store.attempts = []model.ChargeAttempt{staleAttempt("001", model.AttemptStatusUnknown, time.Hour)}
		client.respond = func(ref string) (*processor.ChargeResult, error) {
			return nil, &processor.Error{Transport: true, Cause: errors.New("connection refused")}
		}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Failed).To(Equal(1))
		Expect(store.recorded).To(BeEmpty())
	})

	It("should skip an attempt that changed concurrently", func() {
		store.attempts = []model.ChargeAttempt{staleAttempt("001", model.AttemptStatusPending, time.Hour)}
		store.recordErr = collection.ErrStaleAttempt

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Unchanged).To(Equal(1))
		Expect(audit.records).To(BeEmpty())
		Expect(publisher.events).To(BeEmpty())
	})

	It("should report attempts for processors it has no client for", func() {
		a := staleAttempt("001", model.AttemptStatusPending, time.Hour)
		a.Processor = "ach-processor"
		store.attempts = []model.ChargeAttempt{a}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Failed).To(Equal(1))
		Expect(client.queried).To(BeEmpty())
	})

	It("should reconcile many attempts on the bounded pool", func() {
		for i := 0; i < 25; i++ {
			store.attempts = append(store.attempts, staleAttempt(fmt.Sprintf("%03d", i), model.AttemptStatusUnknown, time.Hour))
		}

		summary, err := service.RunOnce(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Updated).To(Equal(25))
		Expect(client.queried).To(HaveLen(25))
	})

	Describe("with the database store", func() {
		It("should add a reconciled completion to the collected amount", func() {
			db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
				NowFunc: func() time.Time { return time.Now().UTC() },
			})
			Expect(err).ToNot(HaveOccurred())
			sqlDB, err := db.DB()
			Expect(err).ToNot(HaveOccurred())
			sqlDB.SetMaxOpenConns(1)
			Expect(db.AutoMigrate(&model.Obligation{}, &model.ChargeAttempt{}, &model.AuditRecord{})).To(Succeed())

			obligations := collectionpg.NewObligationRepository(db)
			attempts := collectionpg.NewAttemptRepository(db)
			Expect(obligations.Create(ctx, &model.Obligation{
				ID:         "obl-1",
				OwnerID:    7,
				Kind:       model.ObligationKindSubscription,
				AmountOwed: decimal.RequireFromString("75.00"),
				Version:    1,
			})).To(Succeed())

			a, _, err := attempts.Begin(ctx, charge.BeginParams{
				ObligationID: "obl-1",
				Source:       charge.DebitCard{ID: "card-1", OwnerID: 7, ExternalToken: "tok"},
				Amount:       decimal.RequireFromString("75.00"),
				Processor:    "debit-processor",
				ReferenceID:  "REF000000000001",
			})
			Expect(err).ToNot(HaveOccurred())
			_, err = attempts.Record(ctx, a, charge.AttemptUpdate{Status: model.AttemptStatusUnknown})
			Expect(err).ToNot(HaveOccurred())

			svc := reconciler.NewService(attempts, []reconciler.StatusClient{client}, auditpg.NewWriter(db), publisher, reconciler.Config{
				PendingThreshold: time.Nanosecond,
				CreatedThreshold: time.Nanosecond,
			}, logger)
			time.Sleep(5 * time.Millisecond)

			summary, err := svc.RunOnce(ctx)

			Expect(err).ToNot(HaveOccurred())
			Expect(summary.Updated).To(Equal(1))
			stored, err := attempts.GetByID(ctx, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.Status).To(Equal(model.AttemptStatusCompleted))
			o, err := obligations.GetByID(ctx, "obl-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(o.Remaining().IsZero()).To(BeTrue())

			// a second pass finds nothing left to do
			summary, err = svc.RunOnce(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(summary.Scanned).To(Equal(0))
		})
	})
})
