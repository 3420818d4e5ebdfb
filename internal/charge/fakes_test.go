package charge_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

type mockProcessorClient struct {
	name     string
	requests []processor.ChargeRequest
	respond  func(req processor.ChargeRequest) (*processor.ChargeResult, error)
}

func (m *mockProcessorClient) Name() string { return m.name }

func (m *mockProcessorClient) Charge(_ context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	m.requests = append(m.requests, req)
	if m.respond == nil {
		return completed(req), nil
	}
	return m.respond(req)
}

func completed(req processor.ChargeRequest) *processor.ChargeResult {
	return &processor.ChargeResult{
		TransactionID: "tx-" + req.ReferenceID,
		ReferenceID:   req.ReferenceID,
		Status:        processor.StatusCompleted,
		Amount:        req.Amount,
	}
}

type mockAuditLog struct {
	mu        sync.Mutex
	records   []*model.AuditRecord
	appendErr error
}

func (m *mockAuditLog) Append(_ context.Context, record *model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockAuditLog) HasTaggedSince(_ context.Context, obligationID, tag string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ObligationID == obligationID && r.Tag != nil && *r.Tag == tag && !r.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAuditLog) untagged() []*model.AuditRecord {
	var out []*model.AuditRecord
	for _, r := range m.records {
		if r.Tag == nil {
			out = append(out, r)
		}
	}
	return out
}

var errInFlight = errors.New("attempt in flight")

// memoryAttemptStore mirrors the locking rules of the database store.
type memoryAttemptStore struct {
	mu          sync.Mutex
	obligations map[string]*model.Obligation
	attempts    []*model.ChargeAttempt
	seq         int
}

func newMemoryAttemptStore(obligations ...*model.Obligation) *memoryAttemptStore {
	s := &memoryAttemptStore{obligations: map[string]*model.Obligation{}}
	for _, o := range obligations {
		s.obligations[o.ID] = o
	}
	return s
}

func (s *memoryAttemptStore) Begin(_ context.Context, p charge.BeginParams) (*model.ChargeAttempt, *model.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.obligations[p.ObligationID]
	if !ok {
		return nil, nil, errors.New("obligation not found")
	}
	for _, a := range s.attempts {
		if a.ObligationID == p.ObligationID && !model.IsTerminalStatus(a.Status) {
			return nil, nil, errInFlight
		}
	}
	if p.Amount.GreaterThan(o.Remaining()) {
		return nil, nil, errors.New("amount exceeds remaining balance")
	}

	s.seq++
	a := &model.ChargeAttempt{
		ID:              fmt.Sprintf("attempt-%d", s.seq),
		ObligationID:    o.ID,
		OwnerID:         o.OwnerID,
		FundingSourceID: p.Source.SourceID(),
		SourceType:      p.Source.SourceType(),
		Amount:          p.Amount,
		ReferenceID:     p.ReferenceID,
		Processor:       p.Processor,
		Status:          model.AttemptStatusCreated,
		Version:         1,
	}
	s.attempts = append(s.attempts, a)
	snapshot := *o
	return a, &snapshot, nil
}

func (s *memoryAttemptStore) Record(_ context.Context, attempt *model.ChargeAttempt, u charge.AttemptUpdate) (*model.ChargeAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attempts {
		if a.ID != attempt.ID {
			continue
		}
		if !model.CanTransition(a.Status, u.Status) {
			return nil, fmt.Errorf("invalid transition %s -> %s", a.Status, u.Status)
		}
		a.Status = u.Status
		if u.ReferenceID != "" {
			a.ReferenceID = u.ReferenceID
		}
		if u.ExternalID != "" {
			ext := u.ExternalID
			a.ExternalID = &ext
		}
		if u.Classification != "" {
			class := string(u.Classification)
			a.Classification = &class
		}
		if u.Status == model.AttemptStatusCompleted {
			o := s.obligations[a.ObligationID]
			o.AlreadyCollected = o.AlreadyCollected.Add(a.Amount)
		}
		a.Version++
		copied := *a
		return &copied, nil
	}
	return nil, errors.New("attempt not found")
}

func (s *memoryAttemptStore) byStatus(status string) []*model.ChargeAttempt {
	var out []*model.ChargeAttempt
	for _, a := range s.attempts {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

func newObligation(id string, owed string) *model.Obligation {
	return &model.Obligation{
		ID:               id,
		OwnerID:          7,
		Kind:             model.ObligationKindAdvanceRepayment,
		AmountOwed:       decimal.RequireFromString(owed),
		AlreadyCollected: decimal.Zero,
		Version:          1,
	}
}

func debitCard() charge.DebitCard {
	return charge.DebitCard{ID: "card-1", OwnerID: 7, ExternalToken: "card-token", Bin: "411111", Last4: "1111"}
}

func bankAccount() charge.BankAccount {
	return charge.BankAccount{ID: "bank-1", OwnerID: 7, ExternalToken: "bank-token", AccountType: charge.AccountChecking, RoutingLast4: "0021"}
}

func insufficientFunds(req processor.ChargeRequest) (*processor.ChargeResult, error) {
	return nil, &processor.Error{Gateway: "visa", HTTPStatus: 200, Status: "FAILED", NetworkRC: "51", ReferenceID: req.ReferenceID}
}

func ambiguous(req processor.ChargeRequest) (*processor.ChargeResult, error) {
	return nil, &processor.Error{Gateway: "debit", HTTPStatus: 500, Ambiguous: true, ReferenceID: req.ReferenceID}
}

func declined(req processor.ChargeRequest) (*processor.ChargeResult, error) {
	return nil, &processor.Error{Gateway: "debit", HTTPStatus: 400, EC: "DECLINED", NetworkRC: "05", ReferenceID: req.ReferenceID}
}

func dialFailure(req processor.ChargeRequest) (*processor.ChargeResult, error) {
	return nil, &processor.Error{Gateway: "debit", Transport: true, Dial: true, ReferenceID: req.ReferenceID, Cause: errors.New("connection refused")}
}
