package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/charge-orchestrator/internal/audit"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

type mockAuditRepository struct {
	records  []model.AuditRecord
	err      error
	gotLimit int
}

func (m *mockAuditRepository) ListByOwner(_ context.Context, ownerID int64, limit int) ([]model.AuditRecord, error) {
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []model.AuditRecord
	for _, r := range m.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockAuditRepository) ListByReference(_ context.Context, referenceID string) ([]model.AuditRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.AuditRecord
	for _, r := range m.records {
		if r.ReferenceID == referenceID {
			out = append(out, r)
		}
	}
	return out, nil
}

var _ = Describe("Audit handler", func() {
	var (
		repo   *mockAuditRepository
		router chi.Router
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		tag := model.TagUnknownErrorPath
		repo = &mockAuditRepository{records: []model.AuditRecord{
			{ID: "a", OwnerID: 7, ReferenceID: "REF000000000001", Outcome: model.OutcomeFailed, Tag: &tag, CreatedAt: time.Now()},
			{ID: "b", OwnerID: 8, ReferenceID: "REF000000000002", Outcome: model.OutcomeSucceeded, CreatedAt: time.Now()},
		}}
		handler := audit.NewHandler(audit.NewService(repo, logger), logger)

		router = chi.NewRouter()
		router.Get("/api/v1/audit", handler.ListByOwner)
		router.Get("/api/v1/audit/references/{referenceId}", handler.ListByReference)
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("should list an owner's audit entries", func() {
		rec := get("/api/v1/audit?owner_id=7")

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body struct {
			Data []audit.Entry `json:"data"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Data).To(HaveLen(1))
		Expect(body.Data[0].Tag).To(Equal(model.TagUnknownErrorPath))
		Expect(repo.gotLimit).To(Equal(audit.DefaultLimit))
	})

	It("should cap the limit", func() {
		rec := get("/api/v1/audit?owner_id=7&limit=50000")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(repo.gotLimit).To(Equal(audit.MaxLimit))
	})

	It("should reject a missing owner id", func() {
		rec := get("/api/v1/audit")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should list entries for a reference", func() {
		rec := get("/api/v1/audit/references/REF000000000002")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"id":"b"`))
	})

	It("should reject a reference longer than fifteen characters", func() {
		rec := get("/api/v1/audit/references/REF0000000000021")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should hide repository failures behind an internal error", func() {
		repo.err = errors.New("connection reset")

		rec := get("/api/v1/audit?owner_id=7")

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).ToNot(ContainSubstring("connection reset"))
	})
})
