package charge_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

var _ = Describe("Classify", func() {
	DescribeTable("processor errors",
		func(err error, expected charge.Classification) {
			Expect(charge.Classify(err)).To(Equal(expected))
		},
		Entry("network code 51", &processor.Error{HTTPStatus: 200, Status: "FAILED", NetworkRC: "51"}, charge.ClassInsufficientFunds),
		Entry("network code 61", &processor.Error{HTTPStatus: 400, NetworkRC: "61"}, charge.ClassInsufficientFunds),
		Entry("network code 65", &processor.Error{HTTPStatus: 400, NetworkRC: "65"}, charge.ClassInsufficientFunds),
		Entry("ACH return R01", &processor.Error{HTTPStatus: 400, NetworkRC: "R01"}, charge.ClassInsufficientFunds),
		Entry("ACH return R09 lower case", &processor.Error{HTTPStatus: 400, NetworkRC: "r09"}, charge.ClassInsufficientFunds),
		Entry("other decline code", &processor.Error{HTTPStatus: 400, EC: "DECLINED", NetworkRC: "05"}, charge.ClassProcessorDeclined),
		Entry("ERROR status without a code", &processor.Error{HTTPStatus: 200, Status: "ERROR"}, charge.ClassProcessorDeclined),
		Entry("ambiguous signature", &processor.Error{HTTPStatus: 500, Ambiguous: true}, charge.ClassProcessorAmbiguous),
		Entry("ambiguous signature wins over a funds code", &processor.Error{HTTPStatus: 500, Ambiguous: true, NetworkRC: "51"}, charge.ClassProcessorAmbiguous),
		Entry("exhausted timeouts", &processor.Error{Transport: true, Cause: context.DeadlineExceeded}, charge.ClassProcessorAmbiguous),
		Entry("dial failure", &processor.Error{Transport: true, Dial: true}, charge.ClassUnknownError),
		Entry("wrapped processor error", fmt.Errorf("charge: %w", &processor.Error{HTTPStatus: 400, NetworkRC: "51"}), charge.ClassInsufficientFunds),
	)

	It("should classify an invalid request as a validation error", func() {
		err := fmt.Errorf("%w: reference too long", processor.ErrInvalidRequest)
		Expect(charge.Classify(err)).To(Equal(charge.ClassValidationError))
	})

	It("should classify application validation errors", func() {
		err := apperrors.NewValidationError("bad input", apperrors.ErrCodeValidationFailed)
		Expect(charge.Classify(err)).To(Equal(charge.ClassValidationError))
	})

	It("should keep the class of an already classified error", func() {
		err := &charge.Error{Class: charge.ClassProcessorDeclined}
		Expect(charge.Classify(fmt.Errorf("wrapped: %w", err))).To(Equal(charge.ClassProcessorDeclined))
	})

	It("should treat anything else as unknown", func() {
		Expect(charge.Classify(errors.New("boom"))).To(Equal(charge.ClassUnknownError))
		Expect(charge.Classify(nil)).To(Equal(charge.ClassUnknownError))
	})

	It("should be stable across repeated calls", func() {
		err := &processor.Error{HTTPStatus: 400, NetworkRC: "R01"}
		first := charge.Classify(err)
		for i := 0; i < 100; i++ {
			Expect(charge.Classify(err)).To(Equal(first))
		}
	})
})

var _ = Describe("Classification", func() {
	It("should expose recoverability", func() {
		Expect(charge.ClassInsufficientFunds.Recoverable()).To(BeTrue())
		Expect(charge.ClassProcessorDeclined.Recoverable()).To(BeTrue())
		Expect(charge.ClassUnknownError.Recoverable()).To(BeTrue())
		Expect(charge.ClassValidationError.Recoverable()).To(BeFalse())
		Expect(charge.ClassProcessorAmbiguous.Recoverable()).To(BeFalse())
	})

	It("should convert a charge error into an application error with details", func() {
		primary := &charge.Error{Class: charge.ClassInsufficientFunds}
		err := &charge.Error{Class: charge.ClassProcessorDeclined, Reason: "05", AttemptID: "a-1", Primary: primary}

		appErr := err.AppError()

		Expect(appErr.Code).To(Equal(apperrors.ErrCodeProcessorDeclined))
		details, ok := appErr.Details.(apperrors.ChargeFailureDetails)
		Expect(ok).To(BeTrue())
		Expect(details.Classification).To(Equal("processor_declined"))
		Expect(details.Recoverable).To(BeTrue())
		Expect(details.AttemptID).To(Equal("a-1"))
		Expect(details.PrimaryReason).To(Equal("insufficient_funds"))
	})
})
