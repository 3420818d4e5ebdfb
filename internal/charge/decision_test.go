package charge_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/charge-orchestrator/internal/charge"
)

var _ = Describe("Decide", func() {
	DescribeTable("fallback table",
		func(class charge.Classification, hasSecondary, linkedExpress, priorUnknown, expected bool) {
			Expect(charge.Decide(class, hasSecondary, linkedExpress, priorUnknown).Fallback).To(Equal(expected))
		},
		Entry("ambiguous never falls back", charge.ClassProcessorAmbiguous, true, false, false, false),
		Entry("ambiguous without secondary", charge.ClassProcessorAmbiguous, false, false, false, false),
		Entry("insufficient funds falls back", charge.ClassInsufficientFunds, true, false, false, true),
		Entry("insufficient funds on linked express stops", charge.ClassInsufficientFunds, true, true, false, false),
		Entry("insufficient funds without secondary", charge.ClassInsufficientFunds, false, false, false, false),
		Entry("declined falls back", charge.ClassProcessorDeclined, true, false, false, true),
		Entry("declined ignores linked express", charge.ClassProcessorDeclined, true, true, false, true),
		Entry("validation falls back", charge.ClassValidationError, true, false, false, true),
		Entry("unknown falls back once", charge.ClassUnknownError, true, false, false, true),
		Entry("unknown with prior tagged audit stops", charge.ClassUnknownError, true, false, true, false),
		Entry("unknown without secondary", charge.ClassUnknownError, false, false, false, false),
	)

	It("should return the same decision for the same inputs", func() {
		classes := []charge.Classification{
			charge.ClassInsufficientFunds, charge.ClassProcessorDeclined, charge.ClassProcessorAmbiguous,
			charge.ClassValidationError, charge.ClassUnknownError,
		}
		for _, class := range classes {
			for _, secondary := range []bool{true, false} {
				for _, linked := range []bool{true, false} {
					for _, prior := range []bool{true, false} {
						first := charge.Decide(class, secondary, linked, prior)
						for i := 0; i < 10; i++ {
							Expect(charge.Decide(class, secondary, linked, prior)).To(Equal(first))
						}
					}
				}
			}
		}
	})
})
