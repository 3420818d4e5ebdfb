package charge

// Decision is the outcome of the fallback table for one failed primary attempt.
type Decision struct {
	Fallback bool
	Reason   string
}

const (
	reasonAmbiguous       = "ambiguous outcome settles through reconciliation"
	reasonNoSecondary     = "no secondary funding source"
	reasonLinkedExpress   = "primary source is linked to an in-flight express transaction"
	reasonPriorUnknown    = "unknown error path already taken inside the collection window"
	reasonFallbackAllowed = "fallback allowed"
)

// Decide is the fallback table. Identical inputs always produce the identical decision.
func Decide(class Classification, hasSecondary, linkedExpress, priorUnknownInWindow bool) Decision {
	if class == ClassProcessorAmbiguous {
		return Decision{Fallback: false, Reason: reasonAmbiguous}
	}
	if !hasSecondary {
		return Decision{Fallback: false, Reason: reasonNoSecondary}
	}

	switch class {
	case ClassInsufficientFunds:
		if linkedExpress {
			return Decision{Fallback: false, Reason: reasonLinkedExpress}
		}
	case ClassValidationError, ClassProcessorDeclined:
	case ClassUnknownError:
		if priorUnknownInWindow {
			return Decision{Fallback: false, Reason: reasonPriorUnknown}
		}
	default:
		return Decision{Fallback: false, Reason: "unrecognized classification"}
	}

	return Decision{Fallback: true, Reason: reasonFallbackAllowed}
}
