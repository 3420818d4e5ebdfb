package charge

import (
	"errors"
	"strings"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
)

// insufficientFundsCodes are card network and NACHA return codes that mean the money is not there.
var insufficientFundsCodes = map[string]struct{}{
	"51":  {},
	"61":  {},
	"65":  {},
	"R01": {},
	"R09": {},
}

func IsInsufficientFundsCode(code string) bool {
	_, ok := insufficientFundsCodes[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// Classify maps any charge failure onto the closed classification set. It depends only on err.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknownError
	}

	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Class
	}

	if errors.Is(err, processor.ErrInvalidRequest) {
		return ClassValidationError
	}

	var perr *processor.Error
	if errors.As(err, &perr) {
		return classifyProcessorError(perr)
	}

	if appErr, ok := apperrors.IsAppError(err); ok && appErr.Type == apperrors.ErrorTypeValidation {
		return ClassValidationError
	}

	return ClassUnknownError
}

func classifyProcessorError(perr *processor.Error) Classification {
	switch {
	case perr.Transport && perr.Dial:
		return ClassUnknownError
	case perr.Transport:
		return ClassProcessorAmbiguous
	case perr.Ambiguous:
		return ClassProcessorAmbiguous
	case IsInsufficientFundsCode(perr.NetworkRC):
		return ClassInsufficientFunds
	case perr.HTTPStatus != 0 || perr.Status != "" || perr.EC != "":
		return ClassProcessorDeclined
	default:
		return ClassUnknownError
	}
}
