package sandbox

import (
	"net/http"
	"strings"
)

// Source account tokens select the sandbox behavior by prefix. Any other token completes.
const (
	TokenInsufficientCard = "tok_nsf_card"
	TokenInsufficientACH  = "tok_nsf_ach"
	TokenDecline          = "tok_decline"
	TokenPending          = "tok_pending"
	TokenUnknown          = "tok_unknown"
	TokenReturned         = "tok_returned"
	TokenGatewayError     = "tok_gateway_error"
	TokenRejected         = "tok_rejected"

	// BadCorrespondencePrefix marks correspondence ids the sandbox refuses to link.
	BadCorrespondencePrefix = "bad"
)

// outcome is the sandbox's decision for one submission.
type outcome struct {
	httpStatus int
	status     string
	network    string
	networkRC  string
	errorCode  string
	message    string
	// record reports whether the reference is remembered; rejected requests are not.
	record bool
}

func decide(sourceAccount, correspondenceID, txType string) outcome {
	if correspondenceID != "" && strings.HasPrefix(correspondenceID, BadCorrespondencePrefix) {
		return outcome{
			httpStatus: http.StatusBadRequest,
			errorCode:  "BAD_CORRESPONDENCE_ID",
			message:    "correspondence id does not match a disbursement",
		}
	}

	network := "visa"
	if txType == "push" || strings.Contains(sourceAccount, "ach") {
		network = "nacha"
	}

	switch {
	case strings.HasPrefix(sourceAccount, TokenInsufficientCard):
		return outcome{httpStatus: http.StatusOK, status: "FAILED", network: "visa", networkRC: "51", errorCode: "DECLINED", message: "insufficient funds", record: true}
	case strings.HasPrefix(sourceAccount, TokenInsufficientACH):
		return outcome{httpStatus: http.StatusOK, status: "FAILED", network: "nacha", networkRC: "R01", errorCode: "RETURNED", message: "insufficient funds", record: true}
	case strings.HasPrefix(sourceAccount, TokenDecline):
		return outcome{httpStatus: http.StatusOK, status: "FAILED", network: network, networkRC: "05", errorCode: "DECLINED", message: "do not honor", record: true}
	case strings.HasPrefix(sourceAccount, TokenPending):
		return outcome{httpStatus: http.StatusOK, status: "PENDING", network: network, record: true}
	case strings.HasPrefix(sourceAccount, TokenUnknown):
		return outcome{httpStatus: http.StatusOK, status: "UNKNOWN", network: network, record: true}
	case strings.HasPrefix(sourceAccount, TokenReturned):
		return outcome{httpStatus: http.StatusOK, status: "RETURNED", network: network, networkRC: "R09", record: true}
	case strings.HasPrefix(sourceAccount, TokenGatewayError):
		// the money moves, the caller only sees a gateway failure
		return outcome{httpStatus: http.StatusInternalServerError, status: "COMPLETED", network: network, errorCode: "GATEWAY_ERROR", message: "upstream gateway failure", record: true}
	case strings.HasPrefix(sourceAccount, TokenRejected):
		return outcome{httpStatus: http.StatusUnprocessableEntity, errorCode: "INVALID_ACCOUNT", message: "source account rejected"}
	default:
		return outcome{httpStatus: http.StatusOK, status: "COMPLETED", network: network, record: true}
	}
}
