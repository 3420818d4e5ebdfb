package processor

import (
	"errors"
	"fmt"
	"strings"
)

// ECBadCorrespondenceID is the processor sub-error for a correspondence id it cannot link to the
// original disbursement.
const ECBadCorrespondenceID = "BAD_CORRESPONDENCE_ID"

var (
	ErrInvalidRequest      = errors.New("invalid charge request")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Error is a charge the processor did not accept, or a transport failure that left the outcome unknown.
type Error struct {
	Gateway     string
	HTTPStatus  int
	SC          int
	EC          string
	EM          string
	NetworkRC   string
	Status      string
	ReferenceID string

	// Ambiguous marks responses matching a configured ambiguous signature.
	Ambiguous bool
	// Transport is set when no HTTP response was received after all network retries.
	Transport bool
	// Dial is set when the connection was never established.
	Dial     bool
	Attempts int

	Cause error
}

func (e *Error) Error() string {
	if e.Transport {
		return fmt.Sprintf("processor %s: transport failure after %d attempt(s): %v", e.Gateway, e.Attempts, e.Cause)
	}

	parts := []string{fmt.Sprintf("processor %s", e.Gateway)}
	if e.HTTPStatus != 0 {
		parts = append(parts, fmt.Sprintf("http %d", e.HTTPStatus))
	}
	if e.Status != "" {
		parts = append(parts, "status "+e.Status)
	}
	if e.EC != "" {
		parts = append(parts, "EC "+e.EC)
	}
	if e.NetworkRC != "" {
		parts = append(parts, "networkRC "+e.NetworkRC)
	}
	msg := strings.Join(parts, ", ")
	if e.EM != "" {
		msg += ": " + e.EM
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsBadCorrespondence() bool {
	return strings.EqualFold(e.EC, ECBadCorrespondenceID)
}

// ReasonCode is the most specific decline reason available: the network response code, then the
// processor error code.
func (e *Error) ReasonCode() string {
	if e.NetworkRC != "" {
		return e.NetworkRC
	}
	return e.EC
}
