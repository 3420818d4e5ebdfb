package processor

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/frahmantamala/charge-orchestrator/internal/core/common/validation"
)

var referenceEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewReferenceID returns a fresh idempotency reference that fits the processor's length limit.
func NewReferenceID() string {
	id := uuid.New()
	return encodeReference(id[:])
}

// DeriveReferenceID deterministically derives a new reference from parent, so the same logical retry
// always maps to the same reference.
func DeriveReferenceID(parent, salt string) string {
	sum := blake2b.Sum256([]byte(parent + "/" + salt))
	return encodeReference(sum[:])
}

// ResubmitReferenceID is the reference a charge is resubmitted under after the processor rejects its
// correspondence id.
func ResubmitReferenceID(parent string) string {
	return DeriveReferenceID(parent, "no-correspondence")
}

func encodeReference(b []byte) string {
	s := strings.ToUpper(referenceEncoding.EncodeToString(b))
	return s[:validation.MaxReferenceIDLength]
}
