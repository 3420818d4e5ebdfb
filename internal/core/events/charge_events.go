package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeChargeCompleted  = "charge.completed"
	EventTypeChargeFailed     = "charge.failed"
	EventTypeChargeAmbiguous  = "charge.ambiguous"
	EventTypeChargeReconciled = "charge.reconciled"
)

// ChargeEventTypes lists every charge outcome event, for subscribers that want all of them.
var ChargeEventTypes = []string{
	EventTypeChargeCompleted,
	EventTypeChargeFailed,
	EventTypeChargeAmbiguous,
	EventTypeChargeReconciled,
}

type ChargeEvent struct {
	BaseEvent
	AttemptID      string `json:"attempt_id"`
	ObligationID   string `json:"obligation_id"`
	ReferenceID    string `json:"reference_id"`
	Processor      string `json:"processor"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	Classification string `json:"classification,omitempty"`
}

// ChargeSnapshot is the attempt state carried by a charge event.
type ChargeSnapshot struct {
	AttemptID      string
	ObligationID   string
	ReferenceID    string
	Processor      string
	Amount         string
	Status         string
	Classification string
}

func newChargeEvent(eventType string, s ChargeSnapshot) *ChargeEvent {
	data := map[string]interface{}{
		"attempt_id":    s.AttemptID,
		"obligation_id": s.ObligationID,
		"reference_id":  s.ReferenceID,
		"processor":     s.Processor,
		"amount":        s.Amount,
		"status":        s.Status,
	}
	if s.Classification != "" {
		data["classification"] = s.Classification
	}

	return &ChargeEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data:      data,
		},
		AttemptID:      s.AttemptID,
		ObligationID:   s.ObligationID,
		ReferenceID:    s.ReferenceID,
		Processor:      s.Processor,
		Amount:         s.Amount,
		Status:         s.Status,
		Classification: s.Classification,
	}
}

func NewChargeCompletedEvent(s ChargeSnapshot) *ChargeEvent {
	return newChargeEvent(EventTypeChargeCompleted, s)
}

func NewChargeFailedEvent(s ChargeSnapshot) *ChargeEvent {
	return newChargeEvent(EventTypeChargeFailed, s)
}

func NewChargeAmbiguousEvent(s ChargeSnapshot) *ChargeEvent {
	return newChargeEvent(EventTypeChargeAmbiguous, s)
}

func NewChargeReconciledEvent(s ChargeSnapshot) *ChargeEvent {
	return newChargeEvent(EventTypeChargeReconciled, s)
}
