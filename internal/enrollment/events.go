package enrollment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventEnrollmentCompleted = "EnrollmentCompleted"
	EventPaymentFailed       = "PaymentFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type EnrollmentCompletedPayload struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	StudentID     int64  `json:"student_id"`
	CourseID      string `json:"course_id"`
	BatchID       string `json:"batch_id,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

type PaymentFailedPayload struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id,omitempty"`
	StudentID     int64  `json:"student_id"`
	CourseID      string `json:"course_id"`
	Reason        string `json:"reason,omitempty"`
}

// NewEnvelope wraps payload for the given event type. CorrelationID is the order id.
func NewEnvelope(eventType, producer, orderID, traceID string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       raw,
	}, nil
}
