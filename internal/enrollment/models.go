package enrollment

import (
	"time"

	"github.com/google/uuid"
)

// Transaction tracks one payment attempt from order creation to settlement.
type Transaction struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"orderId"`
	UserID        int64         `json:"userId"`
	CourseID      string        `json:"courseId"`
	BatchID       string        `json:"batchId,omitempty"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Receipt       string        `json:"receipt"`
	PaymentID     string        `json:"paymentId,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	CouponID      string        `json:"couponId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type CourseEnrollment struct {
	ID            string    `json:"id"`
	StudentID     int64     `json:"studentId"`
	CourseID      string    `json:"courseId"`
	TransactionID string    `json:"transactionId,omitempty"` // empty once the owning transaction was force-deleted
	CreatedAt     time.Time `json:"createdAt"`
}

type BatchEnrollment struct {
	ID            string    `json:"id"`
	StudentID     int64     `json:"studentId"`
	BatchID       string    `json:"batchId"`
	TransactionID string    `json:"transactionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Completion is the outcome of settling a captured payment.
type Completion struct {
	Transaction Transaction

	// Applied is true only for the call that moved the transaction out of pending.
	Applied bool

	Course *CourseEnrollment
	Batch  *BatchEnrollment

	// DuplicateCourse is set when the student already held an enrollment for the
	// course from another paid order, so no new course enrollment was written.
	DuplicateCourse bool
}

// OrderState is the cached view of a transaction used by status lookups.
type OrderState struct {
	Status        PaymentStatus `json:"status"`
	StudentID     int64         `json:"studentId"`
	TransactionID string        `json:"transactionId"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func stateOf(t Transaction) OrderState {
	return OrderState{Status: t.PaymentStatus, StudentID: t.UserID, TransactionID: t.ID, UpdatedAt: t.UpdatedAt}
}

// WebhookEvent is the audit record of a verified gateway delivery.
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	OrderID         string
	Payload         []byte
	ReceivedAt      time.Time
}

// isUUID reports whether id can name a transaction or enrollment row. Anything else cannot
// exist and is treated as not found rather than sent to a uuid column.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
