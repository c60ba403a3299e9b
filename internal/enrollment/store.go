package enrollment

import (
	"context"

	"github.com/ariefcatur/go-lms-enrollment/internal/gateway"
)

// Store persists transactions and enrollments. Implementations must enforce uniqueness of
// (student, course) and (student, batch) and must settle a transaction with a conditional
// update so that exactly one caller observes Applied for a given order.
type Store interface {
	IsEnrolled(ctx context.Context, studentID int64, courseID string) (bool, error)
	CreateTransaction(ctx context.Context, t *Transaction) error
	TransactionByOrderID(ctx context.Context, orderID string) (Transaction, error)
	TransactionByID(ctx context.Context, id string) (Transaction, error)

	// CompleteTransaction moves a pending transaction to completed and creates its
	// enrollments in one atomic unit. batchID is used only when the transaction has none.
	CompleteTransaction(ctx context.Context, orderID, paymentID, batchID string) (Completion, error)
	// FailTransaction moves a pending transaction to failed. The bool is false when the
	// transaction was already terminal.
	FailTransaction(ctx context.Context, orderID, paymentID string) (Transaction, bool, error)
	// DeleteTransaction removes a transaction. Settled transactions are refused unless force is set.
	DeleteTransaction(ctx context.Context, id string, force bool) (Transaction, error)

	EnrolledCourses(ctx context.Context, studentID int64) ([]CourseEnrollment, error)
	EnrolledBatches(ctx context.Context, studentID int64) ([]BatchEnrollment, error)
	BatchEnrollmentByID(ctx context.Context, id string) (BatchEnrollment, error)

	// RecordWebhookEvent stores the audit row. Returns false if the delivery id was already recorded.
	RecordWebhookEvent(ctx context.Context, ev WebhookEvent) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, provider, eventID, procErr string) error
}

// Gateway creates orders at the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Order, error)
}

// EventPublisher hands domain events to the message bus.
type EventPublisher interface {
	PublishEvent(topic string, key []byte, env Envelope) error
}

// Cache is a best-effort accelerator in front of Store. It is never the source of truth.
type Cache interface {
	WebhookResult(ctx context.Context, eventID string) (WebhookResult, bool, error)
	RememberWebhook(ctx context.Context, eventID string, res WebhookResult) error
	OrderState(ctx context.Context, orderID string) (OrderState, bool, error)
	SetOrderState(ctx context.Context, orderID string, st OrderState) error
	ForgetOrder(ctx context.Context, orderID string) error
	Enrolled(ctx context.Context, studentID int64, courseID string) (bool, error)
	SetEnrolled(ctx context.Context, studentID int64, courseID string) error
	ForgetEnrolled(ctx context.Context, studentID int64, courseID string) error
}

// NopCache disables caching.
type NopCache struct{}

func (NopCache) WebhookResult(context.Context, string) (WebhookResult, bool, error) {
	return WebhookResult{}, false, nil
}
func (NopCache) RememberWebhook(context.Context, string, WebhookResult) error { return nil }
func (NopCache) OrderState(context.Context, string) (OrderState, bool, error) {
	return OrderState{}, false, nil
}
func (NopCache) SetOrderState(context.Context, string, OrderState) error { return nil }
func (NopCache) ForgetOrder(context.Context, string) error               { return nil }
func (NopCache) Enrolled(context.Context, int64, string) (bool, error)   { return false, nil }
func (NopCache) SetEnrolled(context.Context, int64, string) error        { return nil }
func (NopCache) ForgetEnrolled(context.Context, int64, string) error     { return nil }

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(string, []byte, Envelope) error { return nil }
