package enrollment

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/gateway"
)

const ProviderRazorpay = "razorpay"

type Outcome string

const (
	OutcomeEnrolled            Outcome = "enrolled"
	OutcomeDuplicateEnrollment Outcome = "duplicate_enrollment"
	OutcomeAlreadyCompleted    Outcome = "already_completed"
	OutcomeMarkedFailed        Outcome = "marked_failed"
	OutcomeAlreadyFailed       Outcome = "already_failed"
	OutcomeIgnored             Outcome = "ignored"
)

// Message is the human readable acknowledgement returned to the gateway.
func (o Outcome) Message() string {
	switch o {
	case OutcomeEnrolled, OutcomeDuplicateEnrollment, OutcomeAlreadyCompleted:
		return "Transaction updated successfully"
	case OutcomeMarkedFailed, OutcomeAlreadyFailed:
		return "Payment failure handled, transaction marked as failed"
	default:
		return "Webhook received, event not processed"
	}
}

type WebhookResult struct {
	TransactionID string  `json:"transactionId,omitempty"`
	Outcome       Outcome `json:"outcome"`
}

// WebhookHandler verifies gateway webhooks and settles the referenced transaction.
type WebhookHandler struct {
	d      Deps
	events metric.Int64Counter
}

func NewWebhookHandler(d Deps) *WebhookHandler {
	return &WebhookHandler{
		d:      d.withDefaults(),
		events: counter("webhook.events", "Verified gateway webhook deliveries by outcome"),
	}
}

// HandleEvent processes one delivery. raw must be the exact request body the signature was
// computed over. eventID is the gateway delivery id and may be empty.
//
// Redelivery of an event for a transaction that is already terminal succeeds without side
// effects. Infrastructure errors are returned unchanged so that the gateway retries.
func (h *WebhookHandler) HandleEvent(ctx context.Context, raw []byte, signature, eventID string) (WebhookResult, error) {
	ctx, span := tracer().Start(ctx, "enrollment.webhook")
	defer span.End()

	if !gateway.VerifySignature(h.d.WebhookSecret, raw, signature) {
		span.SetStatus(codes.Error, "invalid signature")
		h.d.Logger.Warn("webhook signature mismatch", zap.String("event_id", eventID))
		return WebhookResult{}, ErrInvalidSignature
	}

	ev, err := ParseEvent(raw)
	if err != nil {
		span.SetStatus(codes.Error, "malformed payload")
		h.d.Logger.Warn("malformed webhook payload", zap.String("event_id", eventID))
		return WebhookResult{}, err
	}
	orderID := orderIDOf(ev)
	span.SetAttributes(attribute.String("webhook.event", ev.Type()), attribute.String("order.id", orderID))

	if eventID != "" {
		if res, ok, err := h.d.Cache.WebhookResult(ctx, eventID); err == nil && ok {
			h.d.Logger.Debug("webhook already processed", zap.String("event_id", eventID))
			return res, nil
		}
	}

	auditID := eventID
	if auditID == "" {
		auditID = "sig:" + signature
	}
	if _, err := h.d.Store.RecordWebhookEvent(ctx, WebhookEvent{
		Provider:        ProviderRazorpay,
		ProviderEventID: auditID,
		EventType:       ev.Type(),
		OrderID:         orderID,
		Payload:         raw,
		ReceivedAt:      time.Now().UTC(),
	}); err != nil {
		h.d.Logger.Warn("record webhook event", zap.String("event_id", auditID), zap.Error(err))
	}

	var res WebhookResult
	switch e := ev.(type) {
	case CapturedEvent:
		res, err = h.captured(ctx, e)
	case FailedEvent:
		res, err = h.failed(ctx, e)
	default:
		h.d.Logger.Info("webhook event not processed", zap.String("event", ev.Type()))
		res = WebhookResult{Outcome: OutcomeIgnored}
	}

	procErr := ""
	if err != nil {
		procErr = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch")
	}
	if merr := h.d.Store.MarkWebhookEventProcessed(ctx, ProviderRazorpay, auditID, procErr); merr != nil {
		h.d.Logger.Warn("mark webhook event", zap.String("event_id", auditID), zap.Error(merr))
	}
	if err != nil {
		return WebhookResult{}, err
	}

	span.SetAttributes(attribute.String("webhook.outcome", string(res.Outcome)))
	h.events.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	if eventID != "" {
		if err := h.d.Cache.RememberWebhook(ctx, eventID, res); err != nil {
			h.d.Logger.Warn("remember webhook", zap.String("event_id", eventID), zap.Error(err))
		}
	}
	return res, nil
}

func (h *WebhookHandler) captured(ctx context.Context, e CapturedEvent) (WebhookResult, error) {
	batchID := e.BatchID
	if batchID != "" && !ValidBatchID(batchID) {
		h.d.Logger.Warn("ignoring invalid batch reference", zap.String("order_id", e.OrderID), zap.String("batch_id", batchID))
		batchID = ""
	}

	c, err := h.d.Store.CompleteTransaction(ctx, e.OrderID, e.PaymentID, batchID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			h.d.Logger.Warn("captured payment for unknown order", zap.String("order_id", e.OrderID))
			return WebhookResult{}, err
		}
		return WebhookResult{}, errors.Wrap(err, "complete transaction")
	}
	t := c.Transaction
	log := h.d.Logger.With(
		zap.String("order_id", t.OrderID),
		zap.String("transaction_id", t.ID),
		zap.Int64("student_id", t.UserID),
	)

	if !c.Applied {
		if t.PaymentStatus == StatusFailed {
			log.Warn("captured event for failed transaction ignored")
			return WebhookResult{TransactionID: t.ID, Outcome: OutcomeIgnored}, nil
		}
		log.Info("transaction already completed")
		return WebhookResult{TransactionID: t.ID, Outcome: OutcomeAlreadyCompleted}, nil
	}

	out := OutcomeEnrolled
	if c.DuplicateCourse {
		out = OutcomeDuplicateEnrollment
		log.Warn("student already enrolled from another order, refund required",
			zap.String("course_id", t.CourseID),
			zap.String("payment_id", t.PaymentID),
		)
	} else {
		log.Info("transaction completed, student enrolled", zap.String("course_id", t.CourseID))
	}

	h.afterSettle(ctx, t)
	batch := ""
	if c.Batch != nil {
		batch = c.Batch.BatchID
	}
	h.publish(ctx, TopicEnrollmentCompleted, EventEnrollmentCompleted, t.OrderID, EnrollmentCompletedPayload{
		TransactionID: t.ID,
		OrderID:       t.OrderID,
		PaymentID:     t.PaymentID,
		StudentID:     t.UserID,
		CourseID:      t.CourseID,
		BatchID:       batch,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Duplicate:     c.DuplicateCourse,
	})
	return WebhookResult{TransactionID: t.ID, Outcome: out}, nil
}

func (h *WebhookHandler) failed(ctx context.Context, e FailedEvent) (WebhookResult, error) {
	t, applied, err := h.d.Store.FailTransaction(ctx, e.OrderID, e.PaymentID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			h.d.Logger.Warn("failed payment for unknown order", zap.String("order_id", e.OrderID))
			return WebhookResult{}, err
		}
		return WebhookResult{}, errors.Wrap(err, "fail transaction")
	}
	log := h.d.Logger.With(zap.String("order_id", t.OrderID), zap.String("transaction_id", t.ID))

	if !applied {
		if t.PaymentStatus == StatusCompleted {
			log.Warn("failed event for completed transaction ignored")
			return WebhookResult{TransactionID: t.ID, Outcome: OutcomeIgnored}, nil
		}
		return WebhookResult{TransactionID: t.ID, Outcome: OutcomeAlreadyFailed}, nil
	}

	log.Info("transaction marked failed", zap.String("reason", e.Reason))
	h.afterSettle(ctx, t)
	h.publish(ctx, TopicPaymentFailed, EventPaymentFailed, t.OrderID, PaymentFailedPayload{
		TransactionID: t.ID,
		OrderID:       t.OrderID,
		PaymentID:     t.PaymentID,
		StudentID:     t.UserID,
		CourseID:      t.CourseID,
		Reason:        e.Reason,
	})
	return WebhookResult{TransactionID: t.ID, Outcome: OutcomeMarkedFailed}, nil
}

// afterSettle refreshes cached views of a transaction that just left pending.
func (h *WebhookHandler) afterSettle(ctx context.Context, t Transaction) {
	if err := h.d.Cache.SetOrderState(ctx, t.OrderID, stateOf(t)); err != nil {
		h.d.Logger.Warn("cache order state", zap.String("order_id", t.OrderID), zap.Error(err))
	}
	if err := h.d.Cache.ForgetEnrolled(ctx, t.UserID, t.CourseID); err != nil {
		h.d.Logger.Warn("forget enrollment cache", zap.String("order_id", t.OrderID), zap.Error(err))
	}
}

// publish is fire-and-forget: the state change is already committed.
func (h *WebhookHandler) publish(ctx context.Context, topic, eventType, orderID string, payload interface{}) {
	env, err := NewEnvelope(eventType, h.d.Producer, orderID, traceID(ctx), payload)
	if err == nil {
		err = h.d.Publisher.PublishEvent(topic, PartitionKey(orderID), env)
	}
	if err != nil {
		h.d.Logger.Error("publish event", zap.String("topic", topic), zap.String("order_id", orderID), zap.Error(err))
	}
}
