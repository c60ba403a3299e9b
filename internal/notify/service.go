package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
	kafkax "github.com/ariefcatur/go-lms-enrollment/internal/kafka"
)

// Deduper remembers which events were already handled.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Service turns enrollment events into emails to the student.
type Service struct {
	Contacts Contacts
	Dedup    Deduper
	Mailer   Mailer
	Log      *zap.Logger
}

// HandleMessage is installed as the consumer handler. Returning an error makes the consumer
// retry the same message, holding back its partition, so only return one for failures that
// can pass on a later attempt.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// poison message: nothing will ever decode it, commit and move on
		s.Log.Error("undecodable message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	if seen, err := s.Dedup.Seen(ctx, env.EventID); err == nil && seen {
		return nil
	}

	var msg *Message
	switch env.EventType {
	case enrollment.EventEnrollmentCompleted:
		msg, err = s.enrollmentCompleted(ctx, env)
	case enrollment.EventPaymentFailed:
		msg, err = s.paymentFailed(ctx, env)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if msg != nil {
		if err := s.Mailer.Send(ctx, *msg); err != nil {
			return err
		}
	}

	if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
		s.Log.Warn("mark event processed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	return nil
}

func (s *Service) recipient(ctx context.Context, userID int64, orderID string) (*mail.Address, error) {
	c, err := s.Contacts.Contact(ctx, userID)
	if errors.Is(err, ErrContactNotFound) {
		s.Log.Warn("no contact for student", zap.Int64("student_id", userID), zap.String("order_id", orderID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mail.Address{Name: c.FirstName, Address: c.Email}, nil
}

func (s *Service) enrollmentCompleted(ctx context.Context, env enrollment.Envelope) (*Message, error) {
	p, err := kafkax.UnwrapPayload[enrollment.EnrollmentCompletedPayload](env.Payload)
	if err != nil {
		s.Log.Error("bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil, nil
	}
	to, err := s.recipient(ctx, p.StudentID, p.OrderID)
	if err != nil || to == nil {
		return nil, err
	}

	msg := &Message{To: *to}
	if p.Duplicate {
		msg.Subject = "Payment received for a course you already own"
		msg.Text = fmt.Sprintf("Hi %s,\n\nWe received payment %s for course %s, but you were already enrolled. "+
			"Our team will refund this payment.\n", greeting(to), p.PaymentID, p.CourseID)
		return msg, nil
	}
	msg.Subject = "Enrollment confirmed"
	msg.Text = fmt.Sprintf("Hi %s,\n\nYour payment of %s was received and you are now enrolled in course %s.\n",
		greeting(to), formatAmount(p.Amount, p.Currency), p.CourseID)
	if p.BatchID != "" {
		msg.Text += fmt.Sprintf("You have been added to batch %s.\n", p.BatchID)
	}
	msg.Text += fmt.Sprintf("\nOrder: %s\nPayment: %s\n", p.OrderID, p.PaymentID)
	return msg, nil
}

func (s *Service) paymentFailed(ctx context.Context, env enrollment.Envelope) (*Message, error) {
	p, err := kafkax.UnwrapPayload[enrollment.PaymentFailedPayload](env.Payload)
	if err != nil {
		s.Log.Error("bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil, nil
	}
	to, err := s.recipient(ctx, p.StudentID, p.OrderID)
	if err != nil || to == nil {
		return nil, err
	}
	text := fmt.Sprintf("Hi %s,\n\nYour payment for course %s did not go through", greeting(to), p.CourseID)
	if p.Reason != "" {
		text += ": " + p.Reason
	}
	text += ".\nNo money was taken for this order. You can try again at any time.\n"
	return &Message{To: *to, Subject: "Payment failed", Text: text}, nil
}

func greeting(a *mail.Address) string {
	if a.Name != "" {
		return a.Name
	}
	return "there"
}

// formatAmount renders minor units, e.g. 50000 INR -> "INR 500.00".
func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, minor/100, minor%100)
}
