package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
)

type mockContacts struct{ mock.Mock }

func (m *mockContacts) Contact(ctx context.Context, userID int64) (Contact, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(Contact), args.Error(1)
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *memDedup) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}

type failingMailer struct{ calls int }

func (f *failingMailer) Send(context.Context, Message) error {
	f.calls++
	return errors.New("smtp down")
}

func newService(t *testing.T, c Contacts, m Mailer) (*Service, *memDedup) {
	t.Helper()
	d := &memDedup{}
	return &Service{Contacts: c, Dedup: d, Mailer: m, Log: zap.NewNop()}, d
}

func message(t *testing.T, eventType string, payload interface{}) (kafkago.Message, enrollment.Envelope) {
	t.Helper()
	env, err := enrollment.NewEnvelope(eventType, "test", "order_1", "", payload)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Topic: enrollment.TopicEnrollmentCompleted, Value: b}, env
}

func TestHandleMessage_EnrollmentCompleted(t *testing.T) {
	contacts := &mockContacts{}
	contacts.On("Contact", mock.Anything, int64(7)).Return(Contact{ID: 7, Email: "asha@example.com", FirstName: "Asha"}, nil).Once()
	mailer := NewConsoleMailer(zap.NewNop())
	svc, dedup := newService(t, contacts, mailer)

	msg, env := message(t, enrollment.EventEnrollmentCompleted, enrollment.EnrollmentCompletedPayload{
		TransactionID: "tx1", OrderID: "order_1", PaymentID: "pay_1", StudentID: 7,
		CourseID: "C1", BatchID: "B1", Amount: 50000, Currency: "INR",
	})

	require.NoError(t, svc.HandleMessage(context.Background(), msg))
	// redelivery is absorbed by the deduper
	require.NoError(t, svc.HandleMessage(context.Background(), msg))

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "asha@example.com", sent[0].To.Address)
	assert.Equal(t, "Enrollment confirmed", sent[0].Subject)
	assert.Contains(t, sent[0].Text, "INR 500.00")
	assert.Contains(t, sent[0].Text, "batch B1")
	assert.True(t, dedup.seen[env.EventID])
	contacts.AssertExpectations(t)
}

func TestHandleMessage_DuplicatePurchase(t *testing.T) {
	contacts := &mockContacts{}
	contacts.On("Contact", mock.Anything, int64(7)).Return(Contact{ID: 7, Email: "asha@example.com"}, nil)
	mailer := NewConsoleMailer(zap.NewNop())
	svc, _ := newService(t, contacts, mailer)

	msg, _ := message(t, enrollment.EventEnrollmentCompleted, enrollment.EnrollmentCompletedPayload{
		OrderID: "order_1", PaymentID: "pay_2", StudentID: 7, CourseID: "C1", Duplicate: true,
	})
	require.NoError(t, svc.HandleMessage(context.Background(), msg))

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "already own")
	assert.True(t, strings.HasPrefix(sent[0].Text, "Hi there,"))
}

func TestHandleMessage_PaymentFailed(t *testing.T) {
	contacts := &mockContacts{}
	contacts.On("Contact", mock.Anything, int64(9)).Return(Contact{ID: 9, Email: "ravi@example.com", FirstName: "Ravi"}, nil)
	mailer := NewConsoleMailer(zap.NewNop())
	svc, _ := newService(t, contacts, mailer)

	msg, _ := message(t, enrollment.EventPaymentFailed, enrollment.PaymentFailedPayload{
		OrderID: "order_1", StudentID: 9, CourseID: "C1", Reason: "card declined",
	})
	require.NoError(t, svc.HandleMessage(context.Background(), msg))

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Payment failed", sent[0].Subject)
	assert.Contains(t, sent[0].Text, "card declined")
}

func TestHandleMessage_MailerErrorIsRetried(t *testing.T) {
	contacts := &mockContacts{}
	contacts.On("Contact", mock.Anything, int64(7)).Return(Contact{ID: 7, Email: "asha@example.com"}, nil)
	mailer := &failingMailer{}
	svc, dedup := newService(t, contacts, mailer)

	msg, env := message(t, enrollment.EventEnrollmentCompleted, enrollment.EnrollmentCompletedPayload{
		OrderID: "order_1", StudentID: 7, CourseID: "C1",
	})
	require.Error(t, svc.HandleMessage(context.Background(), msg))
	require.Error(t, svc.HandleMessage(context.Background(), msg))
	assert.Equal(t, 2, mailer.calls)
	assert.False(t, dedup.seen[env.EventID])
}

func TestHandleMessage_SkipsWhatItCannotUse(t *testing.T) {
	contacts := &mockContacts{}
	contacts.On("Contact", mock.Anything, int64(404)).Return(Contact{}, ErrContactNotFound)
	mailer := NewConsoleMailer(zap.NewNop())
	svc, _ := newService(t, contacts, mailer)

	unknownStudent, _ := message(t, enrollment.EventEnrollmentCompleted, enrollment.EnrollmentCompletedPayload{
		OrderID: "order_1", StudentID: 404, CourseID: "C1",
	})
	otherEvent, _ := message(t, "CouponRedeemed", map[string]string{"coupon": "X"})

	tests := []struct {
		name string
		msg  kafkago.Message
	}{
		{"garbage", kafkago.Message{Value: []byte("not json")}},
		{"unknown event type", otherEvent},
		{"unknown student", unknownStudent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, svc.HandleMessage(context.Background(), tt.msg))
		})
	}
	assert.Empty(t, mailer.Sent())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "INR 500.00", formatAmount(50000, "INR"))
	assert.Equal(t, "USD 0.05", formatAmount(5, "USD"))
}
