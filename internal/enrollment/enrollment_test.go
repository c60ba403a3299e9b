package enrollment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment/memstore"
	"github.com/ariefcatur/go-lms-enrollment/internal/gateway"
)

const secret = "whsec_test"

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.Order), args.Error(1)
}

// seqGateway hands out sequential order ids.
type seqGateway struct {
	mu sync.Mutex
	n  int
}

func (g *seqGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return gateway.Order{ID: fmt.Sprintf("O%d", g.n), Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	envs   []enrollment.Envelope
}

func (p *recordingPublisher) PublishEvent(topic string, _ []byte, env enrollment.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type mapCache struct {
	enrollment.NopCache
	mu       sync.Mutex
	webhooks map[string]enrollment.WebhookResult
	states   map[string]enrollment.OrderState
}

func newMapCache() *mapCache {
	return &mapCache{webhooks: map[string]enrollment.WebhookResult{}, states: map[string]enrollment.OrderState{}}
}

func (c *mapCache) WebhookResult(_ context.Context, id string) (enrollment.WebhookResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.webhooks[id]
	return r, ok, nil
}

func (c *mapCache) RememberWebhook(_ context.Context, id string, r enrollment.WebhookResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webhooks[id] = r
	return nil
}

func (c *mapCache) OrderState(_ context.Context, id string) (enrollment.OrderState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[id]
	return s, ok, nil
}

func (c *mapCache) SetOrderState(_ context.Context, id string, s enrollment.OrderState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id] = s
	return nil
}

type fixture struct {
	store   *memstore.Store
	pub     *recordingPublisher
	cache   *mapCache
	orders  *enrollment.OrderService
	webhook *enrollment.WebhookHandler
}

func newFixture(gw enrollment.Gateway) *fixture {
	f := &fixture{store: memstore.New(), pub: &recordingPublisher{}, cache: newMapCache()}
	d := enrollment.Deps{
		Store:         f.store,
		Gateway:       gw,
		Cache:         f.cache,
		Publisher:     f.pub,
		Currency:      "INR",
		WebhookSecret: secret,
	}
	f.orders = enrollment.NewOrderService(d)
	f.webhook = enrollment.NewWebhookHandler(d)
	return f
}

func capturedBody(orderID, paymentID, batchID string) []byte {
	notes := `[]`
	if batchID != "" {
		notes = fmt.Sprintf(`{"batchId":%q}`, batchID)
	}
	return []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"notes":%s}}}}`,
		paymentID, orderID, notes))
}

func failedBody(orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"error_description":"card declined"}}}}`,
		paymentID, orderID))
}

func (f *fixture) deliver(t *testing.T, body []byte, eventID string) (enrollment.WebhookResult, error) {
	t.Helper()
	return f.webhook.HandleEvent(context.Background(), body, gateway.Sign(secret, body), eventID)
}

func validOrder() enrollment.OrderRequest {
	return enrollment.OrderRequest{StudentID: 7, CourseID: "c1", BatchID: "b1", Amount: 50000}
}

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})

	res, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)
	assert.Equal(t, "O1", res.OrderID)
	assert.Equal(t, int64(50000), res.Amount)

	tx, err := f.store.TransactionByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPending, tx.PaymentStatus)
	assert.Equal(t, res.TransactionID, tx.ID)
	assert.Regexp(t, `^rcpt_[0-9a-f]{32}$`, tx.Receipt)

	wr, err := f.deliver(t, capturedBody("O1", "P1", "b1"), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.OutcomeEnrolled, wr.Outcome)
	assert.Equal(t, tx.ID, wr.TransactionID)

	tx, err = f.store.TransactionByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, tx.PaymentStatus)
	assert.Equal(t, "P1", tx.PaymentID)

	ok, err := f.orders.IsEnrolled(ctx, 7, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	batches, err := f.orders.EnrolledBatches(ctx, 7)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "b1", batches[0].BatchID)
	assert.Equal(t, tx.ID, batches[0].TransactionID)

	assert.Equal(t, []string{enrollment.TopicEnrollmentCompleted}, f.pub.published())
	assert.Equal(t, "O1", f.pub.envs[0].CorrelationID)
	assert.Equal(t, enrollment.EventEnrollmentCompleted, f.pub.envs[0].EventType)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})
	_, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)

	body := capturedBody("O1", "P1", "b1")
	_, err = f.deliver(t, body, "")
	require.NoError(t, err)

	// no event id, so the cache cannot short-circuit; the store state decides
	wr, err := f.deliver(t, body, "")
	require.NoError(t, err)
	assert.Equal(t, enrollment.OutcomeAlreadyCompleted, wr.Outcome)

	courses, batches := f.store.Counts()
	assert.Equal(t, 1, courses)
	assert.Equal(t, 1, batches)
	assert.Len(t, f.pub.published(), 1)
}

func TestRedeliveryWithEventIDUsesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})
	_, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)

	body := capturedBody("O1", "P1", "b1")
	first, err := f.deliver(t, body, "evt_1")
	require.NoError(t, err)
	second, err := f.deliver(t, body, "evt_1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.store.WebhookEvents())
}

func TestConcurrentRedelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})
	_, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)

	body := capturedBody("O1", "P1", "b1")
	const n = 20
	outcomes := make(chan enrollment.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wr, err := f.deliver(t, body, "")
			assert.NoError(t, err)
			outcomes <- wr.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	enrolled := 0
	for o := range outcomes {
		if o == enrollment.OutcomeEnrolled {
			enrolled++
		} else {
			assert.Equal(t, enrollment.OutcomeAlreadyCompleted, o)
		}
	}
	assert.Equal(t, 1, enrolled)
	courses, batches := f.store.Counts()
	assert.Equal(t, 1, courses)
	assert.Equal(t, 1, batches)
}

func TestNoEnrollmentWithoutPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})
	_, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)

	ok, err := f.orders.IsEnrolled(ctx, 7, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	courses, batches := f.store.Counts()
	assert.Zero(t, courses)
	assert.Zero(t, batches)
}

func TestSignatureGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})
	_, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)

	body := capturedBody("O1", "pay_1", "b1")
	for _, sig := range []string{"deadbeef", "", gateway.Sign("other-secret", body)} {
		_, err := f.webhook.HandleEvent(ctx, body, sig, "evt_x")
		assert.ErrorIs(t, err, enrollment.ErrInvalidSignature)
	}

	tx, err := f.store.TransactionByOrderID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPending, tx.PaymentStatus)
	assert.Empty(t, tx.PaymentID)
	assert.Zero(t, f.store.WebhookEvents())
	assert.Empty(t, f.pub.published())
}

func TestTerminalStateMonotonicity(t *testing.T) {
	ctx := context.Background()

	t.Run("failed after completed", func(t *testing.T) {
		f := newFixture(&seqGateway{})
		_, err := f.orders.CreateOrder(ctx, validOrder())
		require.NoError(t, err)

		_, err = f.deliver(t, capturedBody("O1", "P1", "b1"), "")
		require.NoError(t, err)
		wr, err := f.deliver(t, failedBody("O1", "P2"), "")
		require.NoError(t, err)
		assert.Equal(t, enrollment.OutcomeIgnored, wr.Outcome)

		tx, _ := f.store.TransactionByOrderID(ctx, "O1")
		assert.Equal(t, enrollment.StatusCompleted, tx.PaymentStatus)
		assert.Equal(t, "P1", tx.PaymentID)
	})

	t.Run("completed after failed", func(t *testing.T) {
		f := newFixture(&seqGateway{})
		_, err := f.orders.CreateOrder(ctx, validOrder())
		require.NoError(t, err)

		wr, err := f.deliver(t, failedBody("O1", "P1"), "")
		require.NoError(t, err)
		assert.Equal(t, enrollment.OutcomeMarkedFailed, wr.Outcome)

		wr, err = f.deliver(t, capturedBody("O1", "P2", "b1"), "")
		require.NoError(t, err)
		assert.Equal(t, enrollment.OutcomeIgnored, wr.Outcome)

		tx, _ := f.store.TransactionByOrderID(ctx, "O1")
		assert.Equal(t, enrollment.StatusFailed, tx.PaymentStatus)
		courses, _ := f.store.Counts()
		assert.Zero(t, courses)
		assert.Equal(t, []string{enrollment.TopicPaymentFailed}, f.pub.published())
	})

	t.Run("failed redelivered", func(t *testing.T) {
		f := newFixture(&seqGateway{})
		_, err := f.orders.CreateOrder(ctx, validOrder())
		require.NoError(t, err)

		_, err = f.deliver(t, failedBody("O1", "P1"), "")
		require.NoError(t, err)
		wr, err := f.deliver(t, failedBody("O1", "P1"), "")
		require.NoError(t, err)
		assert.Equal(t, enrollment.OutcomeAlreadyFailed, wr.Outcome)
	})
}

func TestDuplicateEnrollmentPrevention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})

	// both orders pass the pre-check because neither is paid yet
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.CreateOrder(ctx, enrollment.OrderRequest{StudentID: 7, CourseID: "c1", BatchID: "b1", Amount: 50000})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	outcomes := make(chan enrollment.Outcome, 2)
	for _, o := range []string{"O1", "O2"} {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			wr, err := f.deliver(t, capturedBody(orderID, "pay_"+orderID, "b1"), "")
			assert.NoError(t, err)
			outcomes <- wr.Outcome
		}(o)
	}
	wg.Wait()
	close(outcomes)

	var got []enrollment.Outcome
	for o := range outcomes {
		got = append(got, o)
	}
	assert.ElementsMatch(t, []enrollment.Outcome{enrollment.OutcomeEnrolled, enrollment.OutcomeDuplicateEnrollment}, got)

	courses, batches := f.store.Counts()
	assert.Equal(t, 1, courses)
	assert.Equal(t, 1, batches)
	for _, o := range []string{"O1", "O2"} {
		tx, err := f.store.TransactionByOrderID(ctx, o)
		require.NoError(t, err)
		assert.Equal(t, enrollment.StatusCompleted, tx.PaymentStatus)
	}
}

func TestCreateOrder_AlreadyEnrolled(t *testing.T) {
	ctx := context.Background()
	gw := &mockGateway{}
	gw.On("CreateOrder", mock.Anything, mock.Anything).
		Return(gateway.Order{ID: "O1"}, nil).Once()
	f := newFixture(gw)

	_, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)
	_, err = f.deliver(t, capturedBody("O1", "P1", ""), "")
	require.NoError(t, err)

	_, err = f.orders.CreateOrder(ctx, validOrder())
	assert.ErrorIs(t, err, enrollment.ErrAlreadyEnrolled)
	gw.AssertNumberOfCalls(t, "CreateOrder", 1)
}

func TestCreateOrder_GatewayUnavailable(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CreateOrder", mock.Anything, mock.Anything).
		Return(gateway.Order{}, errors.New("dial tcp: i/o timeout"))
	f := newFixture(gw)

	_, err := f.orders.CreateOrder(context.Background(), validOrder())
	assert.ErrorIs(t, err, enrollment.ErrGatewayUnavailable)
	_, err = f.store.TransactionByOrderID(context.Background(), "O1")
	assert.ErrorIs(t, err, enrollment.ErrTransactionNotFound)
}

func TestCreateOrder_SendsNotesToGateway(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r gateway.OrderRequest) bool {
		return r.Amount == 50000 && r.Currency == "INR" &&
			r.Notes["courseId"] == "c1" && r.Notes["userId"] == "7" && r.Notes["batchId"] == "b1"
	})).Return(gateway.Order{ID: "order_1"}, nil)
	f := newFixture(gw)

	res, err := f.orders.CreateOrder(context.Background(), validOrder())
	require.NoError(t, err)
	assert.Equal(t, "order_1", res.OrderID)
	gw.AssertExpectations(t)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *enrollment.OrderRequest)
		field   string
		message string
	}{
		{"missing amount", func(r *enrollment.OrderRequest) { r.Amount = 0 }, "amount", "amount is a required field"},
		{"negative amount", func(r *enrollment.OrderRequest) { r.Amount = -5 }, "amount", "amount must be greater than 0"},
		{"missing course", func(r *enrollment.OrderRequest) { r.CourseID = "" }, "courseId", "courseId is a required field"},
		{"blank course", func(r *enrollment.OrderRequest) { r.CourseID = "   " }, "courseId", "courseId is a required field"},
		{"missing batch", func(r *enrollment.OrderRequest) { r.BatchID = "" }, "batchId", "batchId is a required field"},
		{"placeholder batch", func(r *enrollment.OrderRequest) { r.BatchID = "undefined" }, "batchId", "batchId is not a valid batch reference"},
		{"no caller", func(r *enrollment.OrderRequest) { r.StudentID = 0 }, "userId", "userId is a required field"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := &mockGateway{}
			f := newFixture(gw)
			req := validOrder()
			tc.mutate(&req)

			_, err := f.orders.CreateOrder(context.Background(), req)
			var verr *enrollment.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.message, verr.Message)
			gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhook_Errors(t *testing.T) {
	f := newFixture(&seqGateway{})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.deliver(t, capturedBody("nope", "P1", ""), "")
		assert.ErrorIs(t, err, enrollment.ErrTransactionNotFound)
		_, err = f.deliver(t, failedBody("nope", "P1"), "")
		assert.ErrorIs(t, err, enrollment.ErrTransactionNotFound)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, body := range []string{
			`not json`,
			`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"P1"}}}}`,
			`{"event":"payment.failed","payload":{"payment":{"entity":{"order_id":"O1"}}}}`,
		} {
			_, err := f.deliver(t, []byte(body), "")
			assert.ErrorIs(t, err, enrollment.ErrMalformedPayload, body)
		}
	})

	t.Run("unhandled", func(t *testing.T) {
		wr, err := f.deliver(t, []byte(`{"event":"order.paid","payload":{}}`), "")
		require.NoError(t, err)
		assert.Equal(t, enrollment.OutcomeIgnored, wr.Outcome)
	})
}

func TestCapturedBatchResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("stored batch wins over note", func(t *testing.T) {
		f := newFixture(&seqGateway{})
		_, err := f.orders.CreateOrder(ctx, validOrder())
		require.NoError(t, err)
		_, err = f.deliver(t, capturedBody("O1", "P1", "b9"), "")
		require.NoError(t, err)

		batches, _ := f.orders.EnrolledBatches(ctx, 7)
		require.Len(t, batches, 1)
		assert.Equal(t, "b1", batches[0].BatchID)
	})

	t.Run("placeholder note ignored", func(t *testing.T) {
		f := newFixture(&seqGateway{})
		require.NoError(t, f.store.CreateTransaction(ctx, &enrollment.Transaction{
			OrderID: "O1", UserID: 7, CourseID: "c1", Amount: 100, Currency: "INR", Receipt: "r",
		}))
		wr, err := f.deliver(t, capturedBody("O1", "P1", "undefined"), "")
		require.NoError(t, err)
		assert.Equal(t, enrollment.OutcomeEnrolled, wr.Outcome)
		courses, batches := f.store.Counts()
		assert.Equal(t, 1, courses)
		assert.Zero(t, batches)
	})

	t.Run("note used when transaction has none", func(t *testing.T) {
		f := newFixture(&seqGateway{})
		require.NoError(t, f.store.CreateTransaction(ctx, &enrollment.Transaction{
			OrderID: "O1", UserID: 7, CourseID: "c1", Amount: 100, Currency: "INR", Receipt: "r",
		}))
		_, err := f.deliver(t, capturedBody("O1", "P1", "b5"), "")
		require.NoError(t, err)
		batches, _ := f.orders.EnrolledBatches(ctx, 7)
		require.Len(t, batches, 1)
		assert.Equal(t, "b5", batches[0].BatchID)
	})
}

func TestCancelTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})

	pending, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)
	_, err = f.orders.CancelTransaction(ctx, pending.TransactionID, false)
	require.NoError(t, err)
	_, err = f.orders.Transaction(ctx, pending.TransactionID)
	assert.ErrorIs(t, err, enrollment.ErrTransactionNotFound)

	paid, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)
	_, err = f.deliver(t, capturedBody(paid.OrderID, "P1", ""), "")
	require.NoError(t, err)

	_, err = f.orders.CancelTransaction(ctx, paid.TransactionID, false)
	assert.ErrorIs(t, err, enrollment.ErrTransactionSettled)

	deleted, err := f.orders.CancelTransaction(ctx, paid.TransactionID, true)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, deleted.PaymentStatus)

	courses, err := f.orders.EnrolledCourses(ctx, 7)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Empty(t, courses[0].TransactionID)

	_, err = f.orders.CancelTransaction(ctx, "missing", false)
	assert.ErrorIs(t, err, enrollment.ErrTransactionNotFound)
}

func TestOrderStatusAndOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&seqGateway{})
	res, err := f.orders.CreateOrder(ctx, validOrder())
	require.NoError(t, err)

	st, err := f.orders.OrderStatus(ctx, res.OrderID, 7, false)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPending, st.Status)

	_, err = f.deliver(t, capturedBody(res.OrderID, "P1", ""), "")
	require.NoError(t, err)
	st, err = f.orders.OrderStatus(ctx, res.OrderID, 7, false)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, st.Status)

	_, err = f.orders.OrderStatus(ctx, res.OrderID, 8, false)
	assert.ErrorIs(t, err, enrollment.ErrForbidden)
	_, err = f.orders.OrderStatus(ctx, res.OrderID, 8, true)
	assert.NoError(t, err)

	batches, _ := f.orders.EnrolledBatches(ctx, 7)
	require.Len(t, batches, 1)
	_, err = f.orders.BatchEnrollment(ctx, batches[0].ID, 8, false)
	assert.ErrorIs(t, err, enrollment.ErrForbidden)
	be, err := f.orders.BatchEnrollment(ctx, batches[0].ID, 7, false)
	require.NoError(t, err)
	assert.Equal(t, "b1", be.BatchID)
	_, err = f.orders.BatchEnrollment(ctx, "missing", 7, false)
	assert.ErrorIs(t, err, enrollment.ErrEnrollmentNotFound)

	_, err = f.orders.OrderStatus(ctx, "missing", 7, false)
	assert.ErrorIs(t, err, enrollment.ErrTransactionNotFound)
}
