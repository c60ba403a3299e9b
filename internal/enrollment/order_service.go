package enrollment

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/gateway"
)

// OrderRequest is a purchase request. StudentID comes from the authenticated caller,
// never from the request body.
type OrderRequest struct {
	StudentID int64  `json:"userId" validate:"required,gt=0"`
	CourseID  string `json:"courseId" validate:"required,notblank"`
	BatchID   string `json:"batchId" validate:"required,batchref"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	CouponID  string `json:"couponId,omitempty"`
}

type OrderResult struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transactionId"`
}

// OrderService opens payment orders and answers enrollment queries.
type OrderService struct {
	d             Deps
	ordersCreated metric.Int64Counter
}

func NewOrderService(d Deps) *OrderService {
	return &OrderService{
		d:             d.withDefaults(),
		ordersCreated: counter("orders.created", "Payment orders opened at the gateway"),
	}
}

// CreateOrder validates the request, refuses students already enrolled in the course, opens a
// gateway order and records a pending transaction for it.
func (s *OrderService) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	ctx, span := tracer().Start(ctx, "enrollment.create_order")
	defer span.End()

	req.CourseID = strings.TrimSpace(req.CourseID)
	req.BatchID = strings.TrimSpace(req.BatchID)
	req.CouponID = strings.TrimSpace(req.CouponID)
	if err := Struct(req); err != nil {
		return OrderResult{}, err
	}
	span.SetAttributes(
		attribute.Int64("student.id", req.StudentID),
		attribute.String("course.id", req.CourseID),
		attribute.Int64("order.amount", req.Amount),
	)

	enrolled, err := s.IsEnrolled(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return OrderResult{}, err
	}
	if enrolled {
		return OrderResult{}, ErrAlreadyEnrolled
	}

	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	order, err := s.d.Gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   req.Amount,
		Currency: s.d.Currency,
		Receipt:  receipt,
		Notes: map[string]string{
			"courseId": req.CourseID,
			"userId":   strconv.FormatInt(req.StudentID, 10),
			"batchId":  req.BatchID,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway")
		s.d.Logger.Error("gateway create order failed",
			zap.Int64("student_id", req.StudentID),
			zap.String("course_id", req.CourseID),
			zap.Error(err),
		)
		return OrderResult{}, errors.Wrap(ErrGatewayUnavailable, err.Error())
	}

	t := &Transaction{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		UserID:        req.StudentID,
		CourseID:      req.CourseID,
		BatchID:       req.BatchID,
		Amount:        req.Amount,
		Currency:      s.d.Currency,
		Receipt:       receipt,
		PaymentStatus: StatusPending,
		CouponID:      req.CouponID,
	}
	if err := s.d.Store.CreateTransaction(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
		return OrderResult{}, errors.Wrap(err, "create transaction")
	}

	if err := s.d.Cache.SetOrderState(ctx, t.OrderID, stateOf(*t)); err != nil {
		s.d.Logger.Warn("cache order state", zap.String("order_id", t.OrderID), zap.Error(err))
	}
	s.ordersCreated.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", t.OrderID), attribute.String("transaction.id", t.ID))
	s.d.Logger.Info("order created",
		zap.String("order_id", t.OrderID),
		zap.String("transaction_id", t.ID),
		zap.Int64("student_id", t.UserID),
		zap.String("course_id", t.CourseID),
	)

	return OrderResult{OrderID: t.OrderID, Amount: t.Amount, TransactionID: t.ID}, nil
}

// IsEnrolled consults the cache first. Only positive answers are cached because
// an enrollment is never revoked by this service.
func (s *OrderService) IsEnrolled(ctx context.Context, studentID int64, courseID string) (bool, error) {
	if ok, err := s.d.Cache.Enrolled(ctx, studentID, courseID); err == nil && ok {
		return true, nil
	}
	ok, err := s.d.Store.IsEnrolled(ctx, studentID, courseID)
	if err != nil {
		return false, errors.Wrap(err, "check enrollment")
	}
	if ok {
		if err := s.d.Cache.SetEnrolled(ctx, studentID, courseID); err != nil {
			s.d.Logger.Warn("cache enrollment", zap.Int64("student_id", studentID), zap.Error(err))
		}
	}
	return ok, nil
}

func (s *OrderService) EnrolledCourses(ctx context.Context, studentID int64) ([]CourseEnrollment, error) {
	out, err := s.d.Store.EnrolledCourses(ctx, studentID)
	return out, errors.Wrap(err, "enrolled courses")
}

func (s *OrderService) EnrolledBatches(ctx context.Context, studentID int64) ([]BatchEnrollment, error) {
	out, err := s.d.Store.EnrolledBatches(ctx, studentID)
	return out, errors.Wrap(err, "enrolled batches")
}

// BatchEnrollment returns a single batch enrollment. Non-admin callers may only read their own.
func (s *OrderService) BatchEnrollment(ctx context.Context, id string, callerID int64, admin bool) (BatchEnrollment, error) {
	if !isUUID(id) {
		return BatchEnrollment{}, ErrEnrollmentNotFound
	}
	be, err := s.d.Store.BatchEnrollmentByID(ctx, id)
	if err != nil {
		return BatchEnrollment{}, err
	}
	if !admin && be.StudentID != callerID {
		return BatchEnrollment{}, ErrForbidden
	}
	return be, nil
}

// OrderStatus reads the cached order state and falls back to the store on a miss.
func (s *OrderService) OrderStatus(ctx context.Context, orderID string, callerID int64, admin bool) (OrderState, error) {
	st, ok, err := s.d.Cache.OrderState(ctx, orderID)
	if err != nil {
		s.d.Logger.Warn("read order state cache", zap.String("order_id", orderID), zap.Error(err))
	}
	if !ok {
		t, err := s.d.Store.TransactionByOrderID(ctx, orderID)
		if err != nil {
			return OrderState{}, err
		}
		st = stateOf(t)
		if err := s.d.Cache.SetOrderState(ctx, orderID, st); err != nil {
			s.d.Logger.Warn("cache order state", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	if !admin && st.StudentID != callerID {
		return OrderState{}, ErrForbidden
	}
	return st, nil
}

// CancelTransaction deletes a transaction. Without force only pending transactions can be
// deleted. A forced delete of a settled transaction leaves its enrollments in place with no
// owning transaction.
func (s *OrderService) CancelTransaction(ctx context.Context, id string, force bool) (Transaction, error) {
	if !isUUID(id) {
		return Transaction{}, ErrTransactionNotFound
	}
	t, err := s.d.Store.DeleteTransaction(ctx, id, force)
	if err != nil {
		return Transaction{}, err
	}
	if t.PaymentStatus != StatusPending {
		s.d.Logger.Warn("settled transaction deleted, enrollments orphaned",
			zap.String("transaction_id", t.ID),
			zap.String("order_id", t.OrderID),
			zap.String("status", string(t.PaymentStatus)),
		)
	}
	if err := s.d.Cache.ForgetOrder(ctx, t.OrderID); err != nil {
		s.d.Logger.Warn("forget order state", zap.String("order_id", t.OrderID), zap.Error(err))
	}
	return t, nil
}

// Transaction looks a transaction up by id.
func (s *OrderService) Transaction(ctx context.Context, id string) (Transaction, error) {
	if !isUUID(id) {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.d.Store.TransactionByID(ctx, id)
}

// TransactionByOrder looks a transaction up by gateway order id.
func (s *OrderService) TransactionByOrder(ctx context.Context, orderID string) (Transaction, error) {
	return s.d.Store.TransactionByOrderID(ctx, orderID)
}
