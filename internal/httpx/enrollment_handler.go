package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
)

const (
	maxWebhookBody = 1 << 20
	maxOrderBody   = 64 << 10
)

type EnrollmentHandler struct {
	Orders  *enrollment.OrderService
	Webhook *enrollment.WebhookHandler
	Auth    *Authenticator
	Log     *zap.Logger
}

type createOrderReq struct {
	CourseID string `json:"courseId"`
	BatchID  string `json:"batchId"`
	Amount   int64  `json:"amount"`
	CouponID string `json:"couponId"`
}

func (h *EnrollmentHandler) Register(r chi.Router) {
	r.Route("/api/v1/enrollment", func(r chi.Router) {
		r.Post("/webhook", h.webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Require(RoleStudent))
			r.Post("/create-order", h.createOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Require())
			r.Get("/check/{courseId}", h.checkEnrolled)
			r.Get("/courses", h.enrolledCourses)
			r.Get("/batches", h.enrolledBatches)
			r.Get("/batches/{id}", h.batchEnrollment)
			r.Get("/orders/{orderId}", h.orderStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Require(RoleAdmin))
			r.Delete("/transactions/{id}", h.deleteTransaction)
		})
	})
}

func (h *EnrollmentHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req createOrderReq
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxOrderBody), &req); err != nil {
		respondError(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	res, err := h.Orders.CreateOrder(ctx, enrollment.OrderRequest{
		StudentID: p.ID,
		CourseID:  req.CourseID,
		BatchID:   req.BatchID,
		Amount:    req.Amount,
		CouponID:  req.CouponID,
	})
	if err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	respond(w, http.StatusOK, "Success", res)
}

func (h *EnrollmentHandler) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, envelope{
				StatusCode: http.StatusRequestEntityTooLarge,
				Message:    "payload too large",
			})
			return
		}
		respondError(w, r, h.Log, enrollment.ErrMalformedPayload)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Webhook.HandleEvent(ctx, raw, r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	if err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	respond(w, http.StatusOK, res.Outcome.Message(), res)
}

func (h *EnrollmentHandler) checkEnrolled(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	courseID := strings.TrimSpace(chi.URLParam(r, "courseId"))
	if courseID == "" {
		respondError(w, r, h.Log, enrollment.NewValidationError("courseId", "courseId is a required field"))
		return
	}

	ok, err := h.Orders.IsEnrolled(r.Context(), p.ID, courseID)
	if err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	respond(w, http.StatusOK, "Success", map[string]bool{"isEnrolled": ok})
}

func (h *EnrollmentHandler) enrolledCourses(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	out, err := h.Orders.EnrolledCourses(r.Context(), p.ID)
	if err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	if out == nil {
		out = []enrollment.CourseEnrollment{}
	}
	respond(w, http.StatusOK, "Success", out)
}

func (h *EnrollmentHandler) enrolledBatches(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	out, err := h.Orders.EnrolledBatches(r.Context(), p.ID)
	if err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	if out == nil {
		out = []enrollment.BatchEnrollment{}
	}
	respond(w, http.StatusOK, "Success", out)
}

func (h *EnrollmentHandler) batchEnrollment(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	be, err := h.Orders.BatchEnrollment(r.Context(), chi.URLParam(r, "id"), p.ID, p.IsAdmin())
	if err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	respond(w, http.StatusOK, "Success", be)
}

func (h *EnrollmentHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Orders.OrderStatus(ctx, chi.URLParam(r, "orderId"), p.ID, p.IsAdmin())
	if err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	respond(w, http.StatusOK, "Success", st)
}

func (h *EnrollmentHandler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Orders.CancelTransaction(r.Context(), chi.URLParam(r, "id"), false); err != nil {
		respondError(w, r, h.Log, err)
		return
	}
	respond(w, http.StatusOK, "Transaction deleted successfully", nil)
}

// decodeJSON turns decoding failures into validation errors that name the offending field.
func decodeJSON(body io.Reader, out interface{}) error {
	err := json.NewDecoder(body).Decode(out)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return enrollment.NewValidationError(typeErr.Field, typeErr.Field+" must be "+expected(typeErr))
	}
	return enrollment.NewValidationError("body", "request body must be valid JSON")
}

func expected(e *json.UnmarshalTypeError) string {
	switch e.Type.Kind().String() {
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		if strings.HasPrefix(e.Value, "number") {
			return "an integer"
		}
		return "a number"
	case "string":
		return "a string"
	default:
		return "a " + e.Type.String()
	}
}
