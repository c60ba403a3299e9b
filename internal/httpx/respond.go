package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
)

var (
	errUnauthorized = errors.New("authorization token missing")
	errInvalidToken = errors.New("invalid or expired token")
	errAccessDenied = errors.New("access denied")
)

type envelope struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, code int, msg string, data interface{}) {
	writeJSON(w, code, envelope{Success: true, StatusCode: code, Message: msg, Data: data})
}

// statusFor is the single mapping from domain errors to HTTP status and client message.
func statusFor(err error) (int, string) {
	var verr *enrollment.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, enrollment.ErrAlreadyEnrolled):
		return http.StatusBadRequest, enrollment.ErrAlreadyEnrolled.Error()
	case errors.Is(err, enrollment.ErrInvalidSignature):
		return http.StatusBadRequest, enrollment.ErrInvalidSignature.Error()
	case errors.Is(err, enrollment.ErrMalformedPayload):
		return http.StatusBadRequest, enrollment.ErrMalformedPayload.Error()
	case errors.Is(err, enrollment.ErrTransactionNotFound):
		return http.StatusNotFound, enrollment.ErrTransactionNotFound.Error()
	case errors.Is(err, enrollment.ErrEnrollmentNotFound):
		return http.StatusNotFound, enrollment.ErrEnrollmentNotFound.Error()
	case errors.Is(err, enrollment.ErrTransactionSettled):
		return http.StatusConflict, enrollment.ErrTransactionSettled.Error()
	case errors.Is(err, errUnauthorized), errors.Is(err, errInvalidToken):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, errAccessDenied), errors.Is(err, enrollment.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, enrollment.ErrGatewayUnavailable):
		return http.StatusBadGateway, enrollment.ErrGatewayUnavailable.Error()
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	code, msg := statusFor(err)
	if code >= 500 {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, code, envelope{Success: false, StatusCode: code, Message: msg})
}
