package enrollment

import "errors"

var (
	ErrAlreadyEnrolled     = errors.New("you are already enrolled in this course")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("missing payment details")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionSettled  = errors.New("transaction already settled")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrForbidden           = errors.New("permission denied")
)

// ValidationError reports the first invalid field of a request.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string { return e.Message }
