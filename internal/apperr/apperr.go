package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeGateway             Code = "GATEWAY_ERROR"
	CodeAmountMismatch      Code = "AMOUNT_MISMATCH"
	CodeConflict            Code = "CONFLICT"
	CodeDecryption          Code = "DECRYPTION_ERROR"
	CodeSignature           Code = "SIGNATURE_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeDailyLimitExhausted Code = "DAILY_LIMIT_EXHAUSTED"
	CodeNothingToWithdraw   Code = "NOTHING_TO_WITHDRAW"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeAlreadyPaid         Code = "ALREADY_PAID"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInternal            Code = "INTERNAL"
)

// Error is the business error surfaced to callers. Two errors are equal for
// errors.Is when their codes match, so the package level values below work as
// sentinels for any wrapped instance.
type Error struct {
	Code    Code
	Message string
	Err     error
}

var (
	ErrValidation          = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrGateway             = &Error{Code: CodeGateway, Message: "payment gateway rejected the request"}
	ErrAmountMismatch      = &Error{Code: CodeAmountMismatch, Message: "paid amount does not match order amount"}
	ErrConflict            = &Error{Code: CodeConflict, Message: "conflicting request"}
	ErrDecryption          = &Error{Code: CodeDecryption, Message: "cannot decrypt callback resource"}
	ErrSignature           = &Error{Code: CodeSignature, Message: "invalid signature"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrDailyLimitExhausted = &Error{Code: CodeDailyLimitExhausted, Message: "daily withdrawal limit reached, try again tomorrow"}
	ErrNothingToWithdraw   = &Error{Code: CodeNothingToWithdraw, Message: "no commission available to withdraw"}
	ErrInvalidState        = &Error{Code: CodeInvalidState, Message: "operation not allowed in current state"}
	ErrAlreadyPaid         = &Error{Code: CodeAlreadyPaid, Message: "order already paid"}
	ErrUnauthorized        = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeInternal
}

// MessageOf returns a message that is safe to show to the user.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return "internal error"
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeSignature, CodeDecryption:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidState, CodeAlreadyPaid:
		return http.StatusConflict
	case CodeAmountMismatch, CodeDailyLimitExhausted, CodeNothingToWithdraw:
		return http.StatusUnprocessableEntity
	case CodeGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
