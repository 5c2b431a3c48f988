package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	AccountNotFound     ErrorCode = "account_not_found"
	CMSUserNotFound     ErrorCode = "cms_user_not_found"
	ConsumableNotFound  ErrorCode = "consumable_not_found"
	PurchasableNotFound ErrorCode = "purchasable_not_found"
	EntryNotFound       ErrorCode = "entry_not_found"
	EventNotFound       ErrorCode = "event_not_found"
	InvalidAmount       ErrorCode = "invalid_amount"
	InsufficientBalance ErrorCode = "insufficient_balance"
	ConcurrencyConflict ErrorCode = "concurrency_conflict"
	DuplicateMobile     ErrorCode = "duplicate_mobile"
	DuplicateEmail      ErrorCode = "duplicate_email"
	ValidationFailed    ErrorCode = "validation_failed"
	InternalError       ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Details: details}
}

// HTTPStatus maps an error code to the status the dashboard expects
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case AccountNotFound, CMSUserNotFound, ConsumableNotFound, PurchasableNotFound, EntryNotFound, EventNotFound:
		return http.StatusNotFound
	case InvalidAmount, ValidationFailed, InsufficientBalance:
		return http.StatusBadRequest
	case DuplicateMobile, DuplicateEmail, ConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrAccountNotFound     = NewAppError(AccountNotFound, "account not found")
	ErrCMSUserNotFound     = NewAppError(CMSUserNotFound, "user not found")
	ErrConsumableNotFound  = NewAppError(ConsumableNotFound, "consumable not found")
	ErrPurchasableNotFound = NewAppError(PurchasableNotFound, "purchasable not found")
	ErrEntryNotFound       = NewAppError(EntryNotFound, "ledger entry not found")
	ErrEventNotFound       = NewAppError(EventNotFound, "event not found")
	ErrInvalidAmount       = NewAppError(InvalidAmount, "amount must be a non-zero decimal")
	ErrInsufficientBalance = NewAppError(InsufficientBalance, "insufficient balance")
	ErrConcurrencyConflict = NewAppError(ConcurrencyConflict, "concurrent balance update, retry the request")
	ErrDuplicateMobile     = NewAppError(DuplicateMobile, "mobile number already registered")
	ErrDuplicateEmail      = NewAppError(DuplicateEmail, "email already registered")
)
