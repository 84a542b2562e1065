package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers
// and echoed back over the battle stream as an error acknowledgment.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code, so a sentinel still matches after
// WithInternal produced a copy.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return target == nil
	}

	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrIdentityMismatch = &AppError{
		Code:       "IDENTITY_MISMATCH",
		Message:    "Frame identity does not match the authenticated connection",
		StatusCode: http.StatusForbidden,
	}

	ErrUnknownMessageType = &AppError{
		Code:       "UNKNOWN_MESSAGE_TYPE",
		Message:    "Unrecognised message type",
		StatusCode: http.StatusBadRequest,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBattleEnded = &AppError{
		Code:       "BATTLE_ALREADY_ENDED",
		Message:    "Battle has already ended",
		StatusCode: http.StatusConflict,
	}

	ErrEntitlementDenied = &AppError{
		Code:       "ENTITLEMENT_DENIED",
		Message:    "Not entitled to join this battle",
		StatusCode: http.StatusForbidden,
	}

	ErrBattleExists = &AppError{
		Code:       "BATTLE_EXISTS",
		Message:    "Battle already exists",
		StatusCode: http.StatusConflict,
	}

	ErrBattleFull = &AppError{
		Code:       "BATTLE_FULL",
		Message:    "Battle has reached its participant limit",
		StatusCode: http.StatusConflict,
	}

	ErrProgressJump = &AppError{
		Code:       "PROGRESS_JUMP_REJECTED",
		Message:    "Submission skips ahead of the current question",
		StatusCode: http.StatusConflict,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
