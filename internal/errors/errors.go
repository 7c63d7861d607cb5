package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType is the machine-readable outcome carried by every business failure.
type ErrorType string

const (
	TypeNone            ErrorType = "None"
	TypeNotFound        ErrorType = "NotFound"
	TypeForbidden       ErrorType = "Forbidden"
	TypeValidationError ErrorType = "ValidationError"
	TypeGeneralError    ErrorType = "GeneralError"
	// TypeUnauthorized covers a missing or bad bearer and an account deleted under a live token.
	TypeUnauthorized ErrorType = "Unauthorized"
)

// Common error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"

	// Authentication specific
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeInvalidRefreshToken    = "INVALID_REFRESH_TOKEN"
	CodeFailedRefreshTokenSave = "FAILED_REFRESH_TOKEN_SAVE"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeEmailExists            = "EMAIL_EXISTS"

	// Domain specific
	CodeEventFull     = "EVENT_FULL"
	CodeAlreadyJoined = "ALREADY_SIGNED_UP"
	CodeEventEnded    = "EVENT_ENDED"

	CodeInternalError = "INTERNAL_ERROR"
	CodeStorageError  = "STORAGE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Messages   []string  `json:"messages,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithMessages attaches additional human-readable messages (one per failed rule).
func (e *AppError) WithMessages(msgs ...string) *AppError {
	e.Messages = append(e.Messages, msgs...)
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Messages  []string  `json:"messages"`
	RequestID string    `json:"request_id,omitempty"`
}

// New creates a new AppError
func New(typ ErrorType, code, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       typ,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// As returns the *AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// TypeOf reports the outcome type of err. A nil error is TypeNone and any
// error outside the taxonomy is TypeGeneralError.
func TypeOf(err error) ErrorType {
	if err == nil {
		return TypeNone
	}
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	return TypeGeneralError
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(TypeValidationError, CodeInvalidRequest, message, http.StatusBadRequest)
}

func ValidationError(message string) *AppError {
	return New(TypeValidationError, CodeValidationError, message, http.StatusBadRequest)
}

// ValidationErrors builds a single failure listing every broken rule.
func ValidationErrors(msgs []string) *AppError {
	msg := "validation failed"
	if len(msgs) == 1 {
		msg = msgs[0]
	}
	return ValidationError(msg).WithMessages(msgs...)
}

func Unauthorized(message string) *AppError {
	return New(TypeUnauthorized, CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(message string) *AppError {
	return New(TypeUnauthorized, CodeInvalidToken, message, http.StatusUnauthorized)
}

// InvalidCredentials is returned for an unknown email and for a wrong password alike.
func InvalidCredentials() *AppError {
	return New(TypeValidationError, CodeInvalidCredentials, "Invalid email or password.", http.StatusBadRequest)
}

// InvalidRefreshToken covers unknown, expired and already rotated tokens.
func InvalidRefreshToken() *AppError {
	return New(TypeValidationError, CodeInvalidRefreshToken, "Invalid refresh token.", http.StatusBadRequest)
}

func FailedRefreshTokenSave() *AppError {
	return New(TypeGeneralError, CodeFailedRefreshTokenSave, "Failed to save refresh token.", http.StatusBadRequest)
}

func Forbidden(message string) *AppError {
	return New(TypeForbidden, CodeForbidden, message, http.StatusForbidden)
}

func NotFound(resource string) *AppError {
	return New(TypeNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func EmailExists() *AppError {
	return New(TypeValidationError, CodeEmailExists, "Email is already registered.", http.StatusBadRequest)
}

func EventFull() *AppError {
	return New(TypeValidationError, CodeEventFull, "Event is full.", http.StatusBadRequest)
}

func AlreadySignedUp() *AppError {
	return New(TypeValidationError, CodeAlreadyJoined, "Already signed up for this event.", http.StatusBadRequest)
}

func EventEnded() *AppError {
	return New(TypeValidationError, CodeEventEnded, "Event has already ended.", http.StatusBadRequest)
}

func RateLimited() *AppError {
	return New(TypeGeneralError, CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(TypeGeneralError, CodeInternalError, message, http.StatusInternalServerError)
}

func StorageError(message string) *AppError {
	return New(TypeGeneralError, CodeStorageError, message, http.StatusBadGateway)
}

// WriteError writes an error response to the HTTP response writer. Errors
// outside the taxonomy are reported as a generic 500 without their cause.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr, ok := As(err)
	if !ok {
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	messages := appErr.Messages
	if len(messages) == 0 {
		messages = []string{appErr.Message}
	}

	resp := ErrorResponse{
		Error: ErrorBody{
			Type:      appErr.Type,
			Code:      appErr.Code,
			Message:   appErr.Message,
			Messages:  messages,
			RequestID: requestID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IsServerError returns true for failures that should be logged at error level.
func IsServerError(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return err != nil
	}
	return appErr.HTTPStatus >= http.StatusInternalServerError
}
