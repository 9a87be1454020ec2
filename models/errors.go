package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures across service boundaries. Handlers map
// codes to HTTP statuses; services never format HTTP output themselves.
type ErrorCode string

const (
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeForbidden  ErrorCode = "FORBIDDEN"
	CodeConflict   ErrorCode = "CONFLICT"
	CodeValidation ErrorCode = "VALIDATION"
	CodeEmbedding  ErrorCode = "EMBEDDING_ERROR"
	CodeLLM        ErrorCode = "LLM_ERROR"
	CodeStorage    ErrorCode = "STORAGE_ERROR"
	CodeDB         ErrorCode = "DB_ERROR"
	CodeTimeout    ErrorCode = "TIMEOUT"
	CodeInternal   ErrorCode = "INTERNAL"
)

// AppError is the single error value services return across boundaries.
// Resource identifies the offending entity when there is one.
type AppError struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Resource string    `json:"resource,omitempty"`
	Err      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Resource)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two AppErrors by code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func NewNotFound(resource string) *AppError {
	return &AppError{Code: CodeNotFound, Message: "resource not found", Resource: resource}
}

func NewForbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

func NewConflict(message, resource string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, Resource: resource}
}

func NewValidation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewEmbeddingError(message string, err error) *AppError {
	return &AppError{Code: CodeEmbedding, Message: message, Err: err}
}

func NewLLMError(message string, err error) *AppError {
	return &AppError{Code: CodeLLM, Message: message, Err: err}
}

func NewStorageError(message string, err error) *AppError {
	return &AppError{Code: CodeStorage, Message: message, Err: err}
}

func NewDBError(message string, err error) *AppError {
	return &AppError{Code: CodeDB, Message: message, Err: err}
}

func NewTimeout(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

func NewInternal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// CodeOf extracts the taxonomy code from any error chain. Unclassified
// errors report INTERNAL.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// AsAppError returns the AppError in the chain, wrapping unclassified
// errors as INTERNAL so callers always get a typed value.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err.Error(), err)
}
