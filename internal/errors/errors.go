package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryInput         ErrorCategory = "input"
	CategoryScorer        ErrorCategory = "scorer"
	CategoryPipeline      ErrorCategory = "pipeline"
	CategoryOverload      ErrorCategory = "overload"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryInternal      ErrorCategory = "internal"
	CategoryConfiguration ErrorCategory = "configuration"
)

// AppError wraps an errbuilder error with category and HTTP mapping
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	StackTrace string        `json:"stack_trace,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.ErrBuilder.ErrCode() {
	case errbuilder.CodeInvalidArgument:
		codeStr = "VALIDATION_ERROR"
	case errbuilder.CodeNotFound:
		codeStr = "NOT_FOUND"
	case errbuilder.CodeUnavailable:
		codeStr = "PIPELINE_ERROR"
	case errbuilder.CodeDeadlineExceeded:
		codeStr = "TIMEOUT_ERROR"
	case errbuilder.CodeResourceExhausted:
		codeStr = "OVERLOADED"
	case errbuilder.CodeInternal:
		codeStr = "INTERNAL_ERROR"
	case errbuilder.CodeFailedPrecondition:
		codeStr = "CONFIGURATION_ERROR"
	}

	if cause := e.ErrBuilder.Unwrap(); cause != nil {
		return fmt.Sprintf("[%s] %s: %v", codeStr, e.ErrBuilder.Msg, cause)
	}
	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

func withDetail(builder *errbuilder.ErrBuilder, key, value string) *errbuilder.ErrBuilder {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set(key, errors.New(value))
	return builder.WithDetails(errbuilder.NewErrDetails(errorMap))
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if cause != nil {
		builder = withDetail(builder, "validation_details", cause.Error())
	}

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewNotFoundError creates an error for an absent resource
func NewNotFoundError(resource string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("%s not found", resource))

	return NewAppError(builder, CategoryNotFound, http.StatusNotFound)
}

// NewScorerError wraps a failure of a single factor scorer
func NewScorerError(factor string, cause error) *AppError {
	builder := withDetail(errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("factor %s failed", factor)), "factor", factor)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryScorer, http.StatusInternalServerError)
}

// NewPipelineError wraps a fetch or persist failure during a recompute
func NewPipelineError(stage string, cause error) *AppError {
	builder := withDetail(errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("%s failed", stage)), "stage", stage)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryPipeline, http.StatusBadGateway)
}

// NewOverloadError reports that the event queue is full
func NewOverloadError(message string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg(message)

	return NewAppError(builder, CategoryOverload, http.StatusTooManyRequests)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	builder := withDetail(errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("Internal server error"), "internal_details", message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryInternal, http.StatusInternalServerError)

	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(message string, cause error) *AppError {
	builder := withDetail(errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("Configuration error"), "config_details", message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryConfiguration, http.StatusInternalServerError)
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorHandler is a Gin middleware that renders the last handler error
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := ToAppError(c.Errors.Last().Err)
			LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":    appErr.ErrBuilder.Msg,
				"category": appErr.Category,
			})
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(fmt.Sprintf("panic recovered: %v", err), fmt.Errorf("%v", err))
		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
			"error":    appErr.ErrBuilder.Msg,
			"category": appErr.Category,
		})
	})
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("Request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Request deadline exceeded", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// LogError logs an error with a level chosen by category
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)

	switch err.Category {
	case CategoryValidation, CategoryNotFound, CategoryInput, CategoryOverload:
		logEntry.Warn(err.ErrBuilder.Msg)
	case CategoryPipeline, CategoryTimeout:
		logEntry.Info(err.ErrBuilder.Msg, "cause", err.ErrBuilder.Unwrap())
	default:
		logEntry.Error(err.ErrBuilder.Msg, "cause", err.ErrBuilder.Unwrap())
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// IsRetryableError reports whether the event processor should retry err.
// Only pipeline and timeout failures are transient; cancellation is not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	switch ToAppError(err).Category {
	case CategoryPipeline, CategoryTimeout, CategoryInternal:
		return true
	default:
		return false
	}
}

// IsCategory reports whether err is an AppError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Category == category
}

// SafeClose closes a resource and logs any error
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}
