package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsMapCategoryAndStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
		code     string
	}{
		{"validation", NewValidationError("bad event", fmt.Errorf("entity_id is required")), CategoryValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", NewNotFoundError("nft:abc"), CategoryNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"scorer", NewScorerError("originality", fmt.Errorf("boom")), CategoryScorer, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"pipeline", NewPipelineError("fetch latest data", fmt.Errorf("timeout")), CategoryPipeline, http.StatusBadGateway, "PIPELINE_ERROR"},
		{"overload", NewOverloadError("queue full"), CategoryOverload, http.StatusTooManyRequests, "OVERLOADED"},
		{"timeout", NewTimeoutError("slow", nil), CategoryTimeout, http.StatusGatewayTimeout, "TIMEOUT_ERROR"},
		{"internal", NewInternalError("db exploded", nil), CategoryInternal, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"configuration", NewConfigurationError("missing profile", nil), CategoryConfiguration, http.StatusInternalServerError, "CONFIGURATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Contains(t, tt.err.Error(), "["+tt.code+"]")
			assert.True(t, IsCategory(tt.err, tt.category))
		})
	}
}

func TestPipelineErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewPipelineError("persist score", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "persist score failed: connection refused")

	wrapped := fmt.Errorf("entity %s: %w", "nft:1", err)
	assert.True(t, IsCategory(wrapped, CategoryPipeline))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pipeline", NewPipelineError("fetch", nil), true},
		{"timeout", NewTimeoutError("slow", nil), true},
		{"wrapped pipeline", fmt.Errorf("attempt 2: %w", NewPipelineError("fetch", nil)), true},
		{"plain error", errors.New("unknown"), true},
		{"validation", NewValidationError("bad", nil), false},
		{"overload", NewOverloadError("full"), false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestToAppError(t *testing.T) {
	assert.Nil(t, ToAppError(nil))

	original := NewOverloadError("queue full")
	assert.Same(t, original, ToAppError(fmt.Errorf("submit: %w", original)))

	assert.Equal(t, CategoryTimeout, ToAppError(context.DeadlineExceeded).Category)
	assert.Equal(t, CategoryInternal, ToAppError(errors.New("mystery")).Category)
}

func TestErrorHandlerRendersCategory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(), RecoveryHandler())
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(NewNotFoundError("nft:abc"))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("scorer exploded")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"not_found"`)
	assert.Contains(t, w.Body.String(), "nft:abc not found")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"internal"`)
	assert.NotContains(t, w.Body.String(), "scorer exploded")
}

type closer struct {
	closed bool
	err    error
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

func TestSafeClose(t *testing.T) {
	c := &closer{err: errors.New("already closed")}
	SafeClose(c, "test")
	assert.True(t, c.closed)

	SafeClose(nil, "nil")
}
