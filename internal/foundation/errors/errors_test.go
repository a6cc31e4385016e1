package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "config.yaml").
			Build()

		assert.Equal(t, CategoryConfig, err.Category())
		assert.Equal(t, SeverityFatal, err.Severity())
		assert.Equal(t, "invalid configuration", err.UserMessage())

		file, exists := err.Context().GetString("file")
		assert.True(t, exists)
		assert.Equal(t, "config.yaml", file)
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		inner := FetchError("clone failed").WithCause(stderrors.New("repository not found")).Build()
		wrapped := fmt.Errorf("pipeline: %w", inner)

		ce, ok := AsClassified(wrapped)
		require.True(t, ok)
		assert.Same(t, inner, ce)
		assert.True(t, HasCategory(wrapped, CategoryGit))
		assert.False(t, HasCategory(wrapped, CategoryExecution))
		assert.Equal(t, "clone failed: repository not found", inner.UserMessage())
	})

	t.Run("Unclassified errors", func(t *testing.T) {
		err := stderrors.New("plain")
		_, ok := AsClassified(err)
		assert.False(t, ok)
		assert.False(t, HasCategory(err, CategoryInternal))
	})

	t.Run("Retry hints", func(t *testing.T) {
		assert.True(t, StorageError("insert").Build().CanRetry())
		assert.False(t, ValidationError("bad").Build().CanRetry())
		assert.False(t, ExecutionError("cell").Build().CanRetry())
	})

	t.Run("Render errors are warnings", func(t *testing.T) {
		err := RenderError("html export failed").Build()
		assert.Equal(t, SeverityWarning, err.Severity())
		assert.NotEqual(t, SeverityFatal, err.Severity())
	})
}

func TestHTTPErrorAdapter(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", ValidationError("bad body").Build(), http.StatusBadRequest},
		{"auth", AuthError("unauthorized").Build(), http.StatusUnauthorized},
		{"not found", NotFoundError("missing").Build(), http.StatusNotFound},
		{"execution", ExecutionError("cell failed").Build(), http.StatusInternalServerError},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, adapter.StatusCodeFor(tc.err))
		})
	}

	t.Run("writes status and message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/run-notebook", nil)
		adapter.WriteErrorStatus(rec, req, http.StatusInternalServerError,
			ExecutionError("Execution failed").WithCause(stderrors.New("NameError: x")).Build())

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var body HTTPErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "error", body.Status)
		assert.Equal(t, "Execution failed: NameError: x", body.Message)
		assert.Equal(t, string(CategoryExecution), body.Code)
	})
}

func TestCLIErrorAdapterExitCodes(t *testing.T) {
	a := NewCLIErrorAdapter(false, nil)
	assert.Equal(t, 0, a.ExitCodeFor(nil))
	assert.Equal(t, 8, a.ExitCodeFor(FetchError("x").Build()))
	assert.Equal(t, 11, a.ExitCodeFor(ExecutionError("x").Build()))
	assert.Equal(t, 1, a.ExitCodeFor(stderrors.New("x")))
	assert.Equal(t, "Error: x: y", a.FormatError(FetchError("x").WithCause(stderrors.New("y")).Build()))
}
